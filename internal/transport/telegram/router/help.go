package router

import (
	"context"
	"strings"
)

func (m *CommandManager) helpCommand() Command {
	return Command{
		Name:        "help",
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args), nil)
		},
	}
}

// helpText lists visible commands in registration order, or details one
// command when args names it.
func (m *CommandManager) helpText(args []string) string {
	if len(args) > 0 {
		c, ok := m.lookup(commandWord(args[0]))
		if !ok || c.Hidden {
			return ReplyUnknownCommand
		}
		var b strings.Builder
		b.WriteString("/" + c.Name)
		if c.Description != "" {
			b.WriteString(": " + c.Description)
		}
		if c.Usage != "" {
			b.WriteString("\nUsage: " + c.Usage)
		}
		if len(c.Aliases) > 0 {
			b.WriteString("\nAliases: /" + strings.Join(c.Aliases, ", /"))
		}
		return b.String()
	}

	lines := []string{"Available commands:"}
	for _, c := range m.visible() {
		line := "/" + c.Name
		if c.Description != "" {
			line += " - " + c.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m *CommandManager) visible() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, m.cmds.Len())
	for pair := m.cmds.Oldest(); pair != nil; pair = pair.Next() {
		if !pair.Value.Hidden {
			out = append(out, pair.Value)
		}
	}
	return out
}
