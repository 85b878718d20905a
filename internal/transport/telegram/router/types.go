package router

import (
	"context"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	// Workers is the number of per-user shards. Updates from one user always
	// land on the same shard and are handled in arrival order.
	Workers int
	// QueueSize bounds each shard's backlog.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

type Command struct {
	// Name is the command word without the leading slash, e.g. "setrem".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Username string

	// Command is the canonical command name, empty for plain text. Button
	// presses use "scope:action".
	Command string
	Args    []string
	// Callback is set for inline button presses; Args then holds the payload.
	Callback *kit.Callback
	// Text is the whole trimmed message.
	Text  string
	ReqID string

	Adapter kit.Adapter
	Logger  logx.Logger

	answered bool
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// Answer acknowledges a button press. Only the first call reaches Telegram;
// the router answers silently for handlers that never call it.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Callback == nil || r.answered {
		return nil
	}
	r.answered = true
	return r.Adapter.AnswerCallback(ctx, r.Callback.ID, text)
}

// Edit rewrites the message carrying the pressed button.
func (r *Request) Edit(ctx context.Context, text string, opt *kit.SendOptions) error {
	if r.Callback == nil || r.Callback.MessageID == 0 {
		return r.Reply(ctx, text, opt)
	}
	ref := kit.MessageRef{ChatID: r.Chat.ChatID, ThreadID: r.Chat.ThreadID, MessageID: r.Callback.MessageID}
	return r.Adapter.EditText(ctx, ref, text, opt)
}
