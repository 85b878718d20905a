// Package bot is the chat command surface: /start, /setrem, /allrem,
// /delrem and /cancel, plus routing of free text into the dialogue.
package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/dialogue"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	ReplyNoReminders = "You have no reminders set."
	ReplyDelUsage    = "Usage: /delrem <id>"
	ReplyNoDialogue  = "Nothing to cancel."
	ReplyIdleText    = "Type /setrem to set a reminder or /help to see all commands."

	// CallbackScope prefixes the data of every button these handlers create.
	CallbackScope = "rem"
	// ListPageSize is how many reminders one /allrem page shows.
	ListPageSize = 5
)

// Reminders is the part of the reminder engine the commands need.
type Reminders interface {
	List(user int64) []reminder.Reminder
	Delete(ctx context.Context, user int64, id string) bool
}

// Dialogue is the per-user conversation that collects new reminders.
type Dialogue interface {
	Start(user int64) dialogue.Reply
	Cancel(user int64) bool
	Handle(ctx context.Context, user int64, text string) (dialogue.Reply, bool)
	Active(user int64) dialogue.State
}

type Handlers struct {
	rem Reminders
	dlg Dialogue
	loc *time.Location
	log logx.Logger
}

// New builds the handlers. loc is the zone times are shown in.
func New(rem Reminders, dlg Dialogue, loc *time.Location, log logx.Logger) *Handlers {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{rem: rem, dlg: dlg, loc: loc, log: log}
}

func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Say hello", Handle: h.start},
		{Name: "setrem", Description: "Set a new reminder", Handle: h.setrem},
		{Name: "allrem", Description: "List your reminders", Handle: h.allrem},
		{Name: "delrem", Description: "Delete a reminder", Usage: "/delrem <id>", Handle: h.delrem},
		{Name: "cancel", Description: "Abandon the reminder being set up", Handle: h.cancel},
	}
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	name := req.Username
	if name == "" {
		name = "there"
	}
	return req.Reply(ctx, "Hey welcome "+name+" to the bot! Type /setrem to set a reminder.", nil)
}

func (h *Handlers) setrem(ctx context.Context, req *router.Request) error {
	return reply(ctx, req, h.dlg.Start(req.FromID))
}

func (h *Handlers) cancel(ctx context.Context, req *router.Request) error {
	if !h.dlg.Cancel(req.FromID) {
		return req.Reply(ctx, ReplyNoDialogue, nil)
	}
	return req.Reply(ctx, dialogue.ReplyCancelled, nil)
}

func (h *Handlers) allrem(ctx context.Context, req *router.Request) error {
	list := h.rem.List(req.FromID)
	if len(list) == 0 {
		return req.Reply(ctx, ReplyNoReminders, nil)
	}
	text, opt := h.listPage(list, 0)
	return req.Reply(ctx, text, opt)
}

// listPage renders one page of the listing. Lists that fit on one page get
// no keyboard.
func (h *Handlers) listPage(list []reminder.Reminder, index int) (string, *kit.SendOptions) {
	page := tgui.Paginate(list, index, ListPageSize)
	text := formatList(page.Items, h.loc)
	opt := &kit.SendOptions{ParseMode: kit.ParseModeMarkdownV2}
	if page.Count == 1 {
		return text, opt
	}
	text += "\n\n" + tgui.Esc(page.Label()).String()
	var nav []tele.Btn
	if page.HasPrev {
		nav = append(nav, tgui.Btn("« Prev", tgui.MustData(CallbackScope, "page", strconv.Itoa(page.Index-1))))
	}
	if page.HasNext {
		nav = append(nav, tgui.Btn("Next »", tgui.MustData(CallbackScope, "page", strconv.Itoa(page.Index+1))))
	}
	if rm := tgui.NewInline().Row(nav...).Markup(); rm != nil {
		opt.ReplyMarkupAdapter = rm
	}
	return text, opt
}

// Callback handles presses on buttons built with CallbackScope.
func (h *Handlers) Callback(ctx context.Context, req *router.Request) error {
	payload := ""
	if len(req.Args) > 0 {
		payload = req.Args[0]
	}
	switch strings.TrimPrefix(req.Command, CallbackScope+":") {
	case "page":
		index, err := strconv.Atoi(payload)
		if err != nil {
			return req.Answer(ctx, router.ReplyStaleButton)
		}
		list := h.rem.List(req.FromID)
		if len(list) == 0 {
			return req.Edit(ctx, ReplyNoReminders, nil)
		}
		text, opt := h.listPage(list, index)
		return req.Edit(ctx, text, opt)

	case "repeat":
		// Only the prompt that is still open may be answered by button.
		if _, open := h.dlg.Active(req.FromID).(dialogue.AwaitingRepeat); !open {
			_ = req.Edit(ctx, dialogue.PromptRepeat, nil)
			return req.Answer(ctx, router.ReplyStaleButton)
		}
		_ = req.Edit(ctx, dialogue.PromptRepeat+" "+payload, nil)
		r, _ := h.dlg.Handle(ctx, req.FromID, payload)
		return reply(ctx, req, r)
	}
	return req.Answer(ctx, router.ReplyStaleButton)
}

func (h *Handlers) delrem(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || strings.TrimSpace(req.Args[0]) == "" {
		return req.Reply(ctx, ReplyDelUsage, nil)
	}
	id := strings.TrimSpace(req.Args[0])
	md := &kit.SendOptions{ParseMode: kit.ParseModeMarkdownV2}
	if !h.rem.Delete(ctx, req.FromID, id) {
		return req.Reply(ctx, string(tgui.Esc("No reminder with ID ")+tgui.Code(id)+tgui.Esc(" found.")), md)
	}
	req.Logger.Info("reminder deleted", logx.String("id", id))
	return req.Reply(ctx, string(tgui.Esc("Reminder with ID ")+tgui.Code(id)+tgui.Esc(" deleted.")), md)
}

// Text feeds non-command messages to the user's dialogue.
func (h *Handlers) Text(ctx context.Context, req *router.Request) error {
	r, handled := h.dlg.Handle(ctx, req.FromID, req.Text)
	if !handled {
		return req.Reply(ctx, ReplyIdleText, nil)
	}
	return reply(ctx, req, r)
}

func reply(ctx context.Context, req *router.Request, r dialogue.Reply) error {
	var opt *kit.SendOptions
	if r.ParseMode != "" {
		opt = &kit.SendOptions{ParseMode: r.ParseMode}
	}
	if len(r.Choices) > 0 {
		kb := tgui.NewInline()
		btns := make([]tele.Btn, 0, len(r.Choices))
		for _, c := range r.Choices {
			btns = append(btns, tgui.Btn(strings.ToUpper(c[:1])+c[1:], tgui.MustData(CallbackScope, "repeat", c)))
		}
		if opt == nil {
			opt = &kit.SendOptions{}
		}
		opt.ReplyMarkupAdapter = kb.Row(btns...).Markup()
	}
	return req.Reply(ctx, r.Text, opt)
}

// formatList renders reminders as MarkdownV2 blocks separated by a blank line.
func formatList(list []reminder.Reminder, loc *time.Location) string {
	blocks := make([]string, 0, len(list))
	for _, r := range list {
		var b strings.Builder
		b.WriteString("*Name:* " + tgui.Esc(r.Name).String() + "\n")
		b.WriteString("*Timing:* " + tgui.Esc(r.Time.In(loc).Format(reminder.TimeLayout)).String())
		if r.Repeat.Recurring() {
			b.WriteString(" " + tgui.Esc("("+string(r.Repeat)+")").String())
		}
		b.WriteString("\n*ID:* " + tgui.Code(r.ID).String())
		if r.Fired() {
			b.WriteString("\n_fired_")
		}
		blocks = append(blocks, b.String())
	}
	return "Your reminders:\n" + strings.Join(blocks, "\n\n")
}
