package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	ReplyUnknownCommand = "Unknown command. Try /help"
	ReplyBusy           = "Busy, try again in a moment."
	ReplyStaleButton    = "This button is no longer active."
)

// CommandManager routes incoming updates to command handlers, to the text
// handler for messages that are not commands, and to callback handlers for
// inline button presses.
type CommandManager struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter

	mu    sync.RWMutex
	cmds  *orderedmap.OrderedMap[string, Command]
	alias map[string]string // alias -> canonical name
	text  HandlerFunc
	calls map[string]HandlerFunc // callback scope -> handler
}

func NewCommandManager(cfg Config, log logx.Logger, adapter kit.Adapter) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		cfg:     cfg.withDefaults(),
		log:     log,
		adapter: adapter,
		cmds:    orderedmap.New[string, Command](),
		alias:   map[string]string{},
		calls:   map[string]HandlerFunc{},
	}
}

// HandleCallback routes button presses whose data starts with "scope:" to h.
func (m *CommandManager) HandleCallback(scope string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.calls, scope)
		return
	}
	m.calls[scope] = h
}

// SetRegistry replaces the command set. /help is always added. text handles
// non-command messages and may be nil.
func (m *CommandManager) SetRegistry(cmds []Command, text HandlerFunc) {
	reg := orderedmap.New[string, Command]()
	alias := map[string]string{}
	all := append(append([]Command(nil), cmds...), m.helpCommand())
	for _, c := range all {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		reg.Set(name, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && a != name {
				alias[a] = name
			}
		}
	}

	m.mu.Lock()
	m.cmds = reg
	m.alias = alias
	m.text = text
	m.mu.Unlock()
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if canon, ok := m.alias[word]; ok {
		word = canon
	}
	return m.cmds.Get(word)
}

// Run consumes updates until ctx is done or updates is closed.
func (m *CommandManager) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan func(), m.cfg.Workers)
	for i := range shards {
		shards[i] = make(chan func(), m.cfg.QueueSize)
	}

	for i, jobs := range shards {
		idx := i
		sup.GoRestart("command.shard."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	m.log.Info("command dispatcher started", logx.Int("shards", len(shards)), logx.Int("shard_queue_cap", m.cfg.QueueSize))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up, shards)
		}
	}
}

// runJob keeps a shard alive if a job escapes the panic middleware.
func (m *CommandManager) runJob(shard int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("shard", shard), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) route(ctx context.Context, up kit.Update, shards []chan func()) {
	if up.Kind == kit.UpdateCallback && up.Callback != nil {
		m.routeCallback(ctx, up, shards)
		return
	}
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Text:     text,
		ReqID:    newReqID(),
		Adapter:  m.adapter,
	}

	var (
		h       HandlerFunc
		timeout time.Duration
	)
	if strings.HasPrefix(text, "/") {
		parts := tokenizeCommandLine(text)
		if len(parts) == 0 {
			return
		}
		cmd, ok := m.lookup(commandWord(parts[0]))
		if !ok {
			h = func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, ReplyUnknownCommand, nil)
			}
		} else {
			req.Command = cmd.Name
			req.Args = parts[1:]
			h, timeout = cmd.Handle, cmd.Timeout
		}
	} else {
		m.mu.RLock()
		h = m.text
		m.mu.RUnlock()
		if h == nil {
			return
		}
	}

	m.dispatch(ctx, req, h, timeout, shards)
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update, shards []chan func()) {
	cb := up.Callback
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:   cb.FromID,
		Text:     cb.Data,
		Callback: cb,
		ReqID:    newReqID(),
		Adapter:  m.adapter,
	}
	var h HandlerFunc
	scope, action, payload, err := tgui.ParseData(cb.Data)
	if err == nil {
		m.mu.RLock()
		h = m.calls[scope]
		m.mu.RUnlock()
	}
	if h == nil {
		m.log.Debug("callback without handler", logx.String("data", cb.Data), logx.Int64("from_id", cb.FromID))
		h = func(ctx context.Context, req *Request) error {
			return req.Answer(ctx, ReplyStaleButton)
		}
	} else {
		req.Command = scope + ":" + action
		if payload != "" {
			req.Args = []string{payload}
		}
	}
	// Every press gets an answer, or the client keeps spinning.
	answered := func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			_ = req.Answer(ctx, "")
			return err
		}
	}
	m.dispatch(ctx, req, Chain(h, answered), 0, shards)
}

// dispatch queues h on the sender's shard, so one user's updates run in order.
func (m *CommandManager) dispatch(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, shards []chan func()) {
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	final := Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	jobs := shards[shardFor(req.FromID, len(shards))]
	select {
	case jobs <- func() { _ = final(ctx, req) }:
	default:
		req.Logger.Warn("command shard full; request rejected")
		if req.Callback != nil {
			_ = req.Answer(ctx, ReplyBusy)
			return
		}
		_ = req.Reply(ctx, ReplyBusy, nil)
	}
}

func shardFor(userID int64, n int) int {
	if n <= 1 {
		return 0
	}
	s := userID % int64(n)
	if s < 0 {
		s = -s
	}
	return int(s)
}
