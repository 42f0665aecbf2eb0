package router

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Hidden      bool          // not listed in help or the menu
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Replier sends command replies.
type Replier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Args are quote-aware tokens after the command word.
	Args []string
	// Raw is the text after the command word, untouched.
	Raw   string
	ReqID string
	At    time.Time

	Logger  logx.Logger
	replier Replier
}

// Reply sends text back to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.replier == nil {
		return nil
	}
	return r.replier.Notify(ctx, kit.Notification{Target: r.Chat, Text: text, Options: &kit.SendOptions{DisablePreview: true}})
}

// Rest returns Raw with the first n whitespace-separated words removed.
func (r *Request) Rest(n int) string {
	s := strings.TrimSpace(r.Raw)
	for i := 0; i < n && s != ""; i++ {
		j := strings.IndexAny(s, " \t\n\r")
		if j < 0 {
			return ""
		}
		s = strings.TrimSpace(s[j:])
	}
	return s
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	// Unknown is replied to commands that are not registered. Empty means silence.
	Unknown string
	// Middleware runs inside panic recovery and request logging.
	Middleware []Middleware
}

type CommandManager struct {
	mu       sync.RWMutex
	commands map[string]*Command // name and alias -> command
	ordered  []Command

	log     logx.Logger
	adapter kit.Adapter
	replier Replier
	opt     Options

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func(context.Context)
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, replier Replier, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 15 * time.Second
	}
	return &CommandManager{
		commands: map[string]*Command{},
		log:      log,
		adapter:  adapter,
		replier:  replier,
		opt:      opt,
		jobs:     make(chan func(context.Context), opt.QueueSize),
	}
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is panic-safe against the jobs channel being closed.
func (m *CommandManager) tryEnqueue(fn func(context.Context)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command table. A help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show this help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	table := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := normalizeName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := table[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		ordered = append(ordered, cc)
	}
	// Aliases never shadow a real command name.
	for _, c := range ordered {
		for _, a := range c.Aliases {
			a = normalizeName(a)
			if a == "" {
				continue
			}
			if _, exists := table[a]; !exists {
				table[a] = table[c.Name]
			}
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	m.mu.Lock()
	m.commands = table
	m.ordered = ordered
	m.mu.Unlock()
}

// Commands returns the registered commands sorted by name.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.ordered...)
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commands[normalizeName(word)]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// PublishMenu pushes the visible commands to adapters that support a menu.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	var menu []kit.BotCommand
	for _, c := range m.Commands() {
		if c.Hidden {
			continue
		}
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					job(c)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

// Route parses one update and queues its command for a worker.
func (m *CommandManager) Route(ctx context.Context, up kit.Update) {
	req, cmd, ok := m.prepare(ctx, up)
	if !ok {
		return
	}
	final := m.chain(cmd)
	if !m.tryEnqueue(func(c context.Context) { _ = final(c, req) }) {
		m.log.Warn("command queue full", logx.String("cmd", cmd.Name), logx.Int64("chat_id", req.Chat.ChatID))
		_ = req.Reply(ctx, "Busy, try again in a moment.")
	}
}

// Handle runs the command for up synchronously on the caller's goroutine.
func (m *CommandManager) Handle(ctx context.Context, up kit.Update) error {
	req, cmd, ok := m.prepare(ctx, up)
	if !ok {
		return nil
	}
	return m.chain(cmd)(ctx, req)
}

func (m *CommandManager) prepare(ctx context.Context, up kit.Update) (*Request, Command, bool) {
	msg := up.Message
	if msg == nil {
		return nil, Command{}, false
	}
	word, raw, ok := splitCommand(msg.Text)
	if !ok {
		return nil, Command{}, false
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID}
	cmd, found := m.lookup(word)
	if !found {
		if m.opt.Unknown != "" && !msg.IsGroup && m.replier != nil {
			_ = m.replier.Notify(ctx, kit.Notification{Target: chat, Text: m.opt.Unknown})
		}
		return nil, Command{}, false
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    tokenizeCommandLine(raw),
		Raw:     raw,
		ReqID:   rid,
		At:      time.Now(),
		replier: m.replier,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	return req, cmd, true
}

func (m *CommandManager) chain(cmd Command) HandlerFunc {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	mws := []Middleware{MWPanicRecover(m.log), MWRequestLog(m.log)}
	mws = append(mws, m.opt.Middleware...)
	mws = append(mws, MWTimeout(timeout))
	return Chain(cmd.Handle, mws...)
}

// splitCommand extracts the command word (without "/" and "@bot") and the rest of the line.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, tail, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		tail = head[i:] + " " + tail
		head = head[:i]
	}
	word = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(tail), true
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}

func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}
