package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type fakeReplier struct {
	mu  sync.Mutex
	out []kit.Notification
}

func (f *fakeReplier) Notify(_ context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, n)
	return nil
}

func (f *fakeReplier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s []string
	for _, n := range f.out {
		s = append(s, n.Text)
	}
	return s
}

type fakeAdapter struct {
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.menu = cmds
	return nil
}

func msg(chatID int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ChatID: chatID, FromID: chatID, Text: text}}
}

func TestHandleParsesArgs(t *testing.T) {
	rep := &fakeReplier{}
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, rep, Options{})

	var got *Request
	m.SetRegistry([]Command{{Name: "add", Handle: func(ctx context.Context, req *Request) error {
		got = req
		return req.Reply(ctx, "ok")
	}}})

	require.NoError(t, m.Handle(context.Background(), msg(7, `/add@remind_bot 25.12  buy "milk and" eggs`)))
	require.NotNil(t, got)
	assert.Equal(t, "add", got.Command)
	assert.Equal(t, []string{"25.12", "buy", "milk and", "eggs"}, got.Args)
	assert.Equal(t, `buy "milk and" eggs`, got.Rest(1))
	assert.Equal(t, int64(7), got.Chat.ChatID)
	assert.NotEmpty(t, got.ReqID)
	assert.Equal(t, []string{"ok"}, rep.texts())
}

func TestAliasAndCase(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, &fakeReplier{}, Options{})
	var n int
	m.SetRegistry([]Command{{Name: "timer_check", Aliases: []string{"tc"}, Handle: func(context.Context, *Request) error {
		n++
		return nil
	}}})
	require.NoError(t, m.Handle(context.Background(), msg(1, "/tc")))
	require.NoError(t, m.Handle(context.Background(), msg(1, "/TIMER_CHECK")))
	assert.Equal(t, 2, n)
}

func TestUnknownCommandRepliesInPrivateOnly(t *testing.T) {
	rep := &fakeReplier{}
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, rep, Options{Unknown: "Unknown command. Try /help"})
	m.SetRegistry(nil)

	require.NoError(t, m.Handle(context.Background(), msg(1, "/nope")))
	group := msg(2, "/nope")
	group.Message.IsGroup = true
	require.NoError(t, m.Handle(context.Background(), group))
	require.NoError(t, m.Handle(context.Background(), msg(1, "not a command")))

	assert.Equal(t, []string{"Unknown command. Try /help"}, rep.texts())
}

func TestPanicIsRecovered(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, &fakeReplier{}, Options{})
	m.SetRegistry([]Command{{Name: "boom", Handle: func(context.Context, *Request) error { panic("bad") }}})
	err := m.Handle(context.Background(), msg(1, "/boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestTimeoutApplied(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, &fakeReplier{}, Options{})
	m.SetRegistry([]Command{{Name: "slow", Timeout: 10 * time.Millisecond, Handle: func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}}})
	err := m.Handle(context.Background(), msg(1, "/slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAuditMiddleware(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	audit := MWAudit(func(_ context.Context, req *Request, err error, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		s := req.Command
		if err != nil {
			s += ":" + err.Error()
		}
		seen = append(seen, s)
	})
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, &fakeReplier{}, Options{Middleware: []Middleware{audit}})
	m.SetRegistry([]Command{
		{Name: "ok", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "fail", Handle: func(context.Context, *Request) error { return errors.New("nope") }},
	})
	_ = m.Handle(context.Background(), msg(1, "/ok"))
	_ = m.Handle(context.Background(), msg(1, "/fail"))
	assert.Equal(t, []string{"ok", "fail:nope"}, seen)
}

func TestHelpListsCommands(t *testing.T) {
	rep := &fakeReplier{}
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, rep, Options{})
	m.SetRegistry([]Command{
		{Name: "check", Usage: "/check <DD.MM>", Description: "notes for a date", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "secret", Hidden: true, Handle: func(context.Context, *Request) error { return nil }},
	})
	require.NoError(t, m.Handle(context.Background(), msg(1, "/help")))
	require.NoError(t, m.Handle(context.Background(), msg(1, "/help check")))

	out := rep.texts()
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "/check <DD.MM> - notes for a date")
	assert.NotContains(t, out[0], "secret")
	assert.Contains(t, out[1], "Usage: /check <DD.MM>")
}

func TestPublishMenuSkipsHidden(t *testing.T) {
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, &fakeReplier{}, Options{})
	m.SetRegistry([]Command{
		{Name: "all", Description: "all notes", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "secret", Hidden: true, Handle: func(context.Context, *Request) error { return nil }},
	})
	require.NoError(t, m.PublishMenu(context.Background()))
	assert.Equal(t, []kit.BotCommand{{Command: "all", Description: "all notes"}, {Command: "help", Description: "show this help"}}, ad.menu)
}

func TestDispatchLoopRunsQueuedCommands(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, &fakeReplier{}, Options{Workers: 2})
	var mu sync.Mutex
	var chats []int64
	m.SetRegistry([]Command{{Name: "start", Handle: func(_ context.Context, req *Request) error {
		mu.Lock()
		chats = append(chats, req.Chat.ChatID)
		mu.Unlock()
		return nil
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	updates <- msg(1, "/start")
	updates <- msg(2, "/start")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chats) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a b", []string{"a", "b"}},
		{`a "b c" d`, []string{"a", "b c", "d"}},
		{`'x y'`, []string{"x y"}},
		{`a\ b`, []string{"a b"}},
		{`""`, []string{""}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tokenizeCommandLine(tt.in), tt.in)
	}
}

func TestSplitCommand(t *testing.T) {
	w, rest, ok := splitCommand("/set_time@bot 09:00")
	require.True(t, ok)
	assert.Equal(t, "set_time", w)
	assert.Equal(t, "09:00", rest)

	_, _, ok = splitCommand("hello")
	assert.False(t, ok)
	_, _, ok = splitCommand("/")
	assert.False(t, ok)
}

func TestRest(t *testing.T) {
	r := &Request{Raw: "25.12  buy   milk"}
	assert.Equal(t, "25.12  buy   milk", r.Rest(0))
	assert.Equal(t, "buy   milk", r.Rest(1))
	assert.Equal(t, "milk", r.Rest(2))
	assert.Equal(t, "", r.Rest(3))
}
