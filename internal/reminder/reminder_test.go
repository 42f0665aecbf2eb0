package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/clock"
	"remindbot/internal/notes"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/logx"
)

// outbox records both command replies (Notify) and fired deliveries (Send).
type outbox struct {
	mu      sync.Mutex
	replies []string
	sent    []kit.Notification
	failing bool
}

func (o *outbox) Notify(_ context.Context, n kit.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, n.Text)
	return nil
}

func (o *outbox) Send(_ context.Context, n kit.Notification) (kit.MessageRef, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failing {
		return kit.MessageRef{}, errors.New("telegram down")
	}
	o.sent = append(o.sent, n)
	return kit.MessageRef{ChatID: n.Target.ChatID, MessageID: len(o.sent)}, nil
}

func (o *outbox) take() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.replies
	o.replies = nil
	return r
}

func (o *outbox) delivered() []kit.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]kit.Notification(nil), o.sent...)
}

type fixture struct {
	t     *testing.T
	now   time.Time
	sched *scheduler.Service
	svc   *Service
	cmds  *router.CommandManager
	out   *outbox
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{t: t, now: start, out: &outbox{}}
	clk := func() time.Time { return f.now }

	f.sched = scheduler.New(scheduler.Config{}, scheduler.NewStore(), nil, logx.Nop(), nil)
	f.sched.SetClock(clk)
	f.svc = New(notes.New(st, logx.Nop()), f.sched, f.out, logx.Nop())
	f.svc.SetClock(clk)
	f.svc.Install()

	f.cmds = router.NewCommandManager(logx.Nop(), nil, f.out, router.Options{})
	f.cmds.SetRegistry(f.svc.Commands())
	return f
}

func (f *fixture) run(chatID int64, text string) []string {
	f.t.Helper()
	up := kit.Update{Message: &kit.Message{ChatID: chatID, FromID: chatID, Text: text}}
	require.NoError(f.t, f.cmds.Handle(context.Background(), up))
	return f.out.take()
}

var t0 = time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)

func TestSetTimeWithTimezone(t *testing.T) {
	f := newFixture(t, t0)
	assert.Equal(t, []string{"Timezone set to +02"}, f.run(1, "/set_timezone +2"))
	assert.Equal(t, []string{"Set the time to 09:00 (+0200)"}, f.run(1, "/set_time 09:00"))

	j, ok := f.sched.Find("1")
	require.True(t, ok)
	assert.Equal(t, scheduler.KindDaily, j.Kind)
	assert.Equal(t, time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC), j.NextAt)
}

func TestSetTimeTwiceKeepsOneDailyJob(t *testing.T) {
	f := newFixture(t, t0)
	f.run(1, "/set_time 09:00")
	f.run(1, "/set_time 18:30")
	jobs := f.sched.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, clock.TimeOfDay{Hour: 18, Minute: 30}, jobs[0].Trigger.TimeOfDay)
}

func TestSetTimezoneRearmsDaily(t *testing.T) {
	f := newFixture(t, t0)
	f.run(1, "/set_time 09:00")
	j, _ := f.sched.Find("1")
	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), j.NextAt)

	f.run(1, "/set_timezone -3")
	j, _ = f.sched.Find("1")
	assert.Equal(t, -3, j.Trigger.Offset)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), j.NextAt)
}

func TestConcurrentTimeAndTimezoneAgree(t *testing.T) {
	f := newFixture(t, t0)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		chatID := int64(100 + i)
		off := i%7 - 3
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.SetTime(ctx, chatID, clock.TimeOfDay{Hour: 9})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.SetTimezone(ctx, chatID, off)
			assert.NoError(t, err)
		}()
		wg.Wait()

		j, ok := f.sched.Find(DailyName(chatID))
		require.True(t, ok)
		assert.Equal(t, off, j.Trigger.Offset, "chat %d", chatID)
	}
}

func TestSetTimezoneRange(t *testing.T) {
	f := newFixture(t, t0)
	_, err := f.svc.SetTimezone(context.Background(), 1, 15)
	assert.ErrorIs(t, err, clock.ErrInvalidFormat)
}

func TestBadArgumentsReplyWithUsage(t *testing.T) {
	f := newFixture(t, t0)
	joined := func(lines ...string) []string { return []string{strings.Join(lines, "\n")} }
	assert.Equal(t, joined(msgNotEnoughArgs, usageAdd), f.run(1, "/add 25.12"))
	assert.Equal(t, joined(msgBadDate, usageAdd), f.run(1, "/add 32.01 party"))
	assert.Equal(t, joined(msgBadTime, usageSetTime), f.run(1, "/set_time 25:00"))
	assert.Equal(t, []string{usageSetTime}, f.run(1, "/set_time"))
	assert.Equal(t, joined(msgBadTimezone, usageSetTimezone), f.run(1, "/set_timezone +15"))
	assert.Equal(t, joined(msgBadDate, usageCheck), f.run(1, "/check tomorrow"))
	assert.Equal(t, joined(msgNotEnoughArgs, usageTimer), f.run(1, "/timer 00:01"))
	assert.Empty(t, f.sched.List())
}

func TestNotesForDate(t *testing.T) {
	f := newFixture(t, t0)
	assert.Equal(t, []string{"Added a reminder for 25.12 about gift"}, f.run(1, "/add 25.12 gift"))
	f.run(1, "/add 25.12 call family")

	out := f.run(1, "/check 25.12")
	require.Len(t, out, 1)
	assert.Equal(t, "Here's everything that you planned on 25.12\n\ngift\ncall family", out[0])

	assert.Equal(t, []string{"none"}, f.run(1, "/check 24.12"))
}

func TestAllAndDelete(t *testing.T) {
	f := newFixture(t, t0)
	assert.Equal(t, []string{"You have no notes yet."}, f.run(1, "/all"))
	f.run(1, "/add 02.01 b")
	f.run(1, "/add 01.01 a")

	out := f.run(1, "/all")
	require.Len(t, out, 1)
	assert.Equal(t, "Here's everything that you planned on 01.01\n\na\n\nHere's everything that you planned on 02.01\n\nb", out[0])

	assert.Equal(t, []string{"Removed 1 note(s) for 01.01"}, f.run(1, "/del 01.01"))
	assert.Equal(t, []string{"Nothing planned on 01.01"}, f.run(1, "/del 01.01"))
}

func TestReminderFiresWithTodaysNotes(t *testing.T) {
	f := newFixture(t, t0)
	f.run(1, "/set_timezone +2")
	f.run(1, "/add 10.03 dentist")
	f.run(1, "/set_time 09:00")

	fired := f.sched.Tick(time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC))
	require.Len(t, fired, 1)

	sent := f.out.delivered()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(1), sent[0].Target.ChatID)
	assert.Equal(t, "Here's everything that you planned on 10.03\n\ndentist", sent[0].Text)

	// Next day has no notes: nothing is sent, job still re-armed.
	j, _ := f.sched.Find("1")
	assert.Equal(t, time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC), j.NextAt)
	f.sched.Tick(j.NextAt)
	assert.Len(t, f.out.delivered(), 1)
}

func TestTimerScenario(t *testing.T) {
	f := newFixture(t, t0)
	out := f.run(1, "/timer 00:01 wake up")
	require.Len(t, out, 1)
	assert.Equal(t, "Timer set for 10.03 05:01 (+0000)", out[0])

	out = f.run(1, "/timer_check")
	assert.Equal(t, []string{"Active timers:\n10.03 05:01 - wake up"}, out)

	assert.Empty(t, f.sched.Tick(t0.Add(59*time.Second)))
	fired := f.sched.Tick(t0.Add(61 * time.Second))
	require.Len(t, fired, 1)
	assert.True(t, strings.HasSuffix(fired[0].Name, "-once"))
	assert.True(t, strings.HasPrefix(fired[0].Name, "1-"))

	sent := f.out.delivered()
	require.Len(t, sent, 1)
	assert.Equal(t, "wake up", sent[0].Text)

	assert.Empty(t, f.sched.Tick(t0.Add(2*time.Minute)))
	assert.Equal(t, []string{msgNoTimers}, f.run(1, "/timer_check"))
}

func TestTimerStop(t *testing.T) {
	f := newFixture(t, t0)
	f.run(1, "/timer 01:00 a")
	f.run(1, "/timer 02:00 b")
	f.run(2, "/timer 01:00 other chat")
	f.run(1, "/set_time 09:00")

	assert.Equal(t, []string{"Stopped 2 timer(s)."}, f.run(1, "/timer_stop"))
	assert.Len(t, f.svc.Timers(2), 1)
	_, ok := f.sched.Find("1")
	assert.True(t, ok, "daily reminder survives timer_stop")
}

func TestFailedDeliveryStillRetiresTimer(t *testing.T) {
	f := newFixture(t, t0)
	f.out.failing = true
	f.run(1, "/timer 00:01 x")
	f.sched.Tick(t0.Add(time.Minute))
	assert.Empty(t, f.svc.Timers(1))
}

func TestOnceNamesAreUnique(t *testing.T) {
	a, b := OnceName(-100), OnceName(-100)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "-100-"))
	assert.Equal(t, "42", DailyName(42))
}

func TestStartGreets(t *testing.T) {
	f := newFixture(t, t0)
	out := f.run(5, "/start")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "Hi there!")
}

func TestReconcileRecreatesLostDailyJobs(t *testing.T) {
	f := newFixture(t, t0)
	f.run(1, "/set_timezone +2")
	f.run(1, "/set_time 09:00")
	f.run(2, "/add 01.01 no reminder time")

	require.True(t, f.sched.Remove("1"))
	n, err := f.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, ok := f.sched.Find("1")
	require.True(t, ok)
	assert.Equal(t, 2, j.Trigger.Offset)
	assert.Equal(t, time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC), j.NextAt)

	n, err = f.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
