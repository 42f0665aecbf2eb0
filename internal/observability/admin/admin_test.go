package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/clock"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/pkg/logx"
)

func testSources(saved *int) Sources {
	next := time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC)
	return Sources{
		Jobs: func() []scheduler.Job {
			return []scheduler.Job{
				{Name: "42", Kind: scheduler.KindDaily, Callback: scheduler.ReminderFire, Trigger: scheduler.Trigger{TimeOfDay: clock.TimeOfDay{Hour: 9}, Offset: 2}, Payload: scheduler.Payload{ChatID: 42}, NextAt: next},
				{Name: "42-abcd-once", Kind: scheduler.KindOnce, Callback: scheduler.TimerFire, Payload: scheduler.Payload{ChatID: 42, Text: "wake"}, NextAt: next},
			}
		},
		Tasks: func() engine.Snapshot { return engine.Snapshot{Running: true, Workers: 3} },
		SaveSnapshot: func(context.Context) error {
			*saved++
			return nil
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewHandler(Sources{}, "", logx.Nop())
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestJobs(t *testing.T) {
	var saved int
	h := NewHandler(testSources(&saved), "", logx.Nop())
	rec := do(t, h, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int       `json:"count"`
		Jobs  []JobView `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "09:00", body.Jobs[0].Time)
	require.NotNil(t, body.Jobs[0].Offset)
	assert.Equal(t, 2, *body.Jobs[0].Offset)
	assert.Equal(t, 4, body.Jobs[1].TextLen)
	assert.NotContains(t, rec.Body.String(), "wake")
}

func TestTasksAndMissingSource(t *testing.T) {
	var saved int
	h := NewHandler(testSources(&saved), "", logx.Nop())
	rec := do(t, h, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"workers": 3`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/notifier", "").Code)
}

func TestSnapshotEndpoint(t *testing.T) {
	var saved int
	h := NewHandler(testSources(&saved), "", logx.Nop())
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/snapshot", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/snapshot", "").Code)
	assert.Equal(t, 1, saved)

	failing := Sources{SaveSnapshot: func(context.Context) error { return errors.New("disk full") }}
	rec := do(t, NewHandler(failing, "", logx.Nop()), http.MethodPost, "/snapshot", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}

func TestBearerToken(t *testing.T) {
	h := NewHandler(Sources{}, "s3cret", logx.Nop())
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/healthz", "nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "s3cret").Code)
}

func TestPprofMounted(t *testing.T) {
	h := NewHandler(Sources{}, "", logx.Nop())
	rec := do(t, h, http.MethodGet, "/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServiceStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(b))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServiceRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	assert.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:80"))
	assert.True(t, isLoopbackAddr("localhost:80"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":80"))
	assert.False(t, isLoopbackAddr("10.0.0.1:80"))
}
