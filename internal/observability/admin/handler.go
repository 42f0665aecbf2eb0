package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"remindbot/internal/notifier"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/pkg/logx"
)

// Sources are the read and control hooks the endpoints call. Nil hooks
// answer 404.
type Sources struct {
	Jobs         func() []scheduler.Job
	Tasks        func() engine.Snapshot
	Notifier     func() notifier.Stats
	Supervisors  func() map[string]rtsup.Snapshot
	SaveSnapshot func(ctx context.Context) error
}

// JobView is the JSON shape of a scheduled job. Timer text is reported by length only.
type JobView struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Callback string    `json:"callback"`
	ChatID   int64     `json:"chat_id,omitempty"`
	NextAt   time.Time `json:"next_at"`
	Time     string    `json:"time,omitempty"`
	Offset   *int      `json:"offset,omitempty"`
	TextLen  int       `json:"text_len,omitempty"`
}

func viewOf(j scheduler.Job) JobView {
	v := JobView{
		Name:     j.Name,
		Kind:     string(j.Kind),
		Callback: string(j.Callback),
		ChatID:   j.Payload.ChatID,
		NextAt:   j.NextAt,
		TextLen:  len(j.Payload.Text),
	}
	if j.Kind == scheduler.KindDaily {
		off := j.Trigger.Offset
		v.Time = j.Trigger.TimeOfDay.String()
		v.Offset = &off
	}
	return v
}

// NewHandler builds the admin router. token, when set, is required as a bearer token.
func NewHandler(src Sources, token string, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))
	r.Use(bearerAuth(token))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
		if src.Jobs == nil {
			http.NotFound(w, r)
			return
		}
		jobs := src.Jobs()
		out := make([]JobView, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, viewOf(j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "jobs": out})
	})

	r.Get("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if src.Tasks == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, src.Tasks())
	})

	r.Get("/notifier", func(w http.ResponseWriter, r *http.Request) {
		if src.Notifier == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, src.Notifier())
	})

	r.Get("/supervisors", func(w http.ResponseWriter, r *http.Request) {
		if src.Supervisors == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, src.Supervisors())
	})

	r.Post("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if src.SaveSnapshot == nil {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := src.SaveSnapshot(ctx); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	})

	r.Mount("/debug", middleware.Profiler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("admin request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
			)
		})
	}
}
