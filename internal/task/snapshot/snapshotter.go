// Package snapshot persists the live job set as JSON Lines and rebuilds it
// on startup.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/scheduler"
	"remindbot/pkg/logx"
)

// SelfJobName is the internal job that triggers periodic saves. It is never persisted.
const SelfJobName = "__snapshot"

type Config struct {
	Path  string
	Every time.Duration
}

// Adder is the scheduler's job creation path and its clock.
type Adder interface {
	Add(job scheduler.Job) (scheduler.Job, error)
	Now() time.Time
}

// SavedEvent is published after each successful save.
type SavedEvent struct {
	Path    string        `json:"path"`
	Records int           `json:"records"`
	Took    time.Duration `json:"took"`
}

type Snapshotter struct {
	cfg   Config
	fs    afero.Fs
	sched *scheduler.Service
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	sf singleflight.Group
}

func New(cfg Config, fsys afero.Fs, sched *scheduler.Service, log logx.Logger, bus eventbus.Bus) *Snapshotter {
	if cfg.Every <= 0 {
		cfg.Every = 30 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "data/jobs.jsonl"
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Snapshotter{cfg: cfg, fs: fsys, sched: sched, log: log, bus: bus, now: time.Now}
}

func (s *Snapshotter) Path() string { return s.cfg.Path }

// Install registers the SnapshotTick handler and arms the first periodic save.
func (s *Snapshotter) Install() error {
	s.sched.Register(scheduler.SnapshotTick, s.onTick)
	return s.arm()
}

func (s *Snapshotter) arm() error {
	_, err := s.sched.AddOnce(SelfJobName, scheduler.SnapshotTick, s.now().Add(s.cfg.Every), scheduler.Payload{})
	return err
}

func (s *Snapshotter) onTick(ctx context.Context, _ scheduler.Job) error {
	err := s.Save(ctx)
	if armErr := s.arm(); armErr != nil {
		return errors.Join(err, armErr)
	}
	return err
}

// Save writes the live job set to Path through a temp file and rename.
// Concurrent calls share one write.
func (s *Snapshotter) Save(ctx context.Context) error {
	_, err, _ := s.sf.Do("save", func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, s.save()
	})
	return err
}

func (s *Snapshotter) save() error {
	start := time.Now()
	// List copies jobs under the store lock; the write below runs without it.
	jobs := s.sched.List()

	var buf bytes.Buffer
	n, err := Encode(&buf, jobs)
	if err != nil {
		return s.failed(err)
	}
	if err := writeFileAtomic(s.fs, s.cfg.Path, buf.Bytes()); err != nil {
		return s.failed(err)
	}

	ev := SavedEvent{Path: s.cfg.Path, Records: n, Took: time.Since(start)}
	s.log.Debug("snapshot saved", logx.String("path", ev.Path), logx.Int("records", n), logx.Duration("took", ev.Took))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.SnapshotSaved, Data: ev})
	}
	return nil
}

func (s *Snapshotter) failed(err error) error {
	err = fmt.Errorf("snapshot save %s: %w", s.cfg.Path, err)
	s.log.Error("snapshot save failed", logx.Err(err))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.SnapshotError, Data: err.Error()})
	}
	return err
}

func writeFileAtomic(fsys afero.Fs, path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fsys.Rename(tmp, path)
}

// Load restores jobs from Path into the scheduler. A missing file is an
// empty schedule. A corrupt record ends the restore at the last good record;
// that is logged, not returned.
func (s *Snapshotter) Load(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := s.fs.Open(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("no snapshot file, starting with an empty schedule", logx.String("path", s.cfg.Path))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open snapshot %s: %w", s.cfg.Path, err)
	}
	defer f.Close()

	n, err := Restore(f, s.sched, s.log)
	if err != nil {
		return n, err
	}
	s.log.Info("snapshot restored", logx.String("path", s.cfg.Path), logx.Int("jobs", n))
	return n, nil
}
