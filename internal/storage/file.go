package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"remindbot/pkg/logx"
)

// fileStore keeps every user in memory and persists through:
//   - <prefix>.users.snapshot.json (compacted state)
//   - <prefix>.users.journal.jsonl (append-only, one full record per write)
//   - <prefix>.audit.jsonl         (append-only)
//
// On open the snapshot is loaded and the journal replayed over it; lines
// that fail to decode are skipped.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu sync.Mutex

	snapshotPath string
	journal      afero.File
	audit        afero.File

	users        map[int64]UserRecord
	writes       int
	compactEvery int
}

func openFile(cfg Config, fsys afero.Fs, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		fs:           fsys,
		snapshotPath: prefix + ".users.snapshot.json",
		users:        map[int64]UserRecord{},
		compactEvery: cfg.CompactEvery,
	}
	if s.compactEvery <= 0 {
		s.compactEvery = 500
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("user snapshot unreadable, starting from journal", logx.String("path", s.snapshotPath), logx.Err(err))
	}
	journalPath := prefix + ".users.journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var err error
	if s.journal, err = fsys.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		return nil, err
	}
	if s.audit, err = fsys.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = s.journal.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := s.fs.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []UserRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		s.users[r.ChatID] = r
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	skipped := 0
	for sc.Scan() {
		var r UserRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ChatID == 0 {
			skipped++
			continue
		}
		s.users[r.ChatID] = r
	}
	if skipped > 0 {
		s.log.Warn("user journal had unreadable lines", logx.String("path", path), logx.Int("skipped", skipped))
	}
	return sc.Err()
}

func (s *fileStore) GetUser(ctx context.Context, chatID int64) (UserRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[chatID]
	if !ok {
		return UserRecord{}, false, nil
	}
	return r.Clone(), true, nil
}

func (s *fileStore) PutUser(ctx context.Context, rec UserRecord) error {
	if rec.ChatID == 0 {
		return errors.New("chat id is required")
	}
	rec = rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.users[rec.ChatID] = rec
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("user journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	s.mu.Lock()
	out := make([]UserRecord, 0, len(s.users))
	for _, r := range s.users {
		out = append(out, r.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.audit).Encode(e)
}

// compactLocked writes all users to the snapshot and truncates the journal.
func (s *fileStore) compactLocked() error {
	recs := make([]UserRecord, 0, len(s.users))
	for _, r := range s.users {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ChatID < recs[j].ChatID })

	tmp := s.snapshotPath + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(recs); err != nil {
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
	if err := s.fs.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekStart)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	errs := []error{s.compactLocked(), s.journal.Close(), s.audit.Close()}
	s.journal, s.audit = nil, nil
	return errors.Join(errs...)
}
