// Package notes owns per-chat user state: timezone, reminder time and the
// notes keyed by DD.MM. Every mutation runs under a per-chat lock and is
// written through to storage.
package notes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

var ErrEmptyNote = errors.New("note text is empty")

// UserState is the in-memory view of one chat.
type UserState struct {
	ChatID   int64
	TZOffset int
	// RemindAt is the daily reminder time, empty until set_time.
	RemindAt string
	Notes    map[string][]string
}

// DateNotes is one calendar key with its notes in insertion order.
type DateNotes struct {
	Date  string
	Notes []string
}

type Service struct {
	store storage.Store
	log   logx.Logger
	locks keyedMutex
	now   func() time.Time
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

func fromRecord(r storage.UserRecord) UserState {
	r = r.Clone()
	if r.Notes == nil {
		r.Notes = map[string][]string{}
	}
	return UserState{ChatID: r.ChatID, TZOffset: r.TZOffset, RemindAt: r.RemindAt, Notes: r.Notes}
}

func (u UserState) record(now time.Time) storage.UserRecord {
	return storage.UserRecord{ChatID: u.ChatID, TZOffset: u.TZOffset, RemindAt: u.RemindAt, Notes: u.Notes, UpdatedAt: now}
}

// Update loads (or creates with UTC) the chat's state, applies fn, and
// persists the result. fn returning an error leaves storage untouched.
func (s *Service) Update(ctx context.Context, chatID int64, fn func(u *UserState) error) (UserState, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	u, _, err := s.load(ctx, chatID)
	if err != nil {
		return UserState{}, err
	}
	if err := fn(&u); err != nil {
		return UserState{}, err
	}
	if err := s.store.PutUser(ctx, u.record(s.now())); err != nil {
		return UserState{}, fmt.Errorf("save chat %d: %w", chatID, err)
	}
	return u, nil
}

func (s *Service) load(ctx context.Context, chatID int64) (UserState, bool, error) {
	rec, ok, err := s.store.GetUser(ctx, chatID)
	if err != nil {
		return UserState{}, false, fmt.Errorf("load chat %d: %w", chatID, err)
	}
	if !ok {
		return UserState{ChatID: chatID, Notes: map[string][]string{}}, false, nil
	}
	return fromRecord(rec), true, nil
}

// Get returns the chat's state without creating it. Unknown chats read as
// a fresh UTC state with no notes.
func (s *Service) Get(ctx context.Context, chatID int64) (UserState, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()
	u, _, err := s.load(ctx, chatID)
	return u, err
}

// Start creates the chat's state if it does not exist yet.
func (s *Service) Start(ctx context.Context, chatID int64) (UserState, error) {
	return s.Update(ctx, chatID, func(u *UserState) error { return nil })
}

// Add appends text to the notes for date.
func (s *Service) Add(ctx context.Context, chatID int64, date clock.DateKey, text string) (UserState, error) {
	if text == "" {
		return UserState{}, ErrEmptyNote
	}
	return s.Update(ctx, chatID, func(u *UserState) error {
		k := date.String()
		u.Notes[k] = append(u.Notes[k], text)
		return nil
	})
}

// Delete drops every note for date and reports how many there were.
func (s *Service) Delete(ctx context.Context, chatID int64, date clock.DateKey) (int, error) {
	removed := 0
	_, err := s.Update(ctx, chatID, func(u *UserState) error {
		k := date.String()
		removed = len(u.Notes[k])
		delete(u.Notes, k)
		return nil
	})
	return removed, err
}

// Check returns the notes for date in insertion order (nil when none).
func (s *Service) Check(ctx context.Context, chatID int64, date clock.DateKey) ([]string, error) {
	u, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return u.Notes[date.String()], nil
}

// All returns every date with notes in calendar order.
func (s *Service) All(ctx context.Context, chatID int64) ([]DateNotes, error) {
	u, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return u.Dates(), nil
}

// Users lists every stored chat.
func (s *Service) Users(ctx context.Context) ([]UserState, error) {
	recs, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]UserState, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// Dates lists the non-empty dates in calendar order (month, then day).
func (u UserState) Dates() []DateNotes {
	type keyed struct {
		key clock.DateKey
		DateNotes
	}
	var tmp []keyed
	for k, v := range u.Notes {
		if len(v) == 0 {
			continue
		}
		dk, err := clock.ParseDateKey(k)
		if err != nil {
			continue
		}
		tmp = append(tmp, keyed{dk, DateNotes{Date: k, Notes: append([]string(nil), v...)}})
	}
	sort.Slice(tmp, func(i, j int) bool {
		if tmp[i].key.Month != tmp[j].key.Month {
			return tmp[i].key.Month < tmp[j].key.Month
		}
		return tmp[i].key.Day < tmp[j].key.Day
	})
	out := make([]DateNotes, len(tmp))
	for i := range tmp {
		out[i] = tmp[i].DateNotes
	}
	return out
}

// Today returns the chat's local date key and its notes at now.
func (u UserState) Today(now time.Time) (clock.DateKey, []string) {
	d := clock.Today(now, u.TZOffset)
	return d, u.Notes[d.String()]
}
