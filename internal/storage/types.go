package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver is "file", "sqlite" or "memory". Empty means "file".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// CompactEvery is the number of journal writes between compactions (file only).
	CompactEvery int
}

// UserRecord is the persisted form of one chat's state.
type UserRecord struct {
	ChatID    int64               `json:"chat_id"`
	TZOffset  int                 `json:"tz_offset"`
	RemindAt  string              `json:"remind_at,omitempty"`
	Notes     map[string][]string `json:"notes,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Clone deep-copies the notes map so callers can mutate the copy freely.
func (r UserRecord) Clone() UserRecord {
	out := r
	if r.Notes != nil {
		out.Notes = make(map[string][]string, len(r.Notes))
		for k, v := range r.Notes {
			out.Notes[k] = append([]string(nil), v...)
		}
	}
	return out
}

// AuditEntry records one handled command.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ChatID  int64     `json:"chat_id"`
	FromID  int64     `json:"from_id,omitempty"`
	Command string    `json:"command"`
	Args    string    `json:"args,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
