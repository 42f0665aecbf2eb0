package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.Exec(migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, chatID int64) (UserRecord, bool, error) {
	var (
		rec      = UserRecord{ChatID: chatID}
		remindAt sql.NullString
		updated  string
	)
	err := s.db.QueryRowContext(ctx, `SELECT tz_offset, remind_at, updated_at FROM users WHERE chat_id = ?`, chatID).
		Scan(&rec.TZOffset, &remindAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, err
	}
	rec.RemindAt = remindAt.String
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)

	rows, err := s.db.QueryContext(ctx, `SELECT date_key, body FROM notes WHERE chat_id = ? ORDER BY date_key, seq`, chatID)
	if err != nil {
		return UserRecord{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return UserRecord{}, false, err
		}
		if rec.Notes == nil {
			rec.Notes = map[string][]string{}
		}
		rec.Notes[key] = append(rec.Notes[key], body)
	}
	return rec, true, rows.Err()
}

// PutUser replaces the user row and all of its notes in one transaction.
func (s *sqliteStore) PutUser(ctx context.Context, rec UserRecord) error {
	if rec.ChatID == 0 {
		return errors.New("chat id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users(chat_id, tz_offset, remind_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET tz_offset=excluded.tz_offset, remind_at=excluded.remind_at, updated_at=excluded.updated_at`,
		rec.ChatID, rec.TZOffset, nullStr(rec.RemindAt), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE chat_id = ?`, rec.ChatID); err != nil {
		return err
	}
	for key, notes := range rec.Notes {
		for i, body := range notes {
			if _, err := tx.ExecContext(ctx, `INSERT INTO notes(chat_id, date_key, seq, body) VALUES(?,?,?,?)`, rec.ChatID, key, i, body); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM users ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	out := make([]UserRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, chat_id, from_id, command, args, err, took_ms) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ChatID, e.FromID, e.Command, nullStr(e.Args), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
