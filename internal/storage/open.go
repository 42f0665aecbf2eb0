package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"remindbot/pkg/logx"
)

// Store is the persistence API used by the notes service and the router audit.
type Store interface {
	GetUser(ctx context.Context, chatID int64) (UserRecord, bool, error)
	PutUser(ctx context.Context, rec UserRecord) error
	ListUsers(ctx context.Context) ([]UserRecord, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, afero.NewOsFs(), log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return openFile(Config{Path: "/remindbot/state.json"}, afero.NewMemMapFs(), log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
