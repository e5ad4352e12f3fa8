package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

// Store is the persistence API used by the delivery pipeline and the HTTP API.
type Store interface {
	AppendDeliveryLog(ctx context.Context, e domain.DeliveryLogEntry) error
	// ListDeliveryLogs returns the newest entries for userID first.
	ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error)
	// PruneDeliveryLogs removes entries created before the cutoff and reports
	// how many were removed.
	PruneDeliveryLogs(ctx context.Context, before time.Time) (int, error)

	GetRecipient(ctx context.Context, id string) (domain.Recipient, error)
	PutRecipient(ctx context.Context, r domain.Recipient) error

	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
