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

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer connection; also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite storage opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDeliveryLog(ctx context.Context, e domain.DeliveryLogEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	e = prepareEntry(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_logs(id, user_id, channel_id, channel_type, channel_name, source, event_type, status, error, raw_error, metadata, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, nullStr(e.ChannelID), e.ChannelType, nullStr(e.ChannelName),
		e.Source, e.EventType, string(e.Status), nullStr(e.Error),
		jsonText(e.RawError), jsonText(e.Metadata), e.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, channel_id, channel_type, channel_name, source, event_type, status, error, raw_error, metadata, created_at
		 FROM delivery_logs WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DeliveryLogEntry{}
	for rows.Next() {
		var (
			e                                       domain.DeliveryLogEntry
			chID, chName, errText, rawErr, metadata sql.NullString
			status                                  string
			created                                 int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &chID, &e.ChannelType, &chName, &e.Source, &e.EventType,
			&status, &errText, &rawErr, &metadata, &created); err != nil {
			return nil, err
		}
		e.ChannelID = chID.String
		e.ChannelName = chName.String
		e.Status = domain.DeliveryStatus(status)
		e.Error = errText.String
		e.RawError = parseJSONText(rawErr.String)
		e.Metadata = parseMetadata(metadata.String)
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneDeliveryLogs(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_logs WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) GetRecipient(ctx context.Context, id string) (domain.Recipient, error) {
	if s == nil || s.db == nil {
		return domain.Recipient{}, ErrDisabled
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM recipients WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipient{}, ErrNotFound
	}
	if err != nil {
		return domain.Recipient{}, err
	}
	return decodeRecipient([]byte(doc))
}

func (s *sqliteStore) PutRecipient(ctx context.Context, r domain.Recipient) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if err := validRecipientID(r.ID); err != nil {
		return err
	}
	doc, err := encodeRecipient(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, doc, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		r.ID, string(doc), time.Now().UnixMilli(),
	)
	return err
}
