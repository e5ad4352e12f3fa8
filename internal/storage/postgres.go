package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS delivery_logs (
  id           TEXT PRIMARY KEY,
  user_id      TEXT NOT NULL,
  channel_id   TEXT,
  channel_type TEXT NOT NULL,
  channel_name TEXT,
  source       TEXT NOT NULL,
  event_type   TEXT NOT NULL,
  status       TEXT NOT NULL,
  error        TEXT,
  raw_error    JSONB,
  metadata     JSONB,
  created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_logs_user_created ON delivery_logs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_delivery_logs_created ON delivery_logs(created_at);
CREATE TABLE IF NOT EXISTS recipients (
  id         TEXT PRIMARY KEY,
  doc        JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres storage opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) AppendDeliveryLog(ctx context.Context, e domain.DeliveryLogEntry) error {
	e = prepareEntry(e)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_logs (id, user_id, channel_id, channel_type, channel_name, source, event_type, status, error, raw_error, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.UserID, nullStr(e.ChannelID), e.ChannelType, nullStr(e.ChannelName),
		e.Source, e.EventType, string(e.Status), nullStr(e.Error),
		jsonText(e.RawError), jsonText(e.Metadata), e.CreatedAt,
	)
	return err
}

func (s *postgresStore) ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, COALESCE(channel_id, ''), channel_type, COALESCE(channel_name, ''),
		        source, event_type, status, COALESCE(error, ''),
		        COALESCE(raw_error::text, ''), COALESCE(metadata::text, ''), created_at
		 FROM delivery_logs WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DeliveryLogEntry{}
	for rows.Next() {
		var (
			e                domain.DeliveryLogEntry
			status           string
			rawErr, metadata string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ChannelID, &e.ChannelType, &e.ChannelName,
			&e.Source, &e.EventType, &status, &e.Error, &rawErr, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = domain.DeliveryStatus(status)
		e.RawError = parseJSONText(rawErr)
		e.Metadata = parseMetadata(metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *postgresStore) PruneDeliveryLogs(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM delivery_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) GetRecipient(ctx context.Context, id string) (domain.Recipient, error) {
	var doc string
	err := s.pool.QueryRow(ctx, `SELECT doc::text FROM recipients WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recipient{}, ErrNotFound
	}
	if err != nil {
		return domain.Recipient{}, err
	}
	return decodeRecipient([]byte(doc))
}

func (s *postgresStore) PutRecipient(ctx context.Context, r domain.Recipient) error {
	if err := validRecipientID(r.ID); err != nil {
		return err
	}
	doc, err := encodeRecipient(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO recipients (id, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		r.ID, string(doc),
	)
	return err
}
