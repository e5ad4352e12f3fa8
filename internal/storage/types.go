package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pinga/internal/domain"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite", "postgres".
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres pool size; 0 means pgx default
}

const defaultListLimit = 50

// prepareEntry fills the fields a caller may leave empty.
func prepareEntry(e domain.DeliveryLogEntry) domain.DeliveryLogEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func validRecipientID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("recipient id is required")
	}
	return nil
}

// encodeRecipient/decodeRecipient define the stored document form. Numbers
// are kept as json.Number so large chat ids survive a round trip.
func encodeRecipient(r domain.Recipient) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecipient(b []byte) (domain.Recipient, error) {
	var r domain.Recipient
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return domain.Recipient{}, fmt.Errorf("decode recipient: %w", err)
	}
	return r, nil
}

func cloneRecipient(r domain.Recipient) domain.Recipient {
	b, err := encodeRecipient(r)
	if err != nil {
		return r
	}
	out, err := decodeRecipient(b)
	if err != nil {
		return r
	}
	return out
}

// jsonText encodes v for a text column; nil maps to SQL NULL.
func jsonText(v any) any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func parseJSONText(s string) any {
	if s == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return s
	}
	return v
}

func parseMetadata(s string) map[string]any {
	m, _ := parseJSONText(s).(map[string]any)
	return m
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
