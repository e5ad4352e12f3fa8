package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pinga/internal/domain"
)

// memoryStore keeps everything in process memory. Contents are lost on exit.
type memoryStore struct {
	mu         sync.RWMutex
	logs       []domain.DeliveryLogEntry
	recipients map[string]domain.Recipient
	closed     bool
}

func NewMemory() Store {
	return &memoryStore{recipients: map[string]domain.Recipient{}}
}

func (s *memoryStore) AppendDeliveryLog(_ context.Context, e domain.DeliveryLogEntry) error {
	e = prepareEntry(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.logs = append(s.logs, e)
	return nil
}

func (s *memoryStore) ListDeliveryLogs(_ context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrDisabled
	}
	return newestFirst(s.logs, userID, normalizeLimit(limit)), nil
}

func (s *memoryStore) PruneDeliveryLogs(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrDisabled
	}
	kept, removed := pruneBefore(s.logs, before)
	s.logs = kept
	return removed, nil
}

func (s *memoryStore) GetRecipient(_ context.Context, id string) (domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Recipient{}, ErrDisabled
	}
	r, ok := s.recipients[id]
	if !ok {
		return domain.Recipient{}, ErrNotFound
	}
	return cloneRecipient(r), nil
}

func (s *memoryStore) PutRecipient(_ context.Context, r domain.Recipient) error {
	if err := validRecipientID(r.ID); err != nil {
		return err
	}
	r = cloneRecipient(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.recipients[r.ID] = r
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// newestFirst filters logs by user and returns at most limit entries ordered
// by CreatedAt descending. Ties keep reverse insertion order.
func newestFirst(logs []domain.DeliveryLogEntry, userID string, limit int) []domain.DeliveryLogEntry {
	out := make([]domain.DeliveryLogEntry, 0, limit)
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].UserID == userID {
			out = append(out, logs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func pruneBefore(logs []domain.DeliveryLogEntry, before time.Time) ([]domain.DeliveryLogEntry, int) {
	kept := logs[:0]
	removed := 0
	for _, e := range logs {
		if e.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}
