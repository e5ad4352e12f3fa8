// Package payload keeps raw webhook bodies for a limited time so a
// notification can link to the full payload.
package payload

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTTL        = 24 * time.Hour
	defaultMaxEntries = 10000
	routePrefix       = "/api/webhook/payload/"
)

// Stored is one retained payload.
type Stored struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Cache is the payload store used by the HTTP layer.
type Cache interface {
	Put(source string, payload any) Stored
	Get(id string) (Stored, bool)
	URL(id string) string
	Len() int
}

type Options struct {
	TTL        time.Duration
	BaseURL    string // public origin used to build payload links
	MaxEntries int    // oldest entries are evicted beyond this
	// OnChange is called with the new entry count after every mutation.
	OnChange func(n int)
}

// Store is an in-memory Cache with expiry.
type Store struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]Stored
	order   []string // insertion order, may contain ids already removed
	now     func() time.Time
}

func New(opts Options) *Store {
	s := &Store{entries: map[string]Stored{}, now: time.Now}
	s.Apply(opts)
	return s
}

// Apply updates TTL, base URL and cap. Existing entries keep their expiry.
func (s *Store) Apply(opts Options) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	s.mu.Lock()
	if opts.OnChange == nil {
		opts.OnChange = s.opts.OnChange
	}
	s.opts = opts
	s.mu.Unlock()
}

// Put stores payload under a fresh id. Expired entries are swept first.
func (s *Store) Put(source string, payload any) Stored {
	s.mu.Lock()
	now := s.now()
	s.sweepLocked(now)
	st := Stored{
		ID:         uuid.NewString(),
		Source:     source,
		Payload:    payload,
		ReceivedAt: now.UTC(),
		ExpiresAt:  now.Add(s.opts.TTL).UTC(),
	}
	s.entries[st.ID] = st
	s.order = append(s.order, st.ID)
	for len(s.entries) > s.opts.MaxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
	n, cb := len(s.entries), s.opts.OnChange
	s.mu.Unlock()

	if cb != nil {
		cb(n)
	}
	return st
}

// Get returns a live entry. An expired entry is evicted and reported absent.
func (s *Store) Get(id string) (Stored, bool) {
	s.mu.Lock()
	st, ok := s.entries[id]
	if ok && s.now().After(st.ExpiresAt) {
		delete(s.entries, id)
		n, cb := len(s.entries), s.opts.OnChange
		s.mu.Unlock()
		if cb != nil {
			cb(n)
		}
		return Stored{}, false
	}
	s.mu.Unlock()
	return st, ok
}

func (s *Store) URL(id string) string {
	s.mu.Lock()
	base := s.opts.BaseURL
	s.mu.Unlock()
	return base + routePrefix + id
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes entries expired at now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	removed := s.sweepLocked(now)
	n, cb := len(s.entries), s.opts.OnChange
	s.mu.Unlock()
	if removed > 0 && cb != nil {
		cb(n)
	}
	return removed
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for id, st := range s.entries {
		if now.After(st.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	if len(s.order) > 2*len(s.entries)+64 {
		live := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.entries[id]; ok {
				live = append(live, id)
			}
		}
		s.order = live
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}
