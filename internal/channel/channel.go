// Package channel implements the delivery backends a notification can be
// sent through. Backends are selected by channel type and never return Go
// errors: every outcome is reported as a Result.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"pinga/internal/domain"
)

var ErrUnknownType = errors.New("unknown channel type")

// FailureKind classifies unsuccessful results.
type FailureKind string

const (
	KindNone        FailureKind = ""
	KindConfig      FailureKind = "config"
	KindHTTP        FailureKind = "http"
	KindTransport   FailureKind = "transport"
	KindUnknownType FailureKind = "unknown_type"
	KindPanic       FailureKind = "panic"
)

// Result is the outcome of one send.
type Result struct {
	Success  bool        `json:"success"`
	Error    string      `json:"error,omitempty"`
	RawError any         `json:"rawError,omitempty"`
	Data     any         `json:"data,omitempty"`
	Kind     FailureKind `json:"kind,omitempty"`
}

func ok(data any) Result { return Result{Success: true, Data: data} }

func failure(kind FailureKind, msg string, raw any) Result {
	return Result{Error: msg, RawError: raw, Kind: kind}
}

// HTTPError is the RawError of KindHTTP results.
type HTTPError struct {
	Status   int `json:"status"`
	Response any `json:"response"`
}

// Backend renders a notification for one provider and sends it. cfg is the
// channel's backend-specific config and is validated here, at send time.
type Backend interface {
	Type() string
	Send(ctx context.Context, cfg map[string]any, n domain.Notification) Result
}

// Registry maps channel types to backends. Lookups are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: map[string]Backend{}}
	for _, b := range backends {
		r.Register(b.Type(), b)
	}
	return r
}

// Register binds typ to b, replacing any previous binding.
func (r *Registry) Register(typ string, b Backend) {
	r.mu.Lock()
	r.backends[strings.ToLower(strings.TrimSpace(typ))] = b
	r.mu.Unlock()
}

func (r *Registry) Lookup(typ string) (Backend, bool) {
	r.mu.RLock()
	b, ok := r.backends[strings.ToLower(strings.TrimSpace(typ))]
	r.mu.RUnlock()
	return b, ok
}

// Resolve is Lookup returning ErrUnknownType for unregistered types.
func (r *Registry) Resolve(typ string) (Backend, error) {
	if b, ok := r.Lookup(typ); ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

// Types lists the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.backends))
	for k := range r.backends {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// UnknownType is the result recorded for a channel whose type has no backend.
func UnknownType(typ string) Result {
	return failure(KindUnknownType, "Unknown channel type: "+typ, nil)
}

// configString reads a string-ish config value. Numbers are accepted so
// chat ids stored as numbers keep working.
func configString(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := cfg[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return fmt.Sprintf("%.0f", v)
		case int:
			return fmt.Sprint(v)
		case int64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

const maxErrorBody = 4 << 10

// readErrorBody returns the response text and, when it is JSON, the decoded
// value for RawError.
func readErrorBody(resp *http.Response) (string, any) {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := string(b)
	var decoded any
	if err := json.Unmarshal(b, &decoded); err == nil {
		return text, decoded
	}
	return text, text
}
