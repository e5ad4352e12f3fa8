// Package analyzer turns schema-less webhook payloads into normalized
// notifications.
//
// A Registry holds the source analyzers in priority order plus a fallback
// whose CanHandle always accepts, so Analyze never fails.
package analyzer

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

// Headers are request headers with lower-cased names and one value each.
type Headers map[string]string

// HeadersFrom flattens an http.Header keeping the first value per name.
func HeadersFrom(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = v[0]
	}
	return out
}

func (h Headers) lower() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (h Headers) has(name string) bool {
	_, ok := h[name]
	return ok
}

// Analyzer recognizes and normalizes the payloads of one source.
// CanHandle must be cheap and side-effect free. Analyze must tolerate any
// payload shape.
type Analyzer interface {
	Name() string
	CanHandle(payload any, h Headers) bool
	Analyze(payload any, h Headers) Result
}

type Result struct {
	Source       string              `json:"source"`
	Notification domain.Notification `json:"notification"`
}

type Registry struct {
	analyzers []Analyzer
	fallback  Analyzer
	log       logx.Logger
}

// NewRegistry builds a registry that tries analyzers in order and falls
// back to fallback.
func NewRegistry(log logx.Logger, fallback Analyzer, analyzers ...Analyzer) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{analyzers: analyzers, fallback: fallback, log: log}
}

// Default returns the built-in order: vercel, render, github, then generic.
func Default(log logx.Logger) *Registry {
	return NewRegistry(log, Generic{}, Vercel{}, Render{}, GitHub{})
}

// Names lists analyzer names in priority order, fallback last.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.analyzers)+1)
	for _, a := range r.analyzers {
		out = append(out, a.Name())
	}
	return append(out, r.fallback.Name())
}

// Select picks the analyzer for payload. A hint naming an analyzer
// (case-insensitive) is tried first and used only if it accepts.
func (r *Registry) Select(payload any, h Headers, hint string) Analyzer {
	h = h.lower()
	all := append(append([]Analyzer(nil), r.analyzers...), r.fallback)

	if hint = strings.TrimSpace(hint); hint != "" {
		for _, a := range all {
			if strings.EqualFold(a.Name(), hint) && r.canHandle(a, payload, h) {
				return a
			}
		}
	}
	for _, a := range r.analyzers {
		if r.canHandle(a, payload, h) {
			return a
		}
	}
	return r.fallback
}

func (r *Registry) canHandle(a Analyzer, payload any, h Headers) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("analyzer CanHandle panicked", logx.String("analyzer", a.Name()), logx.Any("panic", rec))
			ok = false
		}
	}()
	return a.CanHandle(payload, h)
}

// Analyze selects an analyzer and runs it. The returned notification always
// has non-nil Fields and Links and carries payload as RawPayload.
func (r *Registry) Analyze(payload any, h Headers, hint string) Result {
	h = h.lower()
	a := r.Select(payload, h, hint)

	res, err := r.run(a, payload, h)
	if err != nil && a != r.fallback {
		r.log.Warn("analyzer failed; using fallback", logx.String("analyzer", a.Name()), logx.Err(err))
		res, err = r.run(r.fallback, payload, h)
	}
	if err != nil {
		r.log.Error("fallback analyzer failed", logx.Err(err))
		res = Result{
			Source: domain.SourceGeneric,
			Notification: domain.Notification{
				Title:  "Webhook Received",
				Emoji:  "📡",
				Source: domain.SourceGeneric,
			},
		}
	}

	if res.Source == "" {
		res.Source = a.Name()
	}
	if res.Notification.Source == "" {
		res.Notification.Source = res.Source
	}
	res.Notification.RawPayload = payload
	res.Notification.Normalize()
	return res
}

func (r *Registry) run(a Analyzer, payload any, h Headers) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Debug("analyzer panic stack", logx.String("analyzer", a.Name()), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("analyzer %s panicked: %v", a.Name(), rec)
		}
	}()
	return a.Analyze(payload, h), nil
}
