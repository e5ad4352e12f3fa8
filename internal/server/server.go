// Package server is the HTTP ingestion API: webhook intake, stored payload
// lookup, delivery log listing and the optional metrics and pprof mounts.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pinga/internal/analyzer"
	"pinga/internal/domain"
	"pinga/internal/eventbus"
	"pinga/internal/metrics"
	"pinga/internal/payload"
	rtsup "pinga/internal/runtime/supervisor"
	logx "pinga/pkg/logx"
)

type Config struct {
	Addr             string
	DefaultRecipient string
	MaxBodyBytes     int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RateLimit RateLimit
	Metrics   Metrics
	Pprof     Pprof
}

type RateLimit struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type Metrics struct {
	Enabled bool
	Path    string
}

type Pprof struct {
	Enabled       bool
	Prefix        string
	Token         string
	AllowInsecure bool
}

// RecipientSource loads recipient configuration. It must return an error
// wrapping storage.ErrNotFound for unknown ids.
type RecipientSource interface {
	GetRecipient(ctx context.Context, id string) (domain.Recipient, error)
}

type LogReader interface {
	ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, r domain.Recipient, n domain.Notification) bool
}

type Deps struct {
	Analyzer   *analyzer.Registry
	Payloads   payload.Cache
	Recipients RecipientSource
	Logs       LogReader
	Notifier   Deliverer
	Metrics    *metrics.Metrics
	Bus        eventbus.Bus
}

type Server struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  logx.Logger

	handler  atomic.Value // http.Handler
	limiters *limiterStore

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{deps: deps, log: log}
	s.apply(cfg)
	return s
}

// Handler serves the current route table. Reconfigure swaps it in place.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handler.Load().(http.Handler).ServeHTTP(w, r)
	})
}

func (s *Server) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Server) apply(cfg Config) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if strings.TrimSpace(cfg.DefaultRecipient) == "" {
		cfg.DefaultRecipient = "default"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	if s.limiters == nil || prev.RateLimit != cfg.RateLimit {
		s.limiters = newLimiterStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	limiters := s.limiters
	s.mu.Unlock()

	s.handler.Store(s.routes(cfg, limiters))
}

// Reconfigure applies cfg. Route level settings take effect immediately; a
// changed address or timeout restarts the listener.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	prev := s.config()
	s.apply(cfg)

	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()
	if running && needsRestart(prev, s.config()) {
		s.log.Info("api server restarting", logx.String("addr", cfg.Addr))
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

// Start launches the listener under a restart loop. It is idempotent.
func (s *Server) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if done := s.stopDone; done != nil {
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil {
			s.mu.Unlock()
			return
		}
		sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
		s.sup = sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		sup.Go0("ratelimit.sweep", s.sweepLimiters)
		return
	}
}

// Stop shuts the listener down, waiting at most until ctx is done.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.srv, s.ln, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("api server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Addr returns the bound listener address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Err reports the first listener failure, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

func (s *Server) serveOnce(ctx context.Context) error {
	cfg := s.config()
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = ":8080"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("api listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("api server listening", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("api server exited unexpectedly")
	}
	return err
}

func (s *Server) sweepLimiters(ctx context.Context) {
	t := time.NewTicker(limiterSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.mu.Lock()
			ls := s.limiters
			s.mu.Unlock()
			if n := ls.evict(now.Add(-limiterIdleAfter)); n > 0 {
				s.log.Debug("rate limiters evicted", logx.Int("count", n))
			}
		}
	}
}
