// Package retention prunes old delivery log entries on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "pinga/pkg/logx"
)

// Pruner removes delivery log entries created before a cutoff.
type Pruner interface {
	PruneDeliveryLogs(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	Enabled  bool
	Schedule string        // cron spec or descriptor ("@every 1h")
	MaxAge   time.Duration // entries older than this are removed
	Timezone string
}

const pruneTimeout = time.Minute

// parser accepts 5 or 6 field specs and descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the schedule and timezone without starting anything.
func Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if _, err := parser.Parse(strings.TrimSpace(cfg.Schedule)); err != nil {
		return fmt.Errorf("retention.schedule: %w", err)
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("retention.timezone: %w", err)
	}
	if cfg.MaxAge <= 0 {
		return fmt.Errorf("retention.delivery_logs must be > 0")
	}
	return nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	pruner Pruner
	log    logx.Logger
	now    func() time.Time

	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, pruner Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, pruner: pruner, log: log, now: time.Now}
}

// Start schedules the prune job. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	if !s.cfg.Enabled {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	cfg := s.cfg
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("retention.timezone: %w", err)
	}
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	jctx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(strings.TrimSpace(cfg.Schedule), func() { _, _ = s.RunOnce(jctx) }); err != nil {
		cancel()
		return fmt.Errorf("retention.schedule: %w", err)
	}
	c.Start()
	s.c, s.cancel = c, cancel
	s.log.Info("retention scheduled",
		logx.String("schedule", cfg.Schedule),
		logx.Duration("max_age", cfg.MaxAge),
		logx.String("tz", loc.String()),
	)
	return nil
}

// Stop removes the schedule and waits for a running prune, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel, s.ctx = nil, nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config, rescheduling when the schedule, timezone or the
// enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	if s.c != nil && prev.Enabled == cfg.Enabled && prev.Schedule == cfg.Schedule && prev.Timezone == cfg.Timezone {
		return nil
	}
	if s.c != nil {
		s.cancel()
		s.c.Stop()
		s.c, s.cancel = nil, nil
	}
	if !cfg.Enabled {
		s.log.Info("retention disabled")
		return nil
	}
	return s.startLocked(s.ctx)
}

// RunOnce prunes entries older than MaxAge now.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	maxAge := s.cfg.MaxAge
	s.mu.Unlock()
	if maxAge <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	start := s.now()
	cutoff := start.Add(-maxAge)
	n, err := s.pruner.PruneDeliveryLogs(ctx, cutoff)
	if err != nil {
		s.log.Warn("delivery log prune failed", logx.Err(err))
		return n, err
	}
	s.log.Debug("delivery logs pruned",
		logx.Int("removed", n),
		logx.Time("cutoff", cutoff),
		logx.Duration("took", time.Since(start)),
	)
	return n, nil
}
