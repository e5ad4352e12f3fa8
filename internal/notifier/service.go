package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"pinga/internal/channel"
	"pinga/internal/domain"
	"pinga/internal/eventbus"
	"pinga/internal/metrics"
	logx "pinga/pkg/logx"
)

const (
	defaultTimeout  = 10 * time.Second
	logWriteTimeout = 5 * time.Second

	legacyChannelName = "Legacy Telegram"
	unknownFailure    = "Unknown failure"
)

// Service delivers notifications. It is safe for concurrent use.
type Service struct {
	mu  sync.RWMutex
	cfg Config

	backends *channel.Registry
	logs     LogWriter
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	log      logx.Logger
}

type Option func(*Service)

func WithEventBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }
func WithLogWriter(w LogWriter) Option { return func(s *Service) { s.logs = w } }
func WithBackends(r *channel.Registry) Option { return func(s *Service) { s.backends = r } }

func New(cfg Config, opts ...Option) *Service {
	s := &Service{}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.backends == nil {
		s.backends = channel.NewRegistry()
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// target is one send scheduled by Deliver.
type target struct {
	ch      domain.Channel
	backend channel.Backend
	legacy  bool
}

// Deliver sends n to every channel of r that accepts it and reports whether
// at least one send succeeded.
func (s *Service) Deliver(ctx context.Context, r domain.Recipient, n domain.Notification) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	n.Normalize()
	log := s.log.With(logx.String("user", r.ID), logx.String("source", n.Source), logx.String("event", n.EventType))

	if n.Source != "" && !r.Preferences.AllowsSource(n.Source) {
		log.Debug("source not in allowed list")
		s.record(ctx, r.ID, n, domain.Channel{Type: domain.GlobalChannelType, Name: domain.GlobalChannelName},
			domain.StatusSkipped, fmt.Sprintf("Source %s not in allowed list", n.Source), nil, nil, 0)
		return false
	}

	targets := make([]target, 0, len(r.Channels)+1)

	if r.HasLegacyTelegram() {
		legacy := domain.Channel{
			Type:    channel.TypeTelegram,
			Enabled: true,
			Name:    legacyChannelName,
			Config: map[string]any{
				"chatId":   r.LegacyChatID,
				"botToken": r.LegacyBotToken,
			},
		}
		if ShouldSend(legacy, n) {
			if b, ok := s.backends.Lookup(channel.TypeTelegram); ok {
				targets = append(targets, target{ch: legacy, backend: b, legacy: true})
			} else {
				log.Warn("legacy telegram credentials present but no telegram backend registered")
			}
		}
	}

	for _, ch := range r.Channels {
		if !ch.Enabled {
			continue
		}
		if d := Evaluate(ch, n); !d.Allowed {
			log.Debug("channel filtered out",
				logx.String("channel", ch.DisplayName()),
				logx.String("reason", d.Reason),
				logx.String("value", d.Value),
			)
			s.record(ctx, r.ID, n, ch, domain.StatusSkipped, filteredByRulesError, nil,
				map[string]any{"filter": d.Reason}, 0)
			continue
		}
		b, err := s.backends.Resolve(ch.Type)
		if err != nil {
			log.Warn("cannot dispatch", logx.String("channel", ch.DisplayName()), logx.Err(err))
			res := channel.UnknownType(ch.Type)
			s.record(ctx, r.ID, n, ch, domain.StatusFailure, res.Error, nil, nil, 0)
			continue
		}
		targets = append(targets, target{ch: ch, backend: b})
	}

	if len(targets) == 0 {
		return false
	}

	cfg := s.config()
	results := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			results[i] = s.dispatch(ctx, cfg, log, r.ID, n, t)
		}(i, t)
	}
	wg.Wait()

	for _, ok := range results {
		if ok {
			return true
		}
	}
	return false
}

// dispatch performs one send and records its outcome.
func (s *Service) dispatch(ctx context.Context, cfg Config, log logx.Logger, userID string, n domain.Notification, t target) bool {
	log = log.With(logx.String("channel", t.ch.DisplayName()), logx.String("type", t.ch.Type))
	log.Debug("dispatching to channel")

	sendCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	res := s.safeSend(sendCtx, log, t, n)
	took := time.Since(start)

	status := domain.StatusSuccess
	errText := ""
	if !res.Success {
		status = domain.StatusFailure
		errText = res.Error
		if errText == "" {
			errText = unknownFailure
		}
		log.Warn("channel send failed",
			logx.String("kind", string(res.Kind)),
			logx.String("err", errText),
			logx.Duration("took", took),
		)
	}

	if t.legacy && !cfg.LogLegacy {
		s.metrics.Delivery(t.ch.Type, string(status), took)
		return res.Success
	}
	var meta map[string]any
	if res.Kind != channel.KindNone {
		meta = map[string]any{"kind": string(res.Kind)}
	}
	s.record(ctx, userID, n, t.ch, status, errText, res.RawError, meta, took)
	return res.Success
}

func (s *Service) safeSend(ctx context.Context, log logx.Logger, t target, n domain.Notification) (res channel.Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("channel backend panic", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			res = channel.Result{Error: fmt.Sprint(p), Kind: channel.KindPanic}
		}
	}()
	return t.backend.Send(ctx, t.ch.Config, n)
}

// record appends a delivery log entry and publishes the matching event.
// Log write errors are reported and swallowed.
func (s *Service) record(ctx context.Context, userID string, n domain.Notification, ch domain.Channel,
	status domain.DeliveryStatus, errText string, rawErr any, meta map[string]any, took time.Duration) {

	source := n.Source
	if source == "" {
		source = "unknown"
	}
	eventType := n.EventType
	if eventType == "" {
		eventType = "unknown"
	}

	s.metrics.Delivery(ch.Type, string(status), took)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeDeliveryPrefix + string(status),
			Data: DeliveryEvent{
				UserID:      userID,
				ChannelType: ch.Type,
				ChannelName: ch.Name,
				Source:      source,
				EventType:   eventType,
				Status:      status,
				Error:       errText,
				Took:        took,
			},
		})
	}

	if s.logs == nil {
		return
	}
	m := map[string]any{"title": n.Title}
	if n.PayloadURL != "" {
		m["payloadUrl"] = n.PayloadURL
	}
	for k, v := range meta {
		m[k] = v
	}
	entry := domain.DeliveryLogEntry{
		UserID:      userID,
		ChannelID:   ch.ID,
		ChannelType: ch.Type,
		ChannelName: ch.Name,
		Source:      source,
		EventType:   eventType,
		Status:      status,
		Error:       errText,
		RawError:    rawErr,
		Metadata:    m,
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := s.logs.AppendDeliveryLog(wctx, entry); err != nil {
		s.log.Warn("failed to save delivery log",
			logx.String("user", userID),
			logx.String("channel_type", ch.Type),
			logx.String("status", string(status)),
			logx.Any("err", err),
		)
	}
}
