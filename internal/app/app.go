// Package app wires configuration, storage, delivery and the HTTP API into
// one process and owns their lifecycle and hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pinga/internal/analyzer"
	"pinga/internal/channel"
	"pinga/internal/config"
	"pinga/internal/eventbus"
	"pinga/internal/metrics"
	"pinga/internal/notifier"
	"pinga/internal/payload"
	"pinga/internal/retention"
	rtsup "pinga/internal/runtime/supervisor"
	"pinga/internal/server"
	"pinga/internal/storage"
	tgbot "pinga/internal/transport/telegram"
	logx "pinga/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus      eventbus.Bus
	store    storage.Store
	metrics  *metrics.Metrics
	telegram *channel.Telegram
	alerts   *alertSender
	notif    *notifier.Service
	payloads *payload.Store
	server   *server.Server
	prune    *retention.Service
	linker   *tgbot.Linker

	mu      sync.Mutex
	cur     settings
	bot     *tgbot.Bot
	botConf tgbot.Config
}

// New loads the config file and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	set, err := mapConfig(cfg)
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(set.logging, nil)
	log := root.With(logx.String("comp", "app"))

	tg := channel.NewTelegram(set.telegram, root.With(logx.String("comp", "channel.telegram")))
	alerts := &alertSender{tg: tg}
	alerts.setChat(set.alertChat)
	logs.SetAlertSender(alerts)

	st, err := storage.Open(ctx, set.storage, root)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	seeded, err := seedRecipients(ctx, st, cfg)
	if err != nil {
		_ = st.Close()
		_ = logs.Close()
		return nil, fmt.Errorf("seed recipients: %w", err)
	}

	m := metrics.New()
	bus := eventbus.New()

	webhook := channel.NewWebhook(root.With(logx.String("comp", "channel.webhook")))
	backends := channel.NewRegistry(tg, webhook)
	backends.Register(channel.TypeWebhook, webhook)

	notif := notifier.New(set.delivery,
		notifier.WithBackends(backends),
		notifier.WithLogWriter(st),
		notifier.WithEventBus(bus),
		notifier.WithMetrics(m),
		notifier.WithLogger(root.With(logx.String("comp", "notifier"))),
	)

	popts := set.payloads
	popts.OnChange = m.PayloadsStored
	payloads := payload.New(popts)

	srv := server.New(set.server, server.Deps{
		Analyzer:   analyzer.Default(root.With(logx.String("comp", "analyzer"))),
		Payloads:   payloads,
		Recipients: st,
		Logs:       st,
		Notifier:   notif,
		Metrics:    m,
		Bus:        bus,
	}, root.With(logx.String("comp", "server")))

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		bus:      bus,
		store:    st,
		metrics:  m,
		telegram: tg,
		alerts:   alerts,
		notif:    notif,
		payloads: payloads,
		server:   srv,
		prune:    retention.New(set.retention, st, root.With(logx.String("comp", "retention"))),
		cur:      set,
	}
	a.linker = tgbot.NewLinker(st, a.defaultToken, root.With(logx.String("comp", "telegram.bot")))

	log.Info("app configured",
		logx.String("storage", storageName(set.storage.Driver)),
		logx.Strings("channels", backends.Types()),
		logx.Int("recipients_seeded", seeded),
	)
	return a, nil
}

func storageName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return strings.ToLower(driver)
}

func (a *App) defaultToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur.telegram.DefaultToken
}

// Done is closed when the app context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.prune.Start(run); err != nil {
		return err
	}
	a.server.Start(run)

	a.mu.Lock()
	botOn := a.cur.botOn
	a.mu.Unlock()
	if botOn {
		a.startBot(run)
	}

	a.sup.Go0("payloads.sweep", func(c context.Context) {
		res, _ := a.cfgm.Get().Resolve()
		a.payloads.Run(c, res.PayloadSweep)
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if iv, err := daemon.SdWatchdogEnabled(false); err == nil && iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { a.watchdog(c, iv/2) })
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

func (a *App) watchdog(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				a.log.Debug("sd_notify watchdog failed", logx.Err(err))
			}
		}
	}
}

// startBot connects the inbound bot. A failure is logged and the app keeps
// running without it.
func (a *App) startBot(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return
	}
	bot, err := tgbot.NewBot(a.cur.bot, a.linker, a.log.With(logx.String("comp", "telegram.bot")))
	if err != nil {
		a.log.Error("telegram bot disabled: connect failed", logx.Err(err))
		return
	}
	bot.Start(ctx)
	a.bot = bot
	a.botConf = a.cur.bot
}

func (a *App) stopBot(ctx context.Context) {
	a.mu.Lock()
	bot := a.bot
	a.bot = nil
	a.mu.Unlock()
	if bot != nil {
		bot.Stop(ctx)
	}
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}

// reloadLoop applies published configs, coalescing bursts into the newest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						break drain
					}
					next = newer
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, recipients := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	set, err := mapConfig(next)
	if err != nil {
		a.log.Warn("config reload rejected; keeping previous", logx.Err(err))
		return
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(set.logging)
	a.telegram.Apply(set.telegram)
	a.alerts.setChat(set.alertChat)
	a.notif.Apply(set.delivery)
	a.payloads.Apply(set.payloads)
	a.server.Reconfigure(ctx, set.server)
	if err := a.prune.Apply(set.retention); err != nil {
		a.log.Warn("retention reschedule failed", logx.Err(err))
	}

	if len(recipients) > 0 || (prev != nil && prev.Telegram.ChatID != next.Telegram.ChatID) {
		if n, err := seedRecipients(ctx, a.store, next); err != nil {
			a.log.Warn("recipient upsert failed", logx.Err(err))
		} else {
			a.log.Debug("recipients upserted", logx.Int("count", n), logx.Strings("changed", recipients))
		}
	}

	a.mu.Lock()
	a.cur = set
	running := a.bot != nil
	botChanged := a.botConf != set.bot
	a.mu.Unlock()
	switch {
	case running && (!set.botOn || botChanged):
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.stopBot(stopCtx)
		cancel()
		if set.botOn {
			a.startBot(ctx)
		}
	case !running && set.botOn:
		a.startBot(ctx)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("server", 5*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	step("telegram.bot", 2*time.Second, func(c context.Context) error { a.stopBot(c); return nil })
	step("retention", 2*time.Second, func(c context.Context) error { a.prune.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
