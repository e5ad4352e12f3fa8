package app

import (
	"strings"

	"pinga/internal/channel"
	"pinga/internal/config"
	"pinga/internal/notifier"
	"pinga/internal/payload"
	"pinga/internal/retention"
	"pinga/internal/server"
	"pinga/internal/storage"
	tgbot "pinga/internal/transport/telegram"
	logx "pinga/pkg/logx"
)

// settings is a Config with every duration parsed and default applied,
// split per component.
type settings struct {
	logging   logx.Config
	storage   storage.Config
	telegram  channel.TelegramConfig
	bot       tgbot.Config
	botOn     bool
	alertChat string
	delivery  notifier.Config
	payloads  payload.Options
	server    server.Config
	retention retention.Config
}

func mapConfig(cfg *config.Config) (settings, error) {
	res, err := cfg.Resolve()
	if err != nil {
		return settings{}, err
	}

	var s settings
	s.logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}

	s.storage = storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: res.StorageBusy,
		MaxConns:    cfg.Storage.MaxConns,
	}

	token := strings.TrimSpace(cfg.Telegram.BotToken)
	s.telegram = channel.TelegramConfig{
		DefaultToken: token,
		APIURL:       cfg.Telegram.APIURL,
		RatePerSec:   cfg.Telegram.RatePerSec,
	}
	s.bot = tgbot.Config{Token: token, APIURL: cfg.Telegram.APIURL, PollTimeout: res.BotPollTimeout}
	s.botOn = cfg.Telegram.Bot.Enabled && token != ""
	s.alertChat = strings.TrimSpace(cfg.Telegram.ChatID)

	s.delivery = notifier.Config{Timeout: res.DeliveryTimeout, LogLegacy: cfg.Delivery.LogLegacy}

	s.payloads = payload.Options{
		TTL:        res.PayloadTTL,
		BaseURL:    cfg.Server.BaseURL,
		MaxEntries: cfg.Payloads.MaxEntries,
	}

	rl := cfg.Server.RateLimit
	if rl.RPS == 0 {
		rl.RPS = config.DefaultRateLimitRPS
	}
	if rl.Burst == 0 {
		rl.Burst = config.DefaultRateLimitBurst
	}
	metricsPath := strings.TrimSpace(cfg.Server.Metrics.Path)
	if metricsPath == "" {
		metricsPath = config.DefaultMetricsPath
	}
	s.server = server.Config{
		Addr:             cfg.Addr(),
		DefaultRecipient: cfg.DefaultRecipient(),
		MaxBodyBytes:     cfg.MaxBodyBytes(),
		ReadTimeout:      res.ReadTimeout,
		WriteTimeout:     res.WriteTimeout,
		IdleTimeout:      res.IdleTimeout,
		RateLimit:        server.RateLimit{Enabled: rl.Enabled, RPS: rl.RPS, Burst: rl.Burst},
		Metrics:          server.Metrics{Enabled: cfg.Server.Metrics.Enabled, Path: metricsPath},
		Pprof: server.Pprof{
			Enabled:       cfg.Server.Pprof.Enabled,
			Prefix:        cfg.Server.Pprof.Prefix,
			Token:         cfg.Server.Pprof.Token,
			AllowInsecure: cfg.Server.Pprof.AllowInsecure,
		},
	}

	s.retention = retention.Config{
		Enabled:  cfg.RetentionEnabled(),
		Schedule: cfg.RetentionSchedule(),
		MaxAge:   res.RetentionMaxAge,
		Timezone: cfg.Retention.Timezone,
	}
	return s, nil
}

// validate runs the checks that need component packages.
func validate(cfg *config.Config) error {
	s, err := mapConfig(cfg)
	if err != nil {
		return err
	}
	return retention.Validate(s.retention)
}
