package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pinga/internal/domain"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Payloads  PayloadsConfig  `json:"payloads"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Retention RetentionConfig `json:"retention"`

	// Recipients are upserted into storage at startup and on reload.
	Recipients []domain.Recipient `json:"recipients,omitempty"`
}

// ServerConfig controls the HTTP ingestion API.
//
// Changing addr requires a restart; everything else is applied live.
type ServerConfig struct {
	Addr             string `json:"addr,omitempty"`     // default ":8080"
	BaseURL          string `json:"base_url,omitempty"` // public origin for payload links
	DefaultRecipient string `json:"default_recipient,omitempty"`
	MaxBodyBytes     int64  `json:"max_body_bytes,omitempty"` // default 1 MiB

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	RateLimit RateLimitConfig `json:"rate_limit"`
	Metrics   MetricsConfig   `json:"metrics"`
	Pprof     PprofConfig     `json:"pprof"`
}

// RateLimitConfig is a per-client-IP token bucket on the ingestion routes.
type RateLimitConfig struct {
	Enabled bool    `json:"enabled"`
	RPS     float64 `json:"rps,omitempty"`   // default 5
	Burst   int     `json:"burst,omitempty"` // default 20
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default "/metrics"
}

// PprofConfig mounts net/http/pprof on the API server.
//
// Security note: set a token unless the server only listens on loopback, or
// explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type TelegramConfig struct {
	// BotToken is the system default token, used by channels without their
	// own botToken, by the inbound bot and by log alerts.
	BotToken string `json:"bot_token,omitempty"`
	// ChatID receives log alerts and backs the synthesized default recipient.
	ChatID     string    `json:"chat_id,omitempty"`
	APIURL     string    `json:"api_url,omitempty"`
	RatePerSec int       `json:"rate_per_sec,omitempty"`
	Bot        BotConfig `json:"bot"`
}

// BotConfig controls the inbound long-polling bot used for chat linking.
type BotConfig struct {
	Enabled     bool   `json:"enabled"`
	PollTimeout string `json:"poll_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	JSON    bool          `json:"json,omitempty"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards error logs to telegram.chat_id.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pinga.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // memory | file | sqlite | postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type PayloadsConfig struct {
	TTL           string `json:"ttl,omitempty"`            // default "24h"
	MaxEntries    int    `json:"max_entries,omitempty"`    // default 10000
	SweepInterval string `json:"sweep_interval,omitempty"` // default "1m"
}

type DeliveryConfig struct {
	Timeout   string `json:"timeout,omitempty"` // default "10s"
	LogLegacy bool   `json:"log_legacy,omitempty"`
}

type RetentionConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`       // default true
	Schedule     string `json:"schedule,omitempty"`      // cron spec, default "@every 1h"
	DeliveryLogs string `json:"delivery_logs,omitempty"` // max age, default "168h"
	Timezone     string `json:"timezone,omitempty"`
}

// Defaults.
const (
	DefaultAddr             = ":8080"
	DefaultRecipientID      = "default"
	DefaultMaxBodyBytes     = 1 << 20
	DefaultMetricsPath      = "/metrics"
	DefaultRetentionSpec    = "@every 1h"
	DefaultRetentionMaxAge  = 7 * 24 * time.Hour
	DefaultDeliveryTimeout  = 10 * time.Second
	DefaultPayloadTTL       = 24 * time.Hour
	DefaultPayloadSweep     = time.Minute
	DefaultBotPollTimeout   = 10 * time.Second
	DefaultRateLimitRPS     = 5
	DefaultRateLimitBurst   = 20
	DefaultTelegramRatePerS = 25
)

// Resolved holds the parsed durations of a Config.
type Resolved struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	BotPollTimeout  time.Duration
	StorageBusy     time.Duration
	PayloadTTL      time.Duration
	PayloadSweep    time.Duration
	DeliveryTimeout time.Duration
	RetentionMaxAge time.Duration
}

// Resolve parses every duration field, applying defaults.
func (c *Config) Resolve() (Resolved, error) {
	var (
		r    Resolved
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		d, err := durationOr(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}
	parse(&r.ReadTimeout, "server.read_timeout", c.Server.ReadTimeout, 15*time.Second)
	parse(&r.WriteTimeout, "server.write_timeout", c.Server.WriteTimeout, 60*time.Second)
	parse(&r.IdleTimeout, "server.idle_timeout", c.Server.IdleTimeout, 2*time.Minute)
	parse(&r.BotPollTimeout, "telegram.bot.poll_timeout", c.Telegram.Bot.PollTimeout, DefaultBotPollTimeout)
	parse(&r.StorageBusy, "storage.busy_timeout", c.Storage.BusyTimeout, 0)
	parse(&r.PayloadTTL, "payloads.ttl", c.Payloads.TTL, DefaultPayloadTTL)
	parse(&r.PayloadSweep, "payloads.sweep_interval", c.Payloads.SweepInterval, DefaultPayloadSweep)
	parse(&r.DeliveryTimeout, "delivery.timeout", c.Delivery.Timeout, DefaultDeliveryTimeout)
	parse(&r.RetentionMaxAge, "retention.delivery_logs", c.Retention.DeliveryLogs, DefaultRetentionMaxAge)
	return r, errors.Join(errs...)
}

// Validate checks everything that can be checked without touching the
// network or the filesystem.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Resolve(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for driver "+c.Storage.Driver))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for driver "+c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be >= 0"))
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("server.rate_limit: rps and burst must be >= 0"))
	}
	if c.Telegram.Bot.Enabled && strings.TrimSpace(c.Telegram.BotToken) == "" {
		errs = append(errs, errors.New("telegram.bot.enabled requires telegram.bot_token"))
	}
	seen := map[string]bool{}
	for i, r := range c.Recipients {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("recipients[%d]: id is required", i))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("recipients[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	if a := strings.TrimSpace(c.Server.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

func (c *Config) DefaultRecipient() string {
	if id := strings.TrimSpace(c.Server.DefaultRecipient); id != "" {
		return id
	}
	return DefaultRecipientID
}

func (c *Config) MaxBodyBytes() int64 {
	if c.Server.MaxBodyBytes > 0 {
		return c.Server.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

func (c *Config) RetentionEnabled() bool {
	return c.Retention.Enabled == nil || *c.Retention.Enabled
}

func (c *Config) RetentionSchedule() string {
	if s := strings.TrimSpace(c.Retention.Schedule); s != "" {
		return s
	}
	return DefaultRetentionSpec
}
