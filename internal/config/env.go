package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvBotToken   = "TELEGRAM_BOT_TOKEN"
	EnvChatID     = "TELEGRAM_CHAT_ID"
	EnvBaseURL    = "PINGA_BASE_URL"
	EnvAddr       = "PINGA_ADDR"
	EnvPayloadTTL = "PAYLOAD_TTL_HOURS"
	EnvStorageDSN = "PINGA_STORAGE_DSN"
)

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment values onto cfg. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvBotToken); ok {
		c.Telegram.BotToken = v
	}
	if v, ok := get(EnvChatID); ok {
		c.Telegram.ChatID = v
	}
	if v, ok := get(EnvBaseURL); ok {
		c.Server.BaseURL = v
	}
	if v, ok := get(EnvAddr); ok {
		c.Server.Addr = v
	}
	if v, ok := get(EnvPayloadTTL); ok {
		if h, err := strconv.ParseFloat(v, 64); err == nil && h > 0 {
			c.Payloads.TTL = strconv.FormatFloat(h, 'f', -1, 64) + "h"
		}
	}
	if v, ok := get(EnvStorageDSN); ok {
		c.Storage.DSN = v
		if strings.TrimSpace(c.Storage.Driver) == "" {
			c.Storage.Driver = "postgres"
		}
	}
}
