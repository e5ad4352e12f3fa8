package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const sampleJSON = `{
  "server": {"addr": ":9000", "base_url": "https://pinga.example"},
  "telegram": {"bot_token": "file-token", "chat_id": "-100"},
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "memory"},
  "delivery": {"timeout": "3s"},
  "recipients": [{
    "id": "u1",
    "preferences": {"allowedSources": ["github"]},
    "channels": [{
      "type": "telegram", "enabled": true,
      "config": {"chatId": "42"},
      "webhookRules": {"sources": [{"type": "github", "enabled": true, "filters": {"repositories": ["org/repo"]}}]}
    }]
  }]
}`

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "pinga.json", sampleJSON)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr())
	assert.Equal(t, "default", cfg.DefaultRecipient())
	require.Len(t, cfg.Recipients, 1)
	assert.Equal(t, []string{"org/repo"}, cfg.Recipients[0].Channels[0].WebhookRules.Sources[0].Filters.Repositories)
	assert.Same(t, cfg, m.Get())

	r, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, r.DeliveryTimeout)
	assert.Equal(t, DefaultPayloadTTL, r.PayloadTTL)
	assert.Equal(t, DefaultRetentionMaxAge, r.RetentionMaxAge)
}

func TestLoadYAML(t *testing.T) {
	body := `
server:
  addr: ":7000"
telegram:
  bot_token: abc
retention:
  schedule: "0 */10 * * * *"
  delivery_logs: 48h
`
	p := writeFile(t, t.TempDir(), "pinga.yaml", body)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr())
	assert.Equal(t, "0 */10 * * * *", cfg.RetentionSchedule())
	assert.True(t, cfg.RetentionEnabled())
}

func TestStrictDecoding(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"server":{"adr":":1"}}`))
	assert.Error(t, err, "unknown field must be rejected")

	_, err = Decode("c.json", []byte(`{} {}`))
	assert.Error(t, err, "trailing data must be rejected")

	_, err = Decode("c.yml", []byte("logging:\n  levl: info\n"))
	assert.Error(t, err)

	cfg, err := Decode("c.yaml", []byte(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Addr())
}

func TestValidate(t *testing.T) {
	cases := map[string]Config{
		"bad duration":      {Delivery: DeliveryConfig{Timeout: "soon"}},
		"negative":          {Payloads: PayloadsConfig{TTL: "-1h"}},
		"file without path": {Storage: StorageConfig{Driver: "file"}},
		"postgres no dsn":   {Storage: StorageConfig{Driver: "postgres"}},
		"unknown driver":    {Storage: StorageConfig{Driver: "redis"}},
		"bot without token": {Telegram: TelegramConfig{Bot: BotConfig{Enabled: true}}},
	}
	for name, cfg := range cases {
		cfg := cfg
		assert.Error(t, cfg.Validate(), name)
	}
	assert.NoError(t, (&Config{}).Validate())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBotToken:   "env-token",
		EnvChatID:     "777",
		EnvBaseURL:    "https://env.example",
		EnvAddr:       ":1234",
		EnvPayloadTTL: "12",
		EnvStorageDSN: "postgres://u:p@localhost/pinga",
	}
	cfg := &Config{Telegram: TelegramConfig{BotToken: "file-token"}}
	cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
	assert.Equal(t, "777", cfg.Telegram.ChatID)
	assert.Equal(t, "https://env.example", cfg.Server.BaseURL)
	assert.Equal(t, ":1234", cfg.Addr())
	assert.Equal(t, "12h", cfg.Payloads.TTL)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadDotEnv(t *testing.T) {
	key := "PINGA_TEST_DOTENV_VALUE"
	p := writeFile(t, t.TempDir(), ".env", key+"=from-file\n")
	require.NoError(t, LoadDotEnv(p))
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	assert.Equal(t, "from-file", os.Getenv(key))
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("a.json", []byte(sampleJSON))
	require.NoError(t, err)
	newCfg, err := Decode("b.json", []byte(sampleJSON))
	require.NoError(t, err)

	changed, _, recipients := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, recipients)

	newCfg.Telegram.BotToken = "rotated"
	newCfg.Delivery.LogLegacy = true
	newCfg.Recipients[0].Channels[0].Enabled = false
	changed, attrs, recipients := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"delivery", "recipients", "telegram"}, changed)
	assert.Equal(t, []string{"u1"}, recipients)
	assert.NotEmpty(t, attrs)
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "pinga.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, "debug", cfg.Logging.Level)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	p := writeFile(t, t.TempDir(), "pinga.json", `{}`)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte(`{"delivery":{"timeout":"never"}}`), 0o600))
	assert.False(t, m.reload(context.Background()))

	require.NoError(t, os.WriteFile(p, []byte(`{"delivery":{"timeout":"2s"}}`), 0o600))
	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	assert.False(t, m.reload(context.Background()))

	m.SetValidator(nil)
	assert.True(t, m.reload(context.Background()))
	assert.False(t, m.reload(context.Background()), "unchanged content is not republished")
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetEnvLookup(func(k string) (string, bool) {
		if k == EnvAddr {
			return ":4321", true
		}
		return "", false
	})
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, ":4321", cfg.Addr())
}

func TestDurationOr(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Minute},
		{"  ", time.Minute},
		{"0s", time.Minute},
		{"90s", 90 * time.Second},
		{"7d", 7 * 24 * time.Hour},
		{" 2d ", 48 * time.Hour},
	}
	for _, c := range cases {
		got, err := durationOr("x", c.raw, time.Minute)
		require.NoError(t, err, c.raw)
		assert.Equal(t, c.want, got, c.raw)
	}

	for _, raw := range []string{"soon", "-1h", "-2d", "1.5d", "d"} {
		_, err := durationOr("retention.delivery_logs", raw, time.Minute)
		assert.ErrorContains(t, err, "retention.delivery_logs", raw)
	}
}
