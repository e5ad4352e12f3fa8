package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

func entry(user string, status domain.DeliveryStatus, at time.Time) domain.DeliveryLogEntry {
	return domain.DeliveryLogEntry{
		UserID:      user,
		ChannelID:   "ch-1",
		ChannelType: "telegram",
		ChannelName: "Ops",
		Source:      "github",
		EventType:   "push",
		Status:      status,
		CreatedAt:   at,
	}
}

func sampleRecipient() domain.Recipient {
	return domain.Recipient{
		ID:          "u1",
		Preferences: domain.Preferences{AllowedSources: []string{"github"}},
		Channels: []domain.Channel{{
			ID:      "c1",
			Type:    "telegram",
			Enabled: true,
			Config:  map[string]any{"chatId": "-1001234567890"},
		}},
	}
}

// exerciseStore runs the behavior every driver must share.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.AppendDeliveryLog(ctx, entry("u1", domain.StatusSuccess, base)))
	failed := entry("u1", domain.StatusFailure, base.Add(time.Minute))
	failed.Error = "Telegram API Error: 400 - bad"
	failed.RawError = map[string]any{"status": 400}
	failed.Metadata = map[string]any{"filter": "repository"}
	require.NoError(t, st.AppendDeliveryLog(ctx, failed))
	require.NoError(t, st.AppendDeliveryLog(ctx, entry("u2", domain.StatusSkipped, base.Add(2*time.Minute))))

	logs, err := st.ListDeliveryLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.StatusFailure, logs[0].Status)
	assert.Equal(t, "Telegram API Error: 400 - bad", logs[0].Error)
	assert.NotEmpty(t, logs[0].ID)
	assert.NotNil(t, logs[0].RawError)
	assert.Equal(t, "repository", logs[0].Metadata["filter"])
	assert.True(t, logs[0].CreatedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, domain.StatusSuccess, logs[1].Status)

	limited, err := st.ListDeliveryLogs(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.StatusFailure, limited[0].Status)

	removed, err := st.PruneDeliveryLogs(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	logs, err = st.ListDeliveryLogs(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = st.GetRecipient(ctx, "u1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, st.PutRecipient(ctx, sampleRecipient()))
	r, err := st.GetRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, r.Preferences.AllowedSources)
	require.Len(t, r.Channels, 1)
	assert.Equal(t, "-1001234567890", r.Channels[0].Config["chatId"])

	r.Channels[0].Enabled = false
	require.NoError(t, st.PutRecipient(ctx, r))
	r, err = st.GetRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, r.Channels[0].Enabled)

	assert.Error(t, st.PutRecipient(ctx, domain.Recipient{}))
}

func TestMemoryStore(t *testing.T) {
	st, err := Open(context.Background(), Config{}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	exerciseStore(t, st)
}

func TestMemoryStoreIsolatesRecipients(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	r := sampleRecipient()
	require.NoError(t, st.PutRecipient(ctx, r))
	r.Channels[0].Config["chatId"] = "changed"

	got, err := st.GetRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "-1001234567890", got.Channels[0].Config["chatId"])
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "pinga.db")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)
	require.NoError(t, st.Close())

	// Everything survives a reopen.
	st, err = Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	logs, err := st.ListDeliveryLogs(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	r, err := st.GetRecipient(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, r.Channels[0].Enabled)
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinga.sqlite")
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)
	require.NoError(t, st.Close())

	st, err = Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, err = st.GetRecipient(context.Background(), "u1")
	assert.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PINGA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PINGA_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	pg := st.(*postgresStore)
	_, err = pg.pool.Exec(ctx, "TRUNCATE delivery_logs, recipients")
	require.NoError(t, err)
	exerciseStore(t, st)
}

func TestPostgresRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
}

func TestClosedMemoryStore(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.Close())
	err := st.AppendDeliveryLog(context.Background(), entry("u1", domain.StatusSuccess, time.Now()))
	assert.True(t, errors.Is(err, ErrDisabled))
}
