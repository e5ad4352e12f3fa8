package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

func sampleNotification() domain.Notification {
	return domain.Notification{
		Title:      "Deploy v1.2",
		Emoji:      "✅",
		Source:     "vercel",
		Fields:     []domain.Field{{Label: "📦 Project", Value: "my-app"}},
		Links:      []domain.Link{{Label: "Visit", URL: "https://a.b/c"}},
		PayloadURL: "https://pinga.dev/p/1",
	}
}

func TestEscapeMarkdownV2RoundTrip(t *testing.T) {
	inputs := []string{
		"plain",
		"v1.2.3-beta_1",
		`a*b[c](d)~e` + "`" + `>#+-=|{}.!\`,
		"emoji ✅ and ü",
	}
	for _, in := range inputs {
		assert.Equal(t, in, UnescapeMarkdownV2(EscapeMarkdownV2(in)), in)
	}
	assert.Equal(t, `v1\.2`, EscapeMarkdownV2("v1.2"))
	assert.Equal(t, `\\`, EscapeMarkdownV2(`\`))
}

func TestFormatTelegram(t *testing.T) {
	got := FormatTelegram(sampleNotification())
	want := strings.Join([]string{
		`✅ *Deploy v1\.2*`,
		"",
		"📦 Project: my\\-app",
		"",
		"🔗 *Links:*",
		"  • [Visit](https://a.b/c)",
		"",
		"📄 [View Full Payload](https://pinga.dev/p/1)",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestTelegramLimitsEachTokenSeparately(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{DefaultToken: "A", APIURL: srv.URL, RatePerSec: 1}, logx.Nop())
	limA := tg.limiterFor("A")
	require.True(t, limA.Allow())
	assert.False(t, limA.Allow(), "token A budget is spent")
	assert.Same(t, limA, tg.limiterFor("A"))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	res := tg.Send(ctx, map[string]any{"chatId": "1", "botToken": "B"}, sampleNotification())
	require.True(t, res.Success, res.Error)

	res = tg.Send(ctx, map[string]any{"chatId": "1"}, sampleNotification())
	assert.False(t, res.Success, "default token A waits past the deadline")

	mu.Lock()
	assert.Equal(t, []string{"/botB/sendMessage"}, paths)
	mu.Unlock()

	tg.Apply(TelegramConfig{DefaultToken: "A", APIURL: srv.URL, RatePerSec: 1})
	assert.NotSame(t, limA, tg.limiterFor("A"))
}

func TestTelegramSendSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7}}`)
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{DefaultToken: "T0K", APIURL: srv.URL}, logx.Nop())
	res := tg.Send(context.Background(), map[string]any{"chatId": float64(42)}, sampleNotification())

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "/botT0K/sendMessage", gotPath)
	assert.Equal(t, "42", gotBody["chat_id"])
	assert.Equal(t, "MarkdownV2", gotBody["parse_mode"])
	assert.Equal(t, true, gotBody["disable_web_page_preview"])
	data, _ := res.Data.(map[string]any)
	assert.Equal(t, true, data["ok"])
}

func TestTelegramSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{APIURL: srv.URL}, logx.Nop())
	res := tg.Send(context.Background(), map[string]any{"chatId": "1", "botToken": "abc"}, sampleNotification())

	require.False(t, res.Success)
	assert.Equal(t, KindHTTP, res.Kind)
	assert.True(t, strings.HasPrefix(res.Error, "Telegram API Error: 400 - "), res.Error)
	he, ok := res.RawError.(HTTPError)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
	resp, _ := he.Response.(map[string]any)
	assert.Equal(t, "chat not found", resp["description"])
}

func TestTelegramMissingCredentials(t *testing.T) {
	tg := NewTelegram(TelegramConfig{}, logx.Nop())
	res := tg.Send(context.Background(), map[string]any{"chatId": "1"}, sampleNotification())
	assert.False(t, res.Success)
	assert.Equal(t, errTelegramCredentials, res.Error)
	assert.Equal(t, KindConfig, res.Kind)

	res = tg.Send(context.Background(), nil, sampleNotification())
	assert.Equal(t, errTelegramCredentials, res.Error)
}

func TestTelegramRedactsTokenOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tg := NewTelegram(TelegramConfig{APIURL: url, DefaultToken: "secret-token"}, logx.Nop())
	res := tg.Send(context.Background(), map[string]any{"chatId": "1"}, sampleNotification())
	require.False(t, res.Success)
	assert.Equal(t, KindTransport, res.Kind)
	assert.NotContains(t, res.Error, "secret-token")
}

func TestWebhookSendEmbed(t *testing.T) {
	var body webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(logx.Nop())
	wh.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	n := sampleNotification()
	n.Summary = "shipped"
	res := wh.Send(context.Background(), map[string]any{"webhookUrl": srv.URL}, n)
	require.True(t, res.Success, res.Error)

	require.Len(t, body.Embeds, 1)
	e := body.Embeds[0]
	assert.Equal(t, "✅ Deploy v1.2", e.Title)
	assert.Equal(t, "shipped", e.Description)
	assert.Equal(t, "https://pinga.dev/p/1", e.URL)
	assert.Equal(t, embedColor, e.Color)
	assert.Equal(t, "Source: vercel", e.Footer.Text)
	assert.Equal(t, "2024-01-02T03:04:05.000Z", e.Timestamp)
	require.Len(t, e.Fields, 2)
	assert.True(t, e.Fields[0].Inline)
	assert.Equal(t, embedField{Name: "Links", Value: "[Visit](https://a.b/c)"}, e.Fields[1])
}

func TestWebhookErrors(t *testing.T) {
	wh := NewWebhook(logx.Nop())
	res := wh.Send(context.Background(), map[string]any{}, sampleNotification())
	assert.Equal(t, "Missing Discord webhookUrl", res.Error)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	res = wh.Send(context.Background(), map[string]any{"url": srv.URL}, sampleNotification())
	assert.Equal(t, "Discord API error: 429 - slow down", res.Error)
	assert.Equal(t, HTTPError{Status: 429, Response: "slow down"}, res.RawError)
}

func TestEmbedFooterDefaultsToSystem(t *testing.T) {
	n := sampleNotification()
	n.Source = ""
	e := buildEmbed(n, time.Unix(0, 0))
	assert.Equal(t, "Source: System", e.Footer.Text)
	assert.Empty(t, e.Description)
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	wh := NewWebhook(logx.Nop())
	r := NewRegistry(wh)
	r.Register(TypeWebhook, wh)

	b, ok := r.Lookup("Discord")
	require.True(t, ok)
	assert.Same(t, wh, b)
	_, ok = r.Lookup("webhook")
	assert.True(t, ok)
	_, ok = r.Lookup("slack")
	assert.False(t, ok)
	assert.Equal(t, []string{"discord", "webhook"}, r.Types())
}
