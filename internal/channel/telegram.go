package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

const (
	TypeTelegram = "telegram"

	defaultTelegramAPI = "https://api.telegram.org"
	telegramTimeout    = 10 * time.Second

	errTelegramCredentials = "Telegram credentials missing (botToken or chatId)"
)

// TelegramConfig holds process-wide settings of the Telegram backend.
type TelegramConfig struct {
	DefaultToken string // used when a channel has no botToken
	APIURL       string // default https://api.telegram.org
	RatePerSec   int    // sendMessage budget per bot token, default 25
}

// Telegram sends direct messages through the Bot API sendMessage method.
//
// Channel config keys: chatId (string or number), botToken (optional).
type Telegram struct {
	mu       sync.RWMutex
	cfg      TelegramConfig
	limiters map[string]*rate.Limiter // by bot token

	client *http.Client
	log    logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Telegram{client: &http.Client{Timeout: telegramTimeout}, log: log}
	t.Apply(cfg)
	return t
}

// Apply swaps the backend settings. Safe during hot reload.
func (t *Telegram) Apply(cfg TelegramConfig) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = defaultTelegramAPI
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	t.mu.Lock()
	t.cfg = cfg
	t.limiters = make(map[string]*rate.Limiter)
	t.mu.Unlock()
}

// limiterFor returns the send limiter of token, creating it on first use.
func (t *Telegram) limiterFor(token string) *rate.Limiter {
	t.mu.RLock()
	lim := t.limiters[token]
	t.mu.RUnlock()
	if lim != nil {
		return lim
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if lim = t.limiters[token]; lim == nil {
		n := t.cfg.RatePerSec
		lim = rate.NewLimiter(rate.Limit(n), n)
		t.limiters[token] = lim
	}
	return lim
}

func (t *Telegram) Type() string { return TypeTelegram }

func (t *Telegram) Send(ctx context.Context, cfg map[string]any, n domain.Notification) Result {
	t.mu.RLock()
	settings := t.cfg
	t.mu.RUnlock()

	chatID := configString(cfg, "chatId", "chat_id")
	token := configString(cfg, "botToken", "bot_token")
	if token == "" {
		token = settings.DefaultToken
	}
	if chatID == "" || token == "" {
		return failure(KindConfig, errTelegramCredentials, nil)
	}
	return t.SendText(ctx, settings.APIURL, token, chatID, FormatTelegram(n), t.limiterFor(token))
}

// SendPlain sends already formatted text with the default token. It is used
// for operator alerts.
func (t *Telegram) SendPlain(ctx context.Context, chatID, text string) Result {
	t.mu.RLock()
	settings := t.cfg
	t.mu.RUnlock()
	if chatID == "" || settings.DefaultToken == "" {
		return failure(KindConfig, errTelegramCredentials, nil)
	}
	return t.SendText(ctx, settings.APIURL, settings.DefaultToken, chatID, EscapeMarkdownV2(text), t.limiterFor(settings.DefaultToken))
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// SendText posts MarkdownV2 text to chatID.
func (t *Telegram) SendText(ctx context.Context, apiURL, token, chatID, text string, lim *rate.Limiter) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, telegramTimeout)
	defer cancel()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return failure(KindTransport, err.Error(), err.Error())
		}
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return failure(KindTransport, err.Error(), nil)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", apiURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(KindTransport, redact(err.Error(), token), nil)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		msg := redact(err.Error(), token)
		t.log.Debug("telegram send failed", logx.String("chat_id", chatID), logx.String("err", msg))
		return failure(KindTransport, msg, msg)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, raw := readErrorBody(resp)
		t.log.Debug("telegram api error", logx.String("chat_id", chatID), logx.Int("status", resp.StatusCode))
		return failure(KindHTTP,
			fmt.Sprintf("Telegram API Error: %d - %s", resp.StatusCode, text),
			HTTPError{Status: resp.StatusCode, Response: raw},
		)
	}

	var data any
	_ = json.NewDecoder(resp.Body).Decode(&data)
	return ok(data)
}

// FormatTelegram renders n as a MarkdownV2 message.
func FormatTelegram(n domain.Notification) string {
	lines := make([]string, 0, len(n.Fields)+len(n.Links)+6)
	lines = append(lines, n.Emoji+" *"+EscapeMarkdownV2(n.Title)+"*", "")
	for _, f := range n.Fields {
		lines = append(lines, EscapeMarkdownV2(f.Label)+": "+EscapeMarkdownV2(f.Value))
	}
	if len(n.Links) > 0 {
		lines = append(lines, "", "🔗 *Links:*")
		for _, l := range n.Links {
			lines = append(lines, "  • ["+EscapeMarkdownV2(l.Label)+"]("+escapeLinkURL(l.URL)+")")
		}
	}
	if n.PayloadURL != "" {
		lines = append(lines, "", "📄 [View Full Payload]("+escapeLinkURL(n.PayloadURL)+")")
	}
	return strings.Join(lines, "\n")
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}
