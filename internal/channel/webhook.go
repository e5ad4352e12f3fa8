package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

const (
	TypeDiscord = "discord"
	TypeWebhook = "webhook"

	embedColor     = 5814783
	webhookTimeout = 10 * time.Second
)

// Webhook posts a single rich embed to a Discord-compatible incoming webhook.
//
// Channel config keys: webhookUrl (or url).
type Webhook struct {
	client *http.Client
	log    logx.Logger
	now    func() time.Time
}

func NewWebhook(log logx.Logger) *Webhook {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{
		client: &http.Client{Timeout: webhookTimeout},
		log:    log,
		now:    time.Now,
	}
}

func (w *Webhook) Type() string { return TypeDiscord }

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
	Footer      embedFooter  `json:"footer"`
	Timestamp   string       `json:"timestamp"`
}

type webhookBody struct {
	Embeds []embed `json:"embeds"`
}

// buildEmbed renders n as one embed.
func buildEmbed(n domain.Notification, at time.Time) embed {
	fields := make([]embedField, 0, len(n.Fields)+1)
	for _, f := range n.Fields {
		fields = append(fields, embedField{Name: f.Label, Value: f.Value, Inline: true})
	}
	if len(n.Links) > 0 {
		parts := make([]string, 0, len(n.Links))
		for _, l := range n.Links {
			parts = append(parts, "["+l.Label+"]("+l.URL+")")
		}
		fields = append(fields, embedField{Name: "Links", Value: strings.Join(parts, "\n")})
	}

	source := n.Source
	if source == "" {
		source = "System"
	}
	title := strings.TrimSpace(n.Emoji + " " + n.Title)

	return embed{
		Title:       title,
		Description: n.Summary,
		URL:         n.PayloadURL,
		Color:       embedColor,
		Fields:      fields,
		Footer:      embedFooter{Text: "Source: " + source},
		Timestamp:   at.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func (w *Webhook) Send(ctx context.Context, cfg map[string]any, n domain.Notification) Result {
	target := configString(cfg, "webhookUrl", "url")
	if target == "" {
		return failure(KindConfig, "Missing Discord webhookUrl", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(webhookBody{Embeds: []embed{buildEmbed(n, w.now())}})
	if err != nil {
		return failure(KindTransport, err.Error(), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return failure(KindConfig, err.Error(), nil)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Debug("webhook send failed", logx.String("err", err.Error()))
		return failure(KindTransport, err.Error(), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, raw := readErrorBody(resp)
		return failure(KindHTTP,
			fmt.Sprintf("Discord API error: %d - %s", resp.StatusCode, text),
			HTTPError{Status: resp.StatusCode, Response: raw},
		)
	}
	return ok(nil)
}
