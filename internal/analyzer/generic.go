package analyzer

import (
	"sort"
	"strconv"
	"strings"

	"pinga/internal/domain"
	"pinga/pkg/jsonx"
)

// Generic accepts any payload and extracts well-known keys heuristically.
type Generic struct{}

const (
	maxGenericLinks = 5
	maxListedKeys   = 5
)

// Envelope keys searched when a key is not found at the top level.
var genericEnvelopes = []string{"data", "payload", "body"}

func (Generic) Name() string { return domain.SourceGeneric }

func (Generic) CanHandle(any, Headers) bool { return true }

func (Generic) Analyze(p any, _ Headers) Result {
	obj := jsonx.Object(p)

	eventType := extractScalar(obj, "type", "event", "eventType", "action")
	title := "Webhook Received"
	if eventType != "" {
		title = Humanize(eventType)
	}

	status := extractScalar(obj, "status", "state", "result")

	d := newDraft()
	d.field("📊 Status", status)
	d.field("📦 Name", extractScalar(obj, "name", "project", "service", "serviceName", "app"))
	d.field("🎯 Env", extractScalar(obj, "environment", "env", "target"))
	if msg := extractScalar(obj, "message", "description", "text"); msg != "" {
		d.field("💬", Truncate(msg, longValue))
	}

	links := extractURLs(p, "")
	if len(links) > maxGenericLinks {
		links = links[:maxGenericLinks]
	}
	for _, l := range links {
		d.link(l.Label, l.URL)
	}

	if len(d.fields) == 0 && len(obj) > 0 {
		keys := sortedKeys(obj)
		if len(keys) > maxListedKeys {
			keys = keys[:maxListedKeys]
		}
		d.field("📋 Fields", strings.Join(keys, ", "))
	}

	emoji := StatusEmoji(status)
	if emoji == "" {
		emoji = "📡"
	}

	return Result{
		Source:       domain.SourceGeneric,
		Notification: d.notification(domain.SourceGeneric, eventType, title, emoji),
	}
}

// extractScalar returns the first key holding a non-empty scalar, looking at
// the top level first and then inside the envelope objects.
func extractScalar(obj map[string]any, keys ...string) string {
	if obj == nil {
		return ""
	}
	for _, k := range keys {
		if s := jsonx.Scalar(obj[k]); s != "" {
			return s
		}
	}
	for _, env := range genericEnvelopes {
		nested := jsonx.Object(obj[env])
		if nested == nil {
			continue
		}
		for _, k := range keys {
			if s := jsonx.Scalar(nested[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

// extractURLs walks v depth-first in key order and collects every http(s)
// string with a label derived from its key.
func extractURLs(v any, key string) []domain.Link {
	switch t := v.(type) {
	case string:
		if !isURL(t) {
			return nil
		}
		label := "Link"
		if key != "" {
			label = URLLabel(key)
		}
		return []domain.Link{{Label: label, URL: t}}
	case []any:
		var out []domain.Link
		for i, item := range t {
			out = append(out, extractURLs(item, key+"["+strconv.Itoa(i)+"]")...)
		}
		return out
	case map[string]any:
		var out []domain.Link
		for _, k := range sortedKeys(t) {
			out = append(out, extractURLs(t[k], k)...)
		}
		return out
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
