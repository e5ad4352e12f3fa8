package analyzer

import (
	"strings"

	"pinga/internal/domain"
	"pinga/pkg/jsonx"
)

// Render handles PaaS service events. Render signs its deliveries with a
// "webhook-id: evt-..." header; unsigned payloads are recognized by shape.
type Render struct{}

const renderDashboardURL = "https://dashboard.render.com/web/"

var renderEmojis = map[string]string{
	"deploy_started":     "🔄",
	"deploy_ended":       "🚀",
	"build_started":      "🔨",
	"build_ended":        "📦",
	"server_available":   "✅",
	"server_unavailable": "❌",
	"suspend_started":    "⏸️",
	"suspend_ended":      "▶️",
}

var renderTitles = map[string]string{
	"deploy_started":     "Deploy Started",
	"deploy_ended":       "Deploy Completed",
	"build_started":      "Build Started",
	"build_ended":        "Build Completed",
	"server_available":   "Server Available",
	"server_unavailable": "Server Unavailable",
}

var renderStatusEmojis = map[string]string{
	"succeeded": "✅",
	"failed":    "❌",
	"canceled":  "⚪",
}

func (Render) Name() string { return domain.SourceRender }

func (Render) CanHandle(p any, h Headers) bool {
	if strings.HasPrefix(h["webhook-id"], "evt-") {
		return true
	}
	typ, ok := lookupString(p, "type")
	if !ok {
		return false
	}
	if _, ok := lookupString(p, "data.serviceId"); !ok {
		return false
	}
	return strings.Contains(typ, "deploy") ||
		strings.Contains(typ, "build") ||
		strings.Contains(typ, "server")
}

func (Render) Analyze(p any, _ Headers) Result {
	typ := jsonx.String(p, "type")
	if typ == "" {
		typ = "unknown"
	}
	status := jsonx.String(p, "data.status")

	emoji := renderEmojis[typ]
	if emoji == "" {
		emoji = "📡"
	}
	title := renderTitles[typ]
	if title == "" {
		title = Humanize(typ)
	}
	if strings.HasSuffix(typ, "_ended") && status != "" {
		if e := renderStatusEmojis[status]; e != "" {
			emoji = e
		}
		title = strings.Replace(title, "Completed", capitalize(status), 1)
	}

	d := newDraft()
	d.field("📦 Service", jsonx.String(p, "data.serviceName"))
	d.field("📋 Event", Humanize(typ))
	d.field("📊 Status", status)
	if id := jsonx.String(p, "data.serviceId"); id != "" {
		d.link("Render Dashboard", renderDashboardURL+id)
	}

	return Result{
		Source:       domain.SourceRender,
		Notification: d.notification(domain.SourceRender, typ, title, emoji),
	}
}

// lookupString reports whether path holds a string, including "".
func lookupString(p any, path string) (string, bool) {
	v, ok := jsonx.Get(p, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
