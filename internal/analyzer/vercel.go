package analyzer

import (
	"strings"

	"pinga/internal/domain"
	"pinga/pkg/jsonx"
)

// Vercel handles deployment, project and domain events.
type Vercel struct{}

var vercelEvents = map[string]struct{ emoji, title string }{
	"deployment.created":           {"🔄", "Deployment Started"},
	"deployment.ready":             {"✅", "Deployment Ready"},
	"deployment.succeeded":         {"✅", "Deployment Succeeded"},
	"deployment.error":             {"❌", "Deployment Failed"},
	"deployment.canceled":          {"⚪", "Deployment Canceled"},
	"deployment.check-rerequested": {"🔁", "Deployment Check Requested"},
	"project.created":              {"📁", "Project Created"},
	"project.removed":              {"🗑️", "Project Removed"},
	"domain.created":               {"🌐", "Domain Added"},
}

func (Vercel) Name() string { return domain.SourceVercel }

func (Vercel) CanHandle(p any, _ Headers) bool {
	t := jsonx.String(p, "type")
	return strings.HasPrefix(t, "deployment.") ||
		strings.HasPrefix(t, "project.") ||
		strings.HasPrefix(t, "domain.")
}

func (Vercel) Analyze(p any, _ Headers) Result {
	typ := jsonx.String(p, "type")
	if typ == "" {
		typ = "unknown"
	}
	emoji, title := "📦", Humanize(typ)
	if ev, ok := vercelEvents[typ]; ok {
		emoji, title = ev.emoji, ev.title
	}

	d := newDraft()
	d.field("📦 Project", jsonx.FirstString(p, "payload.name", "payload.project.name", "payload.deployment.name"))
	d.field("🌿 Branch", jsonx.String(p, "payload.meta.githubCommitRef"))
	d.field("🎯 Target", jsonx.String(p, "payload.target"))
	if msg := jsonx.String(p, "payload.meta.githubCommitMessage"); msg != "" {
		d.field("📝 Commit", Truncate(FirstLine(msg), longValue))
	}
	d.field("👤 Author", jsonx.String(p, "payload.meta.githubCommitAuthorLogin"))

	if preview := jsonx.FirstString(p, "payload.url", "payload.alias.0"); preview != "" {
		if !strings.HasPrefix(preview, "http") {
			preview = "https://" + preview
		}
		d.link("Preview", preview)
	}
	org := jsonx.String(p, "payload.meta.githubOrg")
	repo := jsonx.String(p, "payload.meta.githubRepo")
	sha := jsonx.String(p, "payload.meta.githubCommitSha")
	if org != "" && repo != "" && sha != "" {
		d.link("Commit", "https://github.com/"+org+"/"+repo+"/commit/"+sha)
	}

	return Result{
		Source:       domain.SourceVercel,
		Notification: d.notification(domain.SourceVercel, typ, title, emoji),
	}
}
