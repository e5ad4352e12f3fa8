package analyzer

import (
	"strconv"
	"strings"

	"pinga/internal/domain"
	"pinga/pkg/jsonx"
)

// GitHub handles repository webhooks identified by their headers.
type GitHub struct{}

var githubEmojis = map[string]string{
	"push":              "📤",
	"pull_request":      "🔀",
	"release":           "🏷️",
	"deployment":        "🚀",
	"deployment_status": "📊",
	"issues":            "🐛",
	"star":              "⭐",
	"fork":              "🍴",
}

func (GitHub) Name() string { return domain.SourceGitHub }

func (GitHub) CanHandle(_ any, h Headers) bool {
	return h.has("x-github-event") ||
		h.has("x-github-delivery") ||
		strings.Contains(h["user-agent"], "GitHub-Hookshot")
}

func (GitHub) Analyze(p any, h Headers) Result {
	event := h["x-github-event"]
	if event == "" {
		event = "unknown"
	}
	emoji := githubEmojis[event]
	if emoji == "" {
		emoji = "📡"
	}

	var n domain.Notification
	switch event {
	case "push":
		n = githubPush(p, emoji)
	case "pull_request":
		n = githubPullRequest(p, emoji)
	case "release":
		n = githubRelease(p, emoji)
	case "deployment_status":
		n = githubDeploymentStatus(p)
	case "issues":
		n = githubIssue(p, emoji)
	default:
		n = githubOther(p, event, emoji)
	}
	n.EventType = event
	return Result{Source: domain.SourceGitHub, Notification: n}
}

func githubPush(p any, emoji string) domain.Notification {
	branch := strings.TrimPrefix(jsonx.String(p, "ref"), "refs/heads/")
	if branch == "" {
		branch = "unknown"
	}
	repo := jsonx.String(p, "repository.full_name")
	if repo == "" {
		repo = "unknown"
	}

	d := newDraft()
	d.field("📦 Repo", repo)
	d.field("🌿 Branch", branch)
	if commits := jsonx.Array(p, "commits"); len(commits) > 0 {
		d.field("📝 Commits", strconv.Itoa(len(commits)))
	}
	if msg := jsonx.String(p, "head_commit.message"); msg != "" {
		d.field("💬 Latest", Truncate(FirstLine(msg), shortValue))
	}
	d.field("👤 By", jsonx.String(p, "pusher.name"))

	d.link("Compare", jsonx.String(p, "compare"))
	d.link("Commit", jsonx.String(p, "head_commit.url"))
	return d.notification(domain.SourceGitHub, "push", "Push to "+branch, emoji)
}

func githubPullRequest(p any, emoji string) domain.Notification {
	action := jsonx.String(p, "action")
	if action == "" {
		action = "updated"
	}
	title := "PR " + capitalize(action)
	if action == "closed" && jsonx.Bool(p, "pull_request.merged") {
		title = "PR Merged"
		emoji = "✅"
	}

	d := newDraft()
	if t := jsonx.String(p, "pull_request.title"); t != "" {
		d.field("📋 Title", Truncate(t, shortValue))
	}
	if num := jsonx.Text(p, "pull_request.number"); num != "" && num != "0" {
		d.field("#️⃣", "#"+num)
	}
	head, base := jsonx.String(p, "pull_request.head.ref"), jsonx.String(p, "pull_request.base.ref")
	if head != "" && base != "" {
		d.field("🔀", head+" → "+base)
	}
	d.field("👤", jsonx.String(p, "pull_request.user.login"))
	d.link("View PR", jsonx.String(p, "pull_request.html_url"))
	return d.notification(domain.SourceGitHub, "pull_request", title, emoji)
}

func githubRelease(p any, emoji string) domain.Notification {
	title := "Release Published"
	if action := jsonx.String(p, "action"); action != "" && action != "published" {
		title = "Release " + capitalize(action)
	}
	if jsonx.Bool(p, "release.prerelease") {
		title = "Pre-" + strings.ToLower(title[:1]) + title[1:]
	}

	d := newDraft()
	d.field("🏷️ Version", jsonx.String(p, "release.tag_name"))
	d.field("📋 Name", jsonx.String(p, "release.name"))
	d.field("📦 Repo", jsonx.String(p, "repository.full_name"))
	d.link("Release", jsonx.String(p, "release.html_url"))
	return d.notification(domain.SourceGitHub, "release", title, emoji)
}

func githubDeploymentStatus(p any) domain.Notification {
	state := jsonx.String(p, "deployment_status.state")
	if state == "" {
		state = "unknown"
	}
	emoji := "🔄"
	switch state {
	case "success":
		emoji = "✅"
	case "failure", "error":
		emoji = "❌"
	}

	d := newDraft()
	d.field("🎯 Env", jsonx.String(p, "deployment.environment"))
	d.field("🌿 Ref", jsonx.String(p, "deployment.ref"))
	if desc := jsonx.String(p, "deployment_status.description"); desc != "" {
		d.field("📝", Truncate(desc, shortValue))
	}
	d.link("Preview", jsonx.String(p, "deployment_status.environment_url"))
	d.link("Logs", jsonx.String(p, "deployment_status.log_url"))
	return d.notification(domain.SourceGitHub, "deployment_status", "Deploy "+state, emoji)
}

func githubIssue(p any, emoji string) domain.Notification {
	action := jsonx.String(p, "action")
	if action == "" {
		action = "updated"
	}
	switch action {
	case "closed":
		emoji = "✅"
	case "reopened":
		emoji = "🔁"
	}

	d := newDraft()
	if t := jsonx.String(p, "issue.title"); t != "" {
		d.field("📋 Title", Truncate(t, shortValue))
	}
	if num := jsonx.Text(p, "issue.number"); num != "" && num != "0" {
		d.field("#️⃣", "#"+num)
	}
	d.field("📦 Repo", jsonx.String(p, "repository.full_name"))
	d.field("👤", jsonx.FirstString(p, "issue.user.login", "sender.login"))
	d.link("View Issue", jsonx.String(p, "issue.html_url"))
	return d.notification(domain.SourceGitHub, "issues", "Issue "+capitalize(action), emoji)
}

func githubOther(p any, event, emoji string) domain.Notification {
	d := newDraft()
	d.field("📦 Repo", jsonx.String(p, "repository.full_name"))
	d.field("⚡", jsonx.String(p, "action"))
	d.field("👤", jsonx.String(p, "sender.login"))
	d.link("Repo", jsonx.String(p, "repository.html_url"))
	return d.notification(domain.SourceGitHub, event, Humanize(event), emoji)
}
