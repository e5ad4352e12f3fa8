package analyzer

import (
	"strings"
	"testing"

	"pinga/internal/domain"
	"pinga/pkg/jsonx"
	logx "pinga/pkg/logx"
)

func nilLogger() logx.Logger { return logx.Nop() }

func decode(t *testing.T, s string) any {
	t.Helper()
	v, err := jsonx.Decode([]byte(s))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func fieldValue(n domain.Notification, label string) (string, bool) {
	for _, f := range n.Fields {
		if f.Label == label {
			return f.Value, true
		}
	}
	return "", false
}

func linkURL(n domain.Notification, label string) (string, bool) {
	for _, l := range n.Links {
		if l.Label == label {
			return l.URL, true
		}
	}
	return "", false
}

func TestAnalyzeNeverReturnsNilSlices(t *testing.T) {
	reg := Default(nilLogger())
	payloads := []any{
		nil,
		"just a string",
		42.0,
		[]any{1.0, "x"},
		map[string]any{},
		map[string]any{"type": 7},
		map[string]any{"type": "deployment.created", "payload": "not-an-object"},
		map[string]any{"type": "deploy_ended", "data": map[string]any{"serviceId": 3}},
	}
	headerSets := []Headers{
		nil,
		{"X-GitHub-Event": "push"},
		{"x-github-event": "pull_request"},
		{"webhook-id": "evt-1"},
	}
	for _, p := range payloads {
		for _, h := range headerSets {
			res := reg.Analyze(p, h, "")
			if res.Notification.Fields == nil || res.Notification.Links == nil {
				t.Fatalf("nil fields/links for payload %#v headers %v", p, h)
			}
			if res.Source == "" || res.Notification.Title == "" {
				t.Fatalf("empty source/title for payload %#v headers %v", p, h)
			}
		}
	}
}

func TestSelectPriorityAndHint(t *testing.T) {
	reg := Default(nilLogger())
	vercelPayload := decode(t, `{"type":"deployment.ready","payload":{}}`)
	gh := Headers{"X-GitHub-Event": "deployment"}

	if got := reg.Select(vercelPayload, gh, "").Name(); got != "vercel" {
		t.Fatalf("priority pick = %s, want vercel", got)
	}
	if got := reg.Select(vercelPayload, gh, "GitHub").Name(); got != "github" {
		t.Fatalf("hinted pick = %s, want github", got)
	}
	// hint that does not accept falls through to priority order
	if got := reg.Select(vercelPayload, nil, "render").Name(); got != "vercel" {
		t.Fatalf("rejected hint pick = %s, want vercel", got)
	}
	if got := reg.Select(map[string]any{}, nil, "nope").Name(); got != "generic" {
		t.Fatalf("fallback pick = %s, want generic", got)
	}
}

func TestGitHubPushMain(t *testing.T) {
	p := decode(t, `{
		"ref": "refs/heads/main",
		"compare": "https://github.com/org/repo/compare/a...b",
		"repository": {"full_name": "org/repo"},
		"pusher": {"name": "octocat"},
		"commits": [{"id": "1"}, {"id": "2"}],
		"head_commit": {"message": "fix: a very long commit message that certainly exceeds fifty characters\nbody", "url": "https://github.com/org/repo/commit/b"}
	}`)
	res := Default(nilLogger()).Analyze(p, Headers{"X-GitHub-Event": "push"}, "")
	n := res.Notification

	if res.Source != "github" || n.EventType != "push" {
		t.Fatalf("source/event = %s/%s", res.Source, n.EventType)
	}
	if !strings.Contains(n.Title, "main") {
		t.Fatalf("title %q does not mention branch", n.Title)
	}
	if v, _ := fieldValue(n, "🌿 Branch"); v != "main" {
		t.Fatalf("branch field = %q", v)
	}
	if v, _ := fieldValue(n, "📝 Commits"); v != "2" {
		t.Fatalf("commits field = %q", v)
	}
	latest, _ := fieldValue(n, "💬 Latest")
	if len([]rune(latest)) != 50 || !strings.HasSuffix(latest, "...") {
		t.Fatalf("latest field = %q", latest)
	}
	if _, ok := linkURL(n, "Compare"); !ok {
		t.Fatal("missing Compare link")
	}
	if n.Emoji != "📤" {
		t.Fatalf("emoji = %s", n.Emoji)
	}
}

func TestGitHubMergedPullRequest(t *testing.T) {
	p := decode(t, `{"action":"closed","pull_request":{"merged":true,"number":12,"title":"Add x","head":{"ref":"feat"},"base":{"ref":"main"},"user":{"login":"me"},"html_url":"https://github.com/o/r/pull/12"}}`)
	n := Default(nilLogger()).Analyze(p, Headers{"x-github-event": "pull_request"}, "").Notification
	if n.Title != "PR Merged" || n.Emoji != "✅" {
		t.Fatalf("title/emoji = %q/%q", n.Title, n.Emoji)
	}
	if v, _ := fieldValue(n, "🔀"); v != "feat → main" {
		t.Fatalf("branches = %q", v)
	}
	if v, _ := fieldValue(n, "#️⃣"); v != "#12" {
		t.Fatalf("number = %q", v)
	}
}

func TestGitHubDeploymentStatusFailure(t *testing.T) {
	p := decode(t, `{"deployment_status":{"state":"failure","log_url":"https://ci/logs"},"deployment":{"environment":"prod"}}`)
	n := Default(nilLogger()).Analyze(p, Headers{"x-github-event": "deployment_status"}, "").Notification
	if n.Title != "Deploy failure" || n.Emoji != "❌" {
		t.Fatalf("title/emoji = %q/%q", n.Title, n.Emoji)
	}
	if _, ok := linkURL(n, "Logs"); !ok {
		t.Fatal("missing Logs link")
	}
	if _, ok := linkURL(n, "Preview"); ok {
		t.Fatal("unexpected Preview link")
	}
}

func TestGitHubOtherEventHumanized(t *testing.T) {
	n := Default(nilLogger()).Analyze(map[string]any{}, Headers{"user-agent": "GitHub-Hookshot/abc", "x-github-event": "check_suite"}, "").Notification
	if n.Title != "Check Suite" || n.Emoji != "📡" {
		t.Fatalf("title/emoji = %q/%q", n.Title, n.Emoji)
	}
	if len(n.Fields) != 0 {
		t.Fatalf("expected no fields for empty payload, got %v", n.Fields)
	}
}

func TestVercelDeploymentError(t *testing.T) {
	p := decode(t, `{"type":"deployment.error","payload":{"name":"web","alias":["web-git-main.vercel.app"],"target":"production","meta":{"githubCommitRef":"main","githubOrg":"o","githubRepo":"r","githubCommitSha":"abc"}}}`)
	res := Default(nilLogger()).Analyze(p, nil, "")
	n := res.Notification
	if res.Source != "vercel" || n.Emoji != "❌" || n.Title != "Deployment Failed" {
		t.Fatalf("got %s %q %q", res.Source, n.Emoji, n.Title)
	}
	if u, _ := linkURL(n, "Preview"); u != "https://web-git-main.vercel.app" {
		t.Fatalf("preview = %q", u)
	}
	if u, _ := linkURL(n, "Commit"); u != "https://github.com/o/r/commit/abc" {
		t.Fatalf("commit = %q", u)
	}
	if v, _ := fieldValue(n, "📦 Project"); v != "web" {
		t.Fatalf("project = %q", v)
	}
}

func TestVercelUnknownTypeHumanized(t *testing.T) {
	n := Default(nilLogger()).Analyze(map[string]any{"type": "domain.renewed"}, nil, "").Notification
	if n.Title != "Domain Renewed" || n.Emoji != "📦" {
		t.Fatalf("got %q %q", n.Title, n.Emoji)
	}
}

func TestRenderDeployEndedSucceeded(t *testing.T) {
	p := decode(t, `{"type":"deploy_ended","data":{"serviceId":"srv-1","serviceName":"api","status":"succeeded"}}`)
	res := Default(nilLogger()).Analyze(p, nil, "")
	n := res.Notification
	if res.Source != "render" {
		t.Fatalf("source = %s", res.Source)
	}
	if n.Emoji != "✅" || n.Title != "Deploy Succeeded" {
		t.Fatalf("got %q %q", n.Emoji, n.Title)
	}
	if u, _ := linkURL(n, "Render Dashboard"); u != "https://dashboard.render.com/web/srv-1" {
		t.Fatalf("dashboard = %q", u)
	}
	if v, _ := fieldValue(n, "📋 Event"); v != "Deploy Ended" {
		t.Fatalf("event = %q", v)
	}
}

func TestRenderHeaderDetection(t *testing.T) {
	if !(Render{}).CanHandle(map[string]any{}, Headers{"webhook-id": "evt-123"}) {
		t.Fatal("evt- header should be accepted")
	}
	if (Render{}).CanHandle(map[string]any{"type": "deploy_started", "data": map[string]any{"serviceId": 1.0}}, Headers{}) {
		t.Fatal("non-string serviceId should be rejected")
	}
}

func TestGenericExtraction(t *testing.T) {
	p := decode(t, `{
		"data": {"event": "job.finished", "status": "FAILED", "app": "worker"},
		"links": {"html_url": "https://example.com/view", "log_url": "https://example.com/logs", "docsUrl": "https://example.com/docs"},
		"message": "something went wrong"
	}`)
	n := Default(nilLogger()).Analyze(p, nil, "").Notification
	if n.Title != "Job Finished" || n.Emoji != "❌" {
		t.Fatalf("got %q %q", n.Title, n.Emoji)
	}
	if v, _ := fieldValue(n, "📦 Name"); v != "worker" {
		t.Fatalf("name = %q", v)
	}
	want := []domain.Link{
		{Label: "Docs", URL: "https://example.com/docs"},
		{Label: "View", URL: "https://example.com/view"},
		{Label: "Logs", URL: "https://example.com/logs"},
	}
	if len(n.Links) != len(want) {
		t.Fatalf("links = %v", n.Links)
	}
	for i := range want {
		if n.Links[i] != want[i] {
			t.Fatalf("link %d = %v, want %v", i, n.Links[i], want[i])
		}
	}
}

func TestGenericCapsLinksAndListsKeys(t *testing.T) {
	p := map[string]any{}
	for _, k := range []string{"a_url", "b_url", "c_url", "d_url", "e_url", "f_url"} {
		p[k] = "https://x/" + k
	}
	n := Default(nilLogger()).Analyze(p, nil, "").Notification
	if len(n.Links) != 5 {
		t.Fatalf("links = %d, want 5", len(n.Links))
	}
	if n.Title != "Webhook Received" {
		t.Fatalf("title = %q", n.Title)
	}
	if v, _ := fieldValue(n, "📋 Fields"); v != "a_url, b_url, c_url, d_url, e_url" {
		t.Fatalf("fields = %q", v)
	}
}

func TestHumanizeAndTruncate(t *testing.T) {
	cases := map[string]string{
		"deployment.check-rerequested": "Deployment Check Rerequested",
		"deploy_ended":                 "Deploy Ended",
		"alreadyCamel":                 "AlreadyCamel",
		"":                             "",
	}
	for in, want := range cases {
		if got := Humanize(in); got != want {
			t.Fatalf("Humanize(%q) = %q, want %q", in, got, want)
		}
	}
	if got := Truncate("héllo wörld", 8); got != "héllo..." {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("short", 50); got != "short" {
		t.Fatalf("Truncate = %q", got)
	}
}

func TestURLLabel(t *testing.T) {
	cases := map[string]string{
		"url":           "Link",
		"previewUrl":    "Preview",
		"dashboard_url": "Dashboard",
		"buildLogsUrl":  "BuildLogs",
		"target-site":   "Target Site",
	}
	for in, want := range cases {
		if got := URLLabel(in); got != want {
			t.Fatalf("URLLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

type panicky struct{}

func (panicky) Name() string                { return "panicky" }
func (panicky) CanHandle(any, Headers) bool { return true }
func (panicky) Analyze(any, Headers) Result { panic("boom") }

func TestAnalyzePanicFallsBack(t *testing.T) {
	reg := NewRegistry(nilLogger(), Generic{}, panicky{})
	res := reg.Analyze(map[string]any{"type": "x"}, nil, "")
	if res.Source != "generic" || res.Notification.Title != "X" {
		t.Fatalf("got %+v", res)
	}
	if res.Notification.RawPayload == nil {
		t.Fatal("raw payload not attached")
	}
}
