package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinga/internal/analyzer"
	"pinga/internal/domain"
	"pinga/internal/eventbus"
	"pinga/internal/metrics"
	"pinga/internal/payload"
	"pinga/internal/storage"
	logx "pinga/pkg/logx"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []domain.Notification
	users []string
	ok    bool
}

func (n *recordingNotifier) Deliver(_ context.Context, r domain.Recipient, note domain.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, note)
	n.users = append(n.users, r.ID)
	return n.ok
}

type fixture struct {
	srv      *Server
	store    storage.Store
	payloads *payload.Store
	notifier *recordingNotifier
	bus      eventbus.Bus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.PutRecipient(ctx, domain.Recipient{ID: "default"}))
	require.NoError(t, st.PutRecipient(ctx, domain.Recipient{ID: "u1"}))

	f := &fixture{
		store:    st,
		payloads: payload.New(payload.Options{BaseURL: "https://pinga.example"}),
		notifier: &recordingNotifier{ok: true},
		bus:      eventbus.New(),
	}
	f.srv = New(cfg, Deps{
		Analyzer:   analyzer.Default(logx.Nop()),
		Payloads:   f.payloads,
		Recipients: st,
		Logs:       st,
		Notifier:   f.notifier,
		Metrics:    metrics.New(),
		Bus:        f.bus,
	}, logx.Nop())
	return f
}

// do serves one request; hdr holds header name/value pairs.
func (f *fixture) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.1.1.1:5555"
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

const pushPayload = `{"ref":"refs/heads/main","pusher":{"name":"octo"},"commits":[{"message":"fix"}],
"repository":{"full_name":"org/repo","html_url":"https://github.com/org/repo"},"compare":"https://github.com/org/repo/compare/a...b"}`

func TestIngestDefaultRecipient(t *testing.T) {
	f := newFixture(t, Config{})
	events, unsub := f.bus.Subscribe(4, eventbus.TypeWebhookReceived)
	defer unsub()

	rr := f.do(http.MethodPost, "/api/webhook", pushPayload, "X-GitHub-Event", "push")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "github", body["source"])
	assert.Equal(t, true, body["delivered"])
	assert.NotContains(t, body, "sourceHint")
	id, _ := body["payloadId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "https://pinga.example/api/webhook/payload/"+id, body["payloadUrl"])

	require.Len(t, f.notifier.calls, 1)
	n := f.notifier.calls[0]
	assert.Equal(t, "default", f.notifier.users[0])
	assert.Equal(t, body["payloadUrl"], n.PayloadURL)
	assert.NotNil(t, n.RawPayload)

	stored, ok := f.payloads.Get(id)
	require.True(t, ok)
	assert.Equal(t, "auto", stored.Source)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeWebhookReceived, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no webhook.received event")
	}
}

func TestIngestUserWithSourceHint(t *testing.T) {
	f := newFixture(t, Config{})
	rr := f.do(http.MethodPost, "/api/users/u1/webhook/render", `{"type":"deploy_ended","data":{"status":"succeeded"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, "render", body["sourceHint"])
	require.Len(t, f.notifier.users, 1)
	assert.Equal(t, "u1", f.notifier.users[0])

	stored, ok := f.payloads.Get(body["payloadId"].(string))
	require.True(t, ok)
	assert.Equal(t, "render", stored.Source)
}

func TestIngestErrors(t *testing.T) {
	f := newFixture(t, Config{MaxBodyBytes: 64})

	rr := f.do(http.MethodPost, "/api/webhook", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid JSON payload", decodeBody(t, rr)["error"])

	rr = f.do(http.MethodPost, "/api/users/ghost/webhook", `{}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodPost, "/api/webhook", `{"data":"`+strings.Repeat("x", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	assert.Empty(t, f.notifier.calls)
	assert.Equal(t, 0, f.payloads.Len(), "rejected requests store nothing")
}

func TestPayloadLookup(t *testing.T) {
	f := newFixture(t, Config{})
	st := f.payloads.Put("github", map[string]any{"a": json.Number("1")})

	rr := f.do(http.MethodGet, "/api/webhook/payload/"+st.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, st.ID, body["id"])
	assert.Equal(t, "github", body["source"])
	assert.Equal(t, map[string]any{"a": float64(1)}, body["payload"])
	assert.Contains(t, body, "receivedAt")
	assert.Contains(t, body, "expiresAt")

	rr = f.do(http.MethodGet, "/api/webhook/payload/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Payload not found or expired", decodeBody(t, rr)["error"])
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	for _, src := range []string{"github", "vercel", "render"} {
		require.NoError(t, f.store.AppendDeliveryLog(ctx, domain.DeliveryLogEntry{
			UserID: "u1", ChannelType: "telegram", Source: src, EventType: "push", Status: domain.StatusSuccess,
		}))
		time.Sleep(2 * time.Millisecond)
	}

	rr := f.do(http.MethodGet, "/api/users/u1/logs?limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		UserID string                    `json:"userId"`
		Logs   []domain.DeliveryLogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "u1", out.UserID)
	require.Len(t, out.Logs, 2)
	assert.Equal(t, "render", out.Logs[0].Source)

	rr = f.do(http.MethodGet, "/api/users/u1/logs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/api/users/nobody/logs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, decodeBody(t, rr)["logs"])
}

func TestStatusAndHealth(t *testing.T) {
	f := newFixture(t, Config{})
	rr := f.do(http.MethodGet, "/api/webhook", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])

	rr = f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodDelete, "/api/webhook", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: RateLimit{Enabled: true, RPS: 1, Burst: 2}})
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/webhook", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/webhook", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, "/api/webhook", "").Code)

	// health is outside the limited subtree
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)

	f.srv.Reconfigure(context.Background(), Config{})
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/webhook", "").Code)
}

func TestLimiterEvict(t *testing.T) {
	ls := newLimiterStore(1, 1)
	now := time.Now()
	assert.True(t, ls.allow("a", now.Add(-time.Hour)))
	assert.True(t, ls.allow("b", now))
	assert.Equal(t, 1, ls.evict(now.Add(-time.Minute)))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", clientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}

func TestMetricsMount(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/metrics", "").Code)

	f.srv.Reconfigure(context.Background(), Config{Metrics: Metrics{Enabled: true}})
	f.do(http.MethodPost, "/api/webhook", pushPayload, "X-GitHub-Event", "push")
	rr := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `pinga_webhooks_received_total{source="github"} 1`)
}

func TestPprofAuth(t *testing.T) {
	f := newFixture(t, Config{Addr: ":0", Pprof: Pprof{Enabled: true, Token: "s3cret"}})

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/debug/pprof/", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/debug/pprof/?token=s3cret", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPprofRefusedWithoutTokenOnPublicAddr(t *testing.T) {
	f := newFixture(t, Config{Addr: ":8080", Pprof: Pprof{Enabled: true}})
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/debug/pprof/", "").Code)

	f = newFixture(t, Config{Addr: "127.0.0.1:8080", Pprof: Pprof{Enabled: true}})
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/debug/pprof/", "").Code)
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "/debug/pprof/", normalizePrefix(""))
	assert.Equal(t, "/pp/", normalizePrefix("pp"))
	assert.Equal(t, "/pp/", normalizePrefix("/pp/"))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, Config{Addr: "127.0.0.1:0"})
	ctx := context.Background()
	f.srv.Start(ctx)

	var addr string
	require.Eventually(t, func() bool {
		addr = f.srv.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	f.srv.Stop(stopCtx)
	assert.Empty(t, f.srv.Addr())
	assert.NoError(t, f.srv.Err())
}
