package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pinga/internal/analyzer"
	"pinga/internal/domain"
	"pinga/internal/eventbus"
	"pinga/internal/storage"
	"pinga/pkg/jsonx"
	logx "pinga/pkg/logx"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
	// payload source label when the caller gave no hint
	autoSource = "auto"
)

func (s *Server) routes(cfg Config, limiters *limiterStore) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if cfg.Metrics.Enabled && s.deps.Metrics != nil {
		r.Handle(cfg.Metrics.Path, s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if cfg.Pprof.Enabled {
		if cfg.Pprof.Token == "" && !cfg.Pprof.AllowInsecure && !isLoopbackAddr(cfg.Addr) {
			s.log.Error("pprof not mounted: non-loopback addr requires token or allow_insecure",
				logx.String("addr", cfg.Addr))
		} else {
			mountPprof(r, cfg.Pprof.Prefix, cfg.Pprof.Token)
		}
	}

	api := r.PathPrefix("/api").Subrouter()
	if cfg.RateLimit.Enabled {
		api.Use(rateLimit(limiters))
	}
	api.HandleFunc("/webhook", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/webhook/payload/{id}", s.handlePayload).Methods(http.MethodGet)
	api.HandleFunc("/webhook", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/webhook/{source}", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/webhook", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/webhook/{source}", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/logs", s.handleLogs).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "Pinga webhook service is running",
		"endpoints": map[string]string{
			"webhook":           "POST /api/webhook",
			"webhookWithSource": "POST /api/webhook/{source}",
			"userWebhook":       "POST /api/users/{userId}/webhook[/{source}]",
			"payload":           "GET /api/webhook/payload/{id}",
			"logs":              "GET /api/users/{userId}/logs",
		},
	})
}

type ingestResponse struct {
	Success    bool   `json:"success"`
	Source     string `json:"source"`
	SourceHint string `json:"sourceHint,omitempty"`
	PayloadID  string `json:"payloadId"`
	PayloadURL string `json:"payloadUrl"`
	Delivered  bool   `json:"delivered"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	vars := mux.Vars(r)
	hint := strings.TrimSpace(vars["source"])
	userID := strings.TrimSpace(vars["userID"])
	if userID == "" {
		userID = cfg.DefaultRecipient
	}
	log := s.log.With(logx.String("user_id", userID))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	doc, err := jsonx.Decode(body)
	if err != nil {
		log.Debug("invalid webhook body", logx.Err(err))
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	recipient, err := s.deps.Recipients.GetRecipient(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Recipient not found")
			return
		}
		log.Error("recipient lookup failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	label := hint
	if label == "" {
		label = autoSource
	}
	stored := s.deps.Payloads.Put(label, doc)
	payloadURL := s.deps.Payloads.URL(stored.ID)

	res := s.deps.Analyzer.Analyze(doc, analyzer.HeadersFrom(r.Header), hint)
	n := res.Notification
	n.PayloadURL = payloadURL
	n.RawPayload = doc
	s.deps.Metrics.WebhookReceived(res.Source)

	// Deliveries outlive a disconnecting sender; each send has its own timeout.
	delivered := s.deps.Notifier.Deliver(context.WithoutCancel(r.Context()), recipient, n)

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeWebhookReceived,
			Time: time.Now(),
			Data: map[string]any{
				"userId":    userID,
				"source":    res.Source,
				"payloadId": stored.ID,
				"delivered": delivered,
			},
		})
	}
	log.Debug("webhook processed",
		logx.String("source", res.Source),
		logx.String("hint", hint),
		logx.String("payload_id", stored.ID),
		logx.Bool("delivered", delivered),
	)

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:    true,
		Source:     res.Source,
		SourceHint: hint,
		PayloadID:  stored.ID,
		PayloadURL: payloadURL,
		Delivered:  delivered,
	})
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	stored, ok := s.deps.Payloads.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "Payload not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := s.deps.Logs.ListDeliveryLogs(r.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, "delivery log storage unavailable")
			return
		}
		s.log.Error("list delivery logs failed", logx.String("user_id", userID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if entries == nil {
		entries = []domain.DeliveryLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "logs": entries})
}
