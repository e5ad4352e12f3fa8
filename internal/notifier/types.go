package notifier

import (
	"context"
	"time"

	"pinga/internal/domain"
)

// Config controls delivery behavior. Apply may swap it at runtime.
type Config struct {
	// Timeout bounds each backend call. Default 10s.
	Timeout time.Duration
	// LogLegacy records delivery log entries for the implicit legacy
	// telegram channel. Off by default.
	LogLegacy bool
}

// LogWriter is the append-only delivery log.
type LogWriter interface {
	AppendDeliveryLog(ctx context.Context, e domain.DeliveryLogEntry) error
}

// DeliveryEvent is published on the event bus for every log-worthy outcome.
type DeliveryEvent struct {
	UserID      string                `json:"user_id"`
	ChannelType string                `json:"channel_type"`
	ChannelName string                `json:"channel_name,omitempty"`
	Source      string                `json:"source"`
	EventType   string                `json:"event_type"`
	Status      domain.DeliveryStatus `json:"status"`
	Error       string                `json:"error,omitempty"`
	Took        time.Duration         `json:"took,omitempty"`
}
