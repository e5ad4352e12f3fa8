package domain

import "time"

type DeliveryStatus string

const (
	StatusSuccess DeliveryStatus = "success"
	StatusFailure DeliveryStatus = "failure"
	StatusSkipped DeliveryStatus = "skipped"
)

// Channel type and name recorded for recipient-level skips.
const (
	GlobalChannelType = "global"
	GlobalChannelName = "Global Preferences"
)

// DeliveryLogEntry records one attempt (or skip) for one recipient and
// channel. Entries are never updated.
type DeliveryLogEntry struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	ChannelID   string         `json:"channelId,omitempty"`
	ChannelType string         `json:"channelType"`
	ChannelName string         `json:"channelName,omitempty"`
	Source      string         `json:"source"`
	EventType   string         `json:"eventType"`
	Status      DeliveryStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	RawError    any            `json:"rawError,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
