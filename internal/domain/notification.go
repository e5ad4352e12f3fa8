// Package domain holds the types shared by the analyzers, the delivery
// backends and the notification service.
package domain

// Source names produced by the analyzers.
const (
	SourceGitHub  = "github"
	SourceVercel  = "vercel"
	SourceRender  = "render"
	SourceGeneric = "generic"
)

// Field is one labeled line of a notification. Labels carry their emoji
// prefix ("🌿 Branch").
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notification is the normalized form of one webhook event.
//
// Fields and Links are never nil. RawPayload is kept for filter evaluation
// and is not rendered by the backends.
type Notification struct {
	Title      string  `json:"title"`
	Emoji      string  `json:"emoji"`
	Fields     []Field `json:"fields"`
	Links      []Link  `json:"links"`
	Source     string  `json:"source"`
	EventType  string  `json:"eventType,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	RawPayload any     `json:"-"`
	PayloadURL string  `json:"payloadUrl,omitempty"`
}

// Normalize replaces nil Fields/Links with empty slices.
func (n *Notification) Normalize() {
	if n.Fields == nil {
		n.Fields = []Field{}
	}
	if n.Links == nil {
		n.Links = []Link{}
	}
}

// SourceOrEvent resolves the key used to match webhook rules: the source,
// then the event type, then "unknown".
func (n Notification) SourceOrEvent() string {
	if n.Source != "" {
		return n.Source
	}
	if n.EventType != "" {
		return n.EventType
	}
	return "unknown"
}
