package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Recipient is the per-user delivery configuration. The notification service
// only reads it.
type Recipient struct {
	ID string `json:"id"`

	// Legacy single-chat credentials. When both are set an implicit telegram
	// channel is used in addition to Channels.
	LegacyChatID   string `json:"telegramChatId,omitempty"`
	LegacyBotToken string `json:"telegramBotToken,omitempty"`

	Preferences Preferences `json:"preferences"`
	Channels    []Channel   `json:"channels"`
}

type Preferences struct {
	// AllowedSources restricts which sources reach the recipient at all.
	// Empty means everything is allowed.
	AllowedSources []string `json:"allowedSources,omitempty"`
}

// AllowsSource reports whether the recipient-level allow-list admits source.
func (p Preferences) AllowsSource(source string) bool {
	if len(p.AllowedSources) == 0 {
		return true
	}
	for _, s := range p.AllowedSources {
		if strings.EqualFold(strings.TrimSpace(s), source) {
			return true
		}
	}
	return false
}

// HasLegacyTelegram reports whether the legacy credentials are complete.
func (r Recipient) HasLegacyTelegram() bool {
	return strings.TrimSpace(r.LegacyChatID) != "" && strings.TrimSpace(r.LegacyBotToken) != ""
}

// Channel is one configured delivery destination. Config is backend specific
// and validated by the backend at send time.
type Channel struct {
	ID           string         `json:"id,omitempty"`
	Type         string         `json:"type"`
	Enabled      bool           `json:"enabled"`
	Name         string         `json:"name,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	WebhookRules *WebhookRules  `json:"webhookRules,omitempty"`
}

// DisplayName is the name used in logs: Name, else Type.
func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}

// WebhookRules is the ordered rule list of a channel. Once present, sources
// without a rule are denied.
type WebhookRules struct {
	Sources []SourceRule `json:"sources"`
}

type SourceRule struct {
	Type    string      `json:"type"`
	Enabled bool        `json:"enabled"`
	Filters RuleFilters `json:"filters"`
}

// RuleFilters restricts a source rule. An empty dimension is not checked.
// Unknown keys are preserved so configs written by other tools survive a
// load/store cycle.
type RuleFilters struct {
	Repositories []string
	EventTypes   []string
	Services     []string

	Extra map[string]json.RawMessage
}

var knownFilterKeys = map[string]bool{"repositories": true, "eventTypes": true, "services": true}

// UnmarshalJSON accepts any object. A dimension that is not an array of
// strings is treated as absent instead of failing the whole rule.
func (f *RuleFilters) UnmarshalJSON(b []byte) error {
	*f = RuleFilters{}
	if len(bytes.TrimSpace(b)) == 0 || bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		// not an object: no filters
		return nil
	}
	f.Repositories = stringList(raw["repositories"])
	f.EventTypes = stringList(raw["eventTypes"])
	f.Services = stringList(raw["services"])
	for k, v := range raw {
		if knownFilterKeys[k] {
			continue
		}
		if f.Extra == nil {
			f.Extra = map[string]json.RawMessage{}
		}
		f.Extra[k] = v
	}
	return nil
}

func (f RuleFilters) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range f.Extra {
		out[k] = v
	}
	if len(f.Repositories) > 0 {
		out["repositories"] = f.Repositories
	}
	if len(f.EventTypes) > 0 {
		out["eventTypes"] = f.EventTypes
	}
	if len(f.Services) > 0 {
		out["services"] = f.Services
	}
	return json.Marshal(out)
}

func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ExtraKeys lists preserved unknown filter keys in sorted order.
func (f RuleFilters) ExtraKeys() []string {
	keys := make([]string, 0, len(f.Extra))
	for k := range f.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
