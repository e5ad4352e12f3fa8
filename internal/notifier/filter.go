package notifier

import (
	"strings"

	"pinga/internal/domain"
	"pinga/pkg/jsonx"
)

// Reasons reported by Evaluate when a channel is filtered out.
const (
	ReasonNoRule         = "no_rule"
	ReasonRuleDisabled   = "rule_disabled"
	ReasonRepository     = "repository"
	ReasonEventType      = "event_type"
	ReasonService        = "service"
	filteredByRulesError = "Filtered by channel rules"
)

var (
	repositoryPaths = []string{"repository.full_name", "repository.name"}
	eventTypePaths  = []string{"action", "deployment_status.state", "event"}
	servicePaths    = []string{"service.name", "project.name"}
)

// Decision is the outcome of evaluating one channel's webhook rules.
type Decision struct {
	Allowed bool
	Reason  string // empty when allowed
	Source  string // resolved rule key
	Value   string // value checked by the failing dimension
}

// ShouldSend reports whether ch accepts n. It only reads its arguments.
func ShouldSend(ch domain.Channel, n domain.Notification) bool {
	return Evaluate(ch, n).Allowed
}

// Evaluate applies ch's webhook rules to n.
//
// A channel without rules accepts everything. Once rules exist the source
// must have an enabled rule, and every populated filter dimension must
// contain the value resolved from the notification and its raw payload.
func Evaluate(ch domain.Channel, n domain.Notification) Decision {
	if ch.WebhookRules == nil || len(ch.WebhookRules.Sources) == 0 {
		return Decision{Allowed: true}
	}

	source := n.SourceOrEvent()
	d := Decision{Source: source}

	rule, ok := findRule(ch.WebhookRules.Sources, source)
	if !ok {
		d.Reason = ReasonNoRule
		return d
	}
	if !rule.Enabled {
		d.Reason = ReasonRuleDisabled
		return d
	}

	data := n.RawPayload
	f := rule.Filters

	if len(f.Repositories) > 0 {
		repo := jsonx.FirstString(data, repositoryPaths...)
		if !contains(f.Repositories, repo) {
			d.Reason, d.Value = ReasonRepository, repo
			return d
		}
	}

	if len(f.EventTypes) > 0 {
		ev := n.EventType
		if ev == "" {
			ev = jsonx.FirstText(data, eventTypePaths...)
		}
		if !contains(f.EventTypes, ev) {
			d.Reason, d.Value = ReasonEventType, ev
			return d
		}
	}

	if len(f.Services) > 0 {
		svc := jsonx.FirstString(data, servicePaths...)
		if !contains(f.Services, svc) {
			d.Reason, d.Value = ReasonService, svc
			return d
		}
	}

	return Decision{Allowed: true, Source: source}
}

func findRule(rules []domain.SourceRule, source string) (domain.SourceRule, bool) {
	for _, r := range rules {
		if strings.EqualFold(strings.TrimSpace(r.Type), source) {
			return r, true
		}
	}
	return domain.SourceRule{}, false
}

// contains is an exact membership test; an empty value never matches.
func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
