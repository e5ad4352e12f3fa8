package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleFiltersMalformedDimensionIsIgnored(t *testing.T) {
	var r SourceRule
	err := json.Unmarshal([]byte(`{
		"type": "github",
		"enabled": true,
		"filters": {"repositories": "org/repo", "eventTypes": ["push"], "services": [1, 2], "branches": ["main"]}
	}`), &r)
	require.NoError(t, err)

	assert.Nil(t, r.Filters.Repositories)
	assert.Equal(t, []string{"push"}, r.Filters.EventTypes)
	assert.Nil(t, r.Filters.Services)
	assert.Equal(t, []string{"branches"}, r.Filters.ExtraKeys())
}

func TestRuleFiltersNonObject(t *testing.T) {
	var r SourceRule
	require.NoError(t, json.Unmarshal([]byte(`{"type":"vercel","enabled":true,"filters":"all"}`), &r))
	assert.Nil(t, r.Filters.Repositories)
	assert.Nil(t, r.Filters.EventTypes)
}

func TestRuleFiltersRoundTripKeepsExtra(t *testing.T) {
	in := []byte(`{"repositories":["a/b"],"custom":{"x":1}}`)
	var f RuleFilters
	require.NoError(t, json.Unmarshal(in, &f))
	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestPreferencesAllowsSource(t *testing.T) {
	assert.True(t, Preferences{}.AllowsSource("vercel"))
	p := Preferences{AllowedSources: []string{"GitHub"}}
	assert.True(t, p.AllowsSource("github"))
	assert.False(t, p.AllowsSource("vercel"))
}

func TestNotificationNormalizeAndSourceOrEvent(t *testing.T) {
	n := Notification{}
	n.Normalize()
	assert.NotNil(t, n.Fields)
	assert.NotNil(t, n.Links)
	assert.Equal(t, "unknown", n.SourceOrEvent())
	n.EventType = "push"
	assert.Equal(t, "push", n.SourceOrEvent())
	n.Source = "github"
	assert.Equal(t, "github", n.SourceOrEvent())
}

func TestNotificationJSONKeys(t *testing.T) {
	n := Notification{Title: "t", Source: "github", RawPayload: map[string]any{"a": 1}}
	n.Normalize()
	b, err := json.Marshal(n)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"title", "emoji", "fields", "links", "source"}, keys)
}

func TestRecipientLegacy(t *testing.T) {
	assert.False(t, Recipient{LegacyChatID: "1"}.HasLegacyTelegram())
	assert.True(t, Recipient{LegacyChatID: "1", LegacyBotToken: "t"}.HasLegacyTelegram())
}
