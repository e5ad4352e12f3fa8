package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

// SummarizeConfigChange returns the changed section names, safe structured
// attrs for logging (tokens and DSNs are reported only as "set") and the ids
// of recipients that were added, removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	o, n := oldCfg.Server, newCfg.Server
	if !reflect.DeepEqual(o, n) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("server.addr_changed", strings.TrimSpace(o.Addr) != strings.TrimSpace(n.Addr)),
			logx.String("server.base_url", n.BaseURL),
			logx.String("server.default_recipient", n.DefaultRecipient),
			logx.Bool("server.rate_limit", n.RateLimit.Enabled),
			logx.Bool("server.metrics", n.Metrics.Enabled),
			logx.Bool("server.pprof", n.Pprof.Enabled),
			logx.Bool("server.pprof_token_set", strings.TrimSpace(n.Pprof.Token) != ""),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.BotToken != nt.BotToken || ot.ChatID != nt.ChatID || ot.APIURL != nt.APIURL ||
		ot.RatePerSec != nt.RatePerSec || ot.Bot != nt.Bot {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.BotToken) != ""),
			logx.Bool("telegram.token_changed", ot.BotToken != nt.BotToken),
			logx.Bool("telegram.chat_set", strings.TrimSpace(nt.ChatID) != ""),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(nt.APIURL) != ""),
			logx.Int("telegram.rate_per_sec", nt.RatePerSec),
			logx.Bool("telegram.bot_enabled", nt.Bot.Enabled),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", nl.Level),
			logx.Bool("logx.console", nl.Console),
			logx.Bool("logx.json", nl.JSON),
			logx.Bool("logx.file_enabled", nl.File.Enabled),
			logx.Bool("logx.alerts_enabled", nl.Alerts.Enabled),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if ost.Driver != nst.Driver || ost.Path != nst.Path || ost.DSN != nst.DSN ||
		ost.BusyTimeout != nst.BusyTimeout || ost.MaxConns != nst.MaxConns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nst.DSN) != ""),
		)
	}

	if oldCfg.Payloads != newCfg.Payloads {
		changed = append(changed, "payloads")
		attrs = append(attrs,
			logx.String("payloads.ttl", newCfg.Payloads.TTL),
			logx.Int("payloads.max_entries", newCfg.Payloads.MaxEntries),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.timeout", newCfg.Delivery.Timeout),
			logx.Bool("delivery.log_legacy", newCfg.Delivery.LogLegacy),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retention, newCfg.Retention) {
		changed = append(changed, "retention")
		attrs = append(attrs,
			logx.Bool("retention.enabled", newCfg.RetentionEnabled()),
			logx.String("retention.schedule", newCfg.RetentionSchedule()),
			logx.String("retention.delivery_logs", newCfg.Retention.DeliveryLogs),
		)
	}

	recipients := diffRecipients(oldCfg.Recipients, newCfg.Recipients)
	if len(recipients) > 0 {
		changed = append(changed, "recipients")
		attrs = append(attrs,
			logx.Int("recipients.changed_count", len(recipients)),
			logx.Int("recipients.total", len(newCfg.Recipients)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, recipients
}

func diffRecipients(oldList, newList []domain.Recipient) []string {
	index := func(list []domain.Recipient) map[string]uint64 {
		m := make(map[string]uint64, len(list))
		for _, r := range list {
			m[r.ID] = hashJSON(r)
		}
		return m
	}
	oldM, newM := index(oldList), index(newList)

	out := make([]string, 0)
	for id, h := range newM {
		if oh, ok := oldM[id]; !ok || oh != h {
			out = append(out, id)
		}
	}
	for id := range oldM {
		if _, ok := newM[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func hashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
