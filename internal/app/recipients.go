package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pinga/internal/config"
	"pinga/internal/storage"
)

// seedRecipients upserts the recipients listed in cfg. When telegram.chat_id
// is set and no listed recipient uses the default id, the default recipient
// gets the system chat as its legacy telegram target.
func seedRecipients(ctx context.Context, st storage.Store, cfg *config.Config) (int, error) {
	n := 0
	listed := map[string]bool{}
	for _, r := range cfg.Recipients {
		r.ID = strings.TrimSpace(r.ID)
		if err := st.PutRecipient(ctx, r); err != nil {
			return n, fmt.Errorf("recipient %q: %w", r.ID, err)
		}
		listed[r.ID] = true
		n++
	}

	chatID := strings.TrimSpace(cfg.Telegram.ChatID)
	token := strings.TrimSpace(cfg.Telegram.BotToken)
	id := cfg.DefaultRecipient()
	if chatID == "" || token == "" || listed[id] {
		return n, nil
	}

	r, err := st.GetRecipient(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return n, fmt.Errorf("recipient %q: %w", id, err)
	}
	r.ID = id
	r.LegacyChatID = chatID
	r.LegacyBotToken = token
	if err := st.PutRecipient(ctx, r); err != nil {
		return n, fmt.Errorf("recipient %q: %w", id, err)
	}
	return n + 1, nil
}
