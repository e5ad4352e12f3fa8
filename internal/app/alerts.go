package app

import (
	"context"
	"errors"
	"sync"

	"pinga/internal/channel"
)

// alertSender forwards log alerts to the operator chat through the
// Telegram backend.
type alertSender struct {
	tg *channel.Telegram

	mu     sync.RWMutex
	chatID string
}

func (a *alertSender) setChat(chatID string) {
	a.mu.Lock()
	a.chatID = chatID
	a.mu.Unlock()
}

func (a *alertSender) SendAlert(ctx context.Context, text string) error {
	a.mu.RLock()
	chatID := a.chatID
	a.mu.RUnlock()
	if chatID == "" {
		return errors.New("alert chat not configured")
	}
	res := a.tg.SendPlain(ctx, chatID, text)
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}
