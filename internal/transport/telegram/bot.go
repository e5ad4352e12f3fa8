// Package telegram runs the optional inbound bot that links Telegram chats
// to recipients through /start and explains setup through /help.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "pinga/internal/runtime/supervisor"
	logx "pinga/pkg/logx"
)

type Config struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// Bot long-polls Telegram and answers linking commands.
type Bot struct {
	bot    *tele.Bot
	linker *Linker
	log    logx.Logger

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

// NewBot connects to the Bot API (getMe) and registers the handlers.
func NewBot(cfg Config, linker *Linker, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    strings.TrimRight(cfg.APIURL, "/"),
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	bt := &Bot{bot: b, linker: linker, log: log}
	bt.registerHandlers()
	return bt, nil
}

func (b *Bot) registerHandlers() {
	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		reply := b.linker.Handle(ctx, chatOf(m.Chat), m.Text)
		if reply == "" {
			return nil
		}
		return c.Send(reply)
	})

	b.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		u := c.ChatMember()
		if u == nil || u.NewChatMember == nil || u.Chat == nil {
			return nil
		}
		switch u.NewChatMember.Role {
		case tele.Member, tele.Administrator:
		default:
			return nil
		}
		if !chatOf(u.Chat).Group {
			return nil
		}
		_, err := b.bot.Send(u.Chat, b.linker.AddedToGroup())
		return err
	})
}

func chatOf(c *tele.Chat) Chat {
	return Chat{ID: c.ID, Group: c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup}
}

// Start begins long polling under a restart loop. It is idempotent.
func (b *Bot) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sup != nil {
		return
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(b.log), rtsup.WithCancelOnError(false))
	b.sup = sup

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.bot.Stop()
	})
	sup.GoRestart0("telebot.poll", func(context.Context) {
		b.log.Info("polling started", logx.String("bot", b.bot.Me.Username))
		b.bot.Start()
		b.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
}

// Stop ends polling and waits up to a short grace window.
func (b *Bot) Stop(ctx context.Context) {
	b.mu.Lock()
	sup := b.sup
	b.sup = nil
	b.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		b.log.Debug("telegram bot stopped with error", logx.Err(err))
	}
}
