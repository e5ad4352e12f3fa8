package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pinga/internal/channel"
	"pinga/internal/domain"
	"pinga/internal/storage"
	logx "pinga/pkg/logx"
)

// RecipientStore is the slice of storage.Store the linker writes through.
type RecipientStore interface {
	GetRecipient(ctx context.Context, id string) (domain.Recipient, error)
	PutRecipient(ctx context.Context, r domain.Recipient) error
}

// Chat is the part of an incoming Telegram chat the linker needs.
type Chat struct {
	ID    int64
	Group bool
}

const channelLinkPrefix = "channel_"

const (
	msgInvalidLink = "❌ Invalid link code."
	msgUserMissing = "❌ Could not find a user account to link. Please try again from the dashboard."
	msgUserLinked  = "✅ Successfully connected your Telegram account to Pinga! You will now receive notifications here.\n\n💡 Tip: Use /help for more information."
	msgStoreFailed = "⚠️ Could not save the link right now. Please try again in a moment."

	msgHelpGroup = "🤖 Pinga Bot - Group Chat Setup\n\n" +
		"To receive notifications in this group:\n\n" +
		"1️⃣ Open your Pinga configuration and add a telegram channel\n" +
		"2️⃣ Send /start channel_<userId>_<channelIndex> here\n" +
		"3️⃣ The channel is linked to this group and enabled\n\n" +
		"💡 Tip: webhook rules on the channel decide which notifications arrive here."
	msgHelpPrivate = "🤖 Pinga Bot - Personal Chat Setup\n\n" +
		"To receive notifications here:\n\n" +
		"1️⃣ Send /start <userId> to link your account\n" +
		"2️⃣ Or send /start channel_<userId>_<channelIndex> to link one channel\n\n" +
		"✨ You can have multiple channels for different projects."
	msgWelcomeGroup = "👋 Welcome to Pinga!\n\n" +
		"I'm your developer notification bot.\n\n" +
		"Use /help to see how to link this group."
	msgWelcomePrivate = "👋 Welcome to Pinga!\n\n" +
		"I help you receive developer notifications from GitHub, Vercel, Render, and more!\n\n" +
		"Use /help to see how to connect this chat."
	msgAddedToGroup = "🎉 Thanks for adding me to this group!\n\n" +
		"Send /start channel_<userId>_<channelIndex> to route a channel here.\n\n" +
		"Use /help anytime for assistance."
)

// Linker turns /start and /help commands into recipient updates and reply
// texts. It has no Telegram dependency.
type Linker struct {
	store        RecipientStore
	defaultToken func() string
	log          logx.Logger
}

// NewLinker builds a Linker. defaultToken supplies the system bot token used
// for legacy links and may be nil.
func NewLinker(store RecipientStore, defaultToken func() string, log logx.Logger) *Linker {
	if defaultToken == nil {
		defaultToken = func() string { return "" }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Linker{store: store, defaultToken: defaultToken, log: log}
}

// Handle returns the reply for text, or "" when the message is not for us.
func (l *Linker) Handle(ctx context.Context, chat Chat, text string) string {
	cmd, arg := splitCommand(text)
	switch cmd {
	case "/help":
		if chat.Group {
			return msgHelpGroup
		}
		return msgHelpPrivate
	case "/start":
		switch {
		case arg == "":
			if chat.Group {
				return msgWelcomeGroup
			}
			return msgWelcomePrivate
		case strings.HasPrefix(arg, channelLinkPrefix):
			return l.linkChannel(ctx, chat, arg)
		default:
			return l.linkUser(ctx, chat, arg)
		}
	}
	return ""
}

// AddedToGroup is the greeting sent when the bot joins a group.
func (l *Linker) AddedToGroup() string { return msgAddedToGroup }

// splitCommand returns the lowercased command without any @botname suffix
// and the first argument.
func splitCommand(text string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return "", ""
	}
	cmd := strings.ToLower(parts[0])
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if len(parts) > 1 {
		return cmd, parts[1]
	}
	return cmd, ""
}

func (l *Linker) linkUser(ctx context.Context, chat Chat, userID string) string {
	r, err := l.store.GetRecipient(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return msgUserMissing
		}
		l.log.Error("recipient lookup failed", logx.String("user_id", userID), logx.Err(err))
		return msgStoreFailed
	}

	r.LegacyChatID = strconv.FormatInt(chat.ID, 10)
	if strings.TrimSpace(r.LegacyBotToken) == "" {
		r.LegacyBotToken = l.defaultToken()
	}
	if err := l.store.PutRecipient(ctx, r); err != nil {
		l.log.Error("recipient save failed", logx.String("user_id", userID), logx.Err(err))
		return msgStoreFailed
	}
	l.log.Info("telegram chat linked", logx.String("user_id", userID), logx.Int64("chat_id", chat.ID))
	return msgUserLinked
}

// linkChannel handles "channel_<userId>_<index>".
func (l *Linker) linkChannel(ctx context.Context, chat Chat, arg string) string {
	// The index follows the last underscore; user ids may contain '_'.
	rest := strings.TrimPrefix(arg, channelLinkPrefix)
	cut := strings.LastIndexByte(rest, '_')
	if cut <= 0 {
		return msgInvalidLink
	}
	userID := rest[:cut]
	idx, err := strconv.Atoi(rest[cut+1:])
	if err != nil || idx < 0 {
		return msgInvalidLink
	}

	r, err := l.store.GetRecipient(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		l.log.Error("recipient lookup failed", logx.String("user_id", userID), logx.Err(err))
		return msgStoreFailed
	}
	var detail string
	switch {
	case err != nil:
		detail = "User not found"
	case len(r.Channels) == 0:
		detail = "No channels created yet"
	case idx >= len(r.Channels):
		detail = fmt.Sprintf("Channel %d doesn't exist (you have %d channel(s))", idx, len(r.Channels))
	case !strings.EqualFold(r.Channels[idx].Type, channel.TypeTelegram):
		detail = fmt.Sprintf("Channel %d is a %s channel, not telegram", idx, r.Channels[idx].Type)
	}
	if detail != "" {
		l.log.Warn("channel link failed", logx.String("user_id", userID), logx.Int("index", idx), logx.String("reason", detail))
		return "❌ Could not find the channel to link.\n\nDebug: " + detail +
			"\n\nMake sure the recipient has a telegram channel at that index, then send the link again."
	}

	ch := r.Channels[idx]
	cfg := make(map[string]any, len(ch.Config)+2)
	for k, v := range ch.Config {
		cfg[k] = v
	}
	cfg["chatId"] = strconv.FormatInt(chat.ID, 10)
	cfg["isGroupChat"] = chat.Group
	ch.Config = cfg
	ch.Enabled = true
	r.Channels[idx] = ch

	if err := l.store.PutRecipient(ctx, r); err != nil {
		l.log.Error("recipient save failed", logx.String("user_id", userID), logx.Err(err))
		return msgStoreFailed
	}
	l.log.Info("telegram channel linked",
		logx.String("user_id", userID),
		logx.Int("index", idx),
		logx.Int64("chat_id", chat.ID),
		logx.Bool("group", chat.Group),
	)

	name := ch.Name
	if name == "" {
		name = "Channel"
	}
	if chat.Group {
		return "✅ Group Connected Successfully!\n\n\"" + name + "\" is now linked to this group.\n\n" +
			"🔔 You'll receive filtered notifications here.\n\n💡 Tip: Use /help to see available commands."
	}
	return "✅ Channel Connected Successfully!\n\n\"" + name + "\" is now linked to this chat.\n\n" +
		"🔔 You'll receive notifications here.\n\n💡 Tip: Use /help to see available commands."
}
