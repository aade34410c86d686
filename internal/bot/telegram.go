// Package bot adapts the Telegram Bot API to the transport-neutral chat
// contracts: it feeds inbound updates to a handler and implements the
// outbound responder and notifier surfaces.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/taskdesk/taskdesk/internal/chat"
	"github.com/taskdesk/taskdesk/internal/notification"
	"github.com/taskdesk/taskdesk/internal/user"
	"github.com/taskdesk/taskdesk/pkg/cerr"
	"github.com/taskdesk/taskdesk/pkg/panicerr"
)

// Handler consumes the three inbound chat event shapes.
type Handler interface {
	HandleCommand(ctx context.Context, cmd chat.Command)
	HandleMessage(ctx context.Context, msg chat.Message)
	HandleCallback(ctx context.Context, cb chat.Callback)
}

type Bot struct {
	api   *tgbotapi.BotAPI
	users user.Repository
}

func New(token string, users user.Repository) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	return &Bot{api: api, users: users}, nil
}

// Run long-polls for updates and dispatches them to h until ctx is done.
// Updates from the same sender are handled sequentially in arrival order;
// distinct senders are handled concurrently.
func (b *Bot) Run(ctx context.Context, h Handler) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	seq := newSequencer()
	defer seq.Close()

	slog.Info("telegram bot started", "username", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			slog.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			seq.Submit(updateIdentity(update), func() {
				b.dispatch(ctx, h, update)
			})
		}
	}
}

func updateIdentity(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

func (b *Bot) dispatch(ctx context.Context, h Handler, update tgbotapi.Update) {
	err := panicerr.Safe(func() error {
		b.handleUpdate(ctx, h, update)
		return nil
	})()
	if err != nil {
		slog.Error("telegram bot: handler panic", "error", err)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, h Handler, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		h.HandleCommand(ctx, chat.Command{
			Identity: update.Message.From.ID,
			ChatID:   update.Message.Chat.ID,
			Name:     update.Message.Command(),
			Username: update.Message.From.UserName,
		})
	case update.Message != nil && update.Message.Text != "":
		h.HandleMessage(ctx, chat.Message{
			Identity: update.Message.From.ID,
			ChatID:   update.Message.Chat.ID,
			Text:     update.Message.Text,
			Username: update.Message.From.UserName,
		})
	case update.CallbackQuery != nil:
		payload, err := chat.DecodePayload(update.CallbackQuery.Data)
		if err != nil {
			slog.Warn("telegram bot: undecodable callback payload", "data", update.CallbackQuery.Data)
			b.Ack(ctx, update.CallbackQuery.ID, "")
			return
		}
		cb := chat.Callback{
			Identity:   update.CallbackQuery.From.ID,
			CallbackID: update.CallbackQuery.ID,
			Payload:    payload,
		}
		if update.CallbackQuery.Message != nil {
			cb.ChatID = update.CallbackQuery.Message.Chat.ID
			cb.MessageID = update.CallbackQuery.Message.MessageID
		}
		h.HandleCallback(ctx, cb)
	}
}

func toMarkup(kb chat.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Payload.Encode()))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) Reply(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (b *Bot) ReplyKeyboard(ctx context.Context, chatID int64, text string, kb chat.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kb) > 0 {
		msg.ReplyMarkup = toMarkup(kb)
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (b *Bot) Ack(ctx context.Context, callbackID, text string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

func (b *Bot) EditKeyboard(ctx context.Context, chatID int64, messageID int, kb chat.Keyboard) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, toMarkup(kb))
	if _, err := b.api.Send(edit); err != nil {
		return fmt.Errorf("failed to edit keyboard: %w", err)
	}
	return nil
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Notify resolves the addressee by display name and delivers the personal
// message. Users without a linked chat are skipped without error so the
// dispatcher treats them as unreachable rather than failed.
func (b *Bot) Notify(ctx context.Context, n *notification.Notification) error {
	u, err := b.users.GetByName(ctx, n.UserName)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			slog.Debug("telegram bot: notification for unknown user", "user", n.UserName)
			return nil
		}
		return err
	}
	if u.TelegramID == 0 {
		slog.Debug("telegram bot: user has no linked chat", "user", n.UserName)
		return nil
	}
	if len(n.Keyboard) > 0 {
		return b.ReplyKeyboard(ctx, u.TelegramID, n.Text, n.Keyboard)
	}
	return b.Reply(ctx, u.TelegramID, n.Text)
}

// Announce sends text to every user with a linked chat. Failures are
// logged per recipient.
func (b *Bot) Announce(ctx context.Context, text string) error {
	users, err := b.users.List(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.TelegramID == 0 {
			continue
		}
		if err := b.Reply(ctx, u.TelegramID, text); err != nil {
			slog.Warn("telegram bot: announce delivery failed", "user", u.Name, "error", err)
		}
	}
	return nil
}
