package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"

	"event-notifier-bot/platform"
	"event-notifier-bot/render"
)

const notModified = "message is not modified"

// sender is the part of *tele.Bot the adapter uses.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Telegram struct {
	bot     sender
	journal Journal
}

func New(bot *tele.Bot, journal Journal) *Telegram {
	return &Telegram{bot: bot, journal: journal}
}

func (t *Telegram) Send(ctx context.Context, chatId int64, message render.Message) (string, error) {
	sent, err := t.bot.Send(tele.ChatID(chatId), formatHTML(message), sendOptions())
	if err != nil {
		return "", classify("send", chatId, err)
	}
	messageId := strconv.Itoa(sent.ID)
	err = t.journal.Append(ctx, chatId, Entry{MessageId: messageId, Content: message.Content})
	if err != nil {
		return messageId, platform.NewDispatchError("send", chatId, platform.ErrPlatformRejected, err)
	}
	return messageId, nil
}

func (t *Telegram) Edit(_ context.Context, chatId int64, messageId string, message render.Message) error {
	stored := &tele.StoredMessage{MessageID: messageId, ChatID: chatId}
	_, err := t.bot.Edit(stored, formatHTML(message), sendOptions())
	if err != nil && strings.Contains(err.Error(), notModified) {
		return nil
	}
	if err != nil {
		return classify("edit", chatId, err)
	}
	return nil
}

// History is served from the journal; every entry was authored by the bot.
func (t *Telegram) History(ctx context.Context, chatId int64, limit int) ([]platform.HistoryEntry, error) {
	entries, err := t.journal.Recent(ctx, chatId, limit)
	if err != nil {
		return nil, platform.NewDispatchError("history", chatId, platform.ErrPlatformRejected, err)
	}
	history := make([]platform.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		history = append(history, platform.HistoryEntry{
			MessageId:    e.MessageId,
			AuthorIsSelf: true,
			Content:      e.Content,
		})
	}
	return history, nil
}

// SetPresence does nothing, bots have no presence on Telegram.
func (t *Telegram) SetPresence(context.Context, platform.Presence) error {
	return nil
}

func sendOptions() *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
}

func classify(op string, chatId int64, err error) error {
	kind := platform.ErrPlatformRejected
	var teleErr *tele.Error
	if errors.As(err, &teleErr) {
		switch {
		case teleErr.Code == 403:
			kind = platform.ErrPermissionDenied
		case teleErr.Code == 400 && strings.Contains(strings.ToLower(teleErr.Description), "not found"):
			kind = platform.ErrNotFound
		}
	}
	return platform.NewDispatchError(op, chatId, kind, err)
}
