package bot

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v3"

	"event-notifier-bot/logger"
	"event-notifier-bot/platform"
	"event-notifier-bot/templates"
)

const commandTimeout = time.Minute

type adminsOf func(chat *tele.Chat) ([]tele.ChatMember, error)

type telegramHandler struct {
	service *Service
	admins  adminsOf
	log     *logger.Logger
}

func handleTelegram(b *tele.Bot, service *Service, log *logger.Logger) {
	h := &telegramHandler{service: service, admins: b.AdminsOf, log: log.WithComponent("telegram")}

	b.Handle("/start", h.help)
	b.Handle("/help", h.help)
	b.Handle("/subscribe", h.run(CommandSubscribe, service.Subscribe))
	b.Handle("/unsubscribe", h.run(CommandUnsubscribe, service.Unsubscribe))
	b.Handle("/topics", h.run(CommandTopics, service.Topics))
	b.Handle("/scrape", h.run(CommandScrape, service.Scrape))

	b.OnError = func(err error, c tele.Context) {
		h.log.Error().Err(err).Msg("command failed")
		if c == nil {
			return
		}
		err = c.Send(templates.UnexpectedError)
		if err != nil {
			h.log.Warn().Err(err).Msg("unable to send error reply")
		}
	}
}

func (h *telegramHandler) help(c tele.Context) error {
	return c.Send(templates.Hello)
}

func (h *telegramHandler) run(name string, command func(context.Context, platform.Command) (string, error)) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		reply, err := command(ctx, h.command(name, c))
		if err != nil {
			return err
		}
		return c.Send(reply)
	}
}

// command treats private chats and chat administrators as admins.
func (h *telegramHandler) command(name string, c tele.Context) platform.Command {
	command := platform.Command{Name: name, Args: c.Args()}
	chat := c.Chat()
	if chat != nil {
		command.ChannelId = chat.ID
	}
	sender := c.Sender()
	if sender != nil {
		command.UserId = sender.ID
	}
	if chat == nil || sender == nil {
		return command
	}
	if chat.Type == tele.ChatPrivate {
		command.Admin = true
		return command
	}
	members, err := h.admins(chat)
	if err != nil {
		h.log.Warn().Err(err).Int64("channel_id", chat.ID).Msg("unable to get chat administrators")
		return command
	}
	for _, member := range members {
		if member.User != nil && member.User.ID == sender.ID {
			command.Admin = true
			break
		}
	}
	return command
}
