package discord

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"event-notifier-bot/platform"
)

const commandTimeout = time.Minute

// HandleCommands answers messages starting with prefix. It only works on a session created by Open.
func (d *Discord) HandleCommands(prefix string, handler platform.CommandHandler) {
	if d.raw == nil {
		return
	}
	d.raw.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		command, ok := parseCommand(prefix, m.Message, func(userId, channelId string) int64 {
			if s.State == nil {
				return 0
			}
			permissions, err := s.State.UserChannelPermissions(userId, channelId)
			if err != nil {
				return 0
			}
			return permissions
		})
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		reply := handler(ctx, command)
		if len(reply) == 0 {
			return
		}
		_, _ = s.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(ctx))
	})
}

func parseCommand(prefix string, m *discordgo.Message, permissions func(userId, channelId string) int64) (platform.Command, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || !strings.HasPrefix(m.Content, prefix) {
		return platform.Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return platform.Command{}, false
	}
	channelId, err := strconv.ParseInt(m.ChannelID, 10, 64)
	if err != nil {
		return platform.Command{}, false
	}
	userId, _ := strconv.ParseInt(m.Author.ID, 10, 64)
	return platform.Command{
		Name:      strings.ToLower(fields[0]),
		ChannelId: channelId,
		UserId:    userId,
		Admin:     permissions(m.Author.ID, m.ChannelID)&discordgo.PermissionAdministrator != 0,
		Args:      fields[1:],
	}, true
}
