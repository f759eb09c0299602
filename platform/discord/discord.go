package discord

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"event-notifier-bot/platform"
	"event-notifier-bot/render"
)

// Discord API maximum
const historyPageSize = 100

// session is the part of *discordgo.Session the adapter uses.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

type Discord struct {
	session session
	raw     *discordgo.Session
	selfId  func() string
	close   func() error
}

// Open connects to the gateway with a bot token.
func Open(token string) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "error during creation of discord session")
	}
	s.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	err = s.Open()
	if err != nil {
		return nil, errors.Wrap(err, "unable to open discord gateway")
	}
	selfId := func() string {
		if s.State == nil || s.State.User == nil {
			return ""
		}
		return s.State.User.ID
	}
	return &Discord{session: s, raw: s, selfId: selfId, close: s.Close}, nil
}

func newDiscord(s session, selfId string) *Discord {
	return &Discord{
		session: s,
		selfId:  func() string { return selfId },
		close:   func() error { return nil },
	}
}

func (d *Discord) Close() error {
	return d.close()
}

func (d *Discord) Send(ctx context.Context, channelId int64, message render.Message) (string, error) {
	data := &discordgo.MessageSend{
		Content: message.Content,
		Embeds:  embeds(message.Embed),
	}
	sent, err := d.session.ChannelMessageSendComplex(channelIdString(channelId), data, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify("send", channelId, err)
	}
	return sent.ID, nil
}

func (d *Discord) Edit(ctx context.Context, channelId int64, messageId string, message render.Message) error {
	edit := discordgo.NewMessageEdit(channelIdString(channelId), messageId).
		SetContent(message.Content).
		SetEmbeds(embeds(message.Embed))
	_, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	if err != nil {
		return classify("edit", channelId, err)
	}
	return nil
}

// History pages backwards from the newest message until limit messages are read or the channel
// start is reached.
func (d *Discord) History(ctx context.Context, channelId int64, limit int) ([]platform.HistoryEntry, error) {
	self := d.selfId()
	var entries []platform.HistoryEntry
	before := ""
	for len(entries) < limit {
		pageSize := limit - len(entries)
		if pageSize > historyPageSize {
			pageSize = historyPageSize
		}
		messages, err := d.session.ChannelMessages(
			channelIdString(channelId), pageSize, before, "", "", discordgo.WithContext(ctx),
		)
		if err != nil {
			return nil, classify("history", channelId, err)
		}
		for _, m := range messages {
			entries = append(entries, platform.HistoryEntry{
				MessageId:    m.ID,
				AuthorIsSelf: m.Author != nil && len(self) > 0 && m.Author.ID == self,
				Content:      m.Content,
			})
		}
		if len(messages) < pageSize {
			break
		}
		before = messages[len(messages)-1].ID
	}
	return entries, nil
}

func (d *Discord) SetPresence(_ context.Context, presence platform.Presence) error {
	activityType := discordgo.ActivityTypeGame
	if presence.Kind == platform.Listening {
		activityType = discordgo.ActivityTypeListening
	}
	status := presence.Status
	if len(status) == 0 {
		status = string(discordgo.StatusOnline)
	}
	return d.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: status,
		Activities: []*discordgo.Activity{
			{Name: presence.Activity, Type: activityType},
		},
	})
}

func channelIdString(channelId int64) string {
	return strconv.FormatInt(channelId, 10)
}

func classify(op string, channelId int64, err error) error {
	kind := platform.ErrPlatformRejected
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden, http.StatusUnauthorized:
			kind = platform.ErrPermissionDenied
		case http.StatusNotFound:
			kind = platform.ErrNotFound
		}
	}
	return platform.NewDispatchError(op, channelId, kind, err)
}

func embeds(e *render.Embed) []*discordgo.MessageEmbed {
	if e == nil {
		return []*discordgo.MessageEmbed{}
	}
	embed := &discordgo.MessageEmbed{
		URL:         e.URL,
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if !e.Timestamp.IsZero() {
		embed.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	if len(e.ImageURL) > 0 {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if len(e.ThumbnailURL) > 0 {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	if e.Author != nil {
		embed.Author = &discordgo.MessageEmbedAuthor{URL: e.Author.URL, Name: e.Author.Name, IconURL: e.Author.IconURL}
	}
	if e.Footer != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return []*discordgo.MessageEmbed{embed}
}
