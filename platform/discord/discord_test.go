package discord

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-notifier-bot/platform"
	"event-notifier-bot/render"
)

type fakeSession struct {
	sent     []*discordgo.MessageSend
	edits    []*discordgo.MessageEdit
	messages []*discordgo.Message
	calls    []string
	status   discordgo.UpdateStatusData
	err      error
}

func (f *fakeSession) ChannelMessageSendComplex(
	channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: strconv.Itoa(len(f.sent)), ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit, _ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.edits = append(f.edits, m)
	return &discordgo.Message{ID: m.ID}, nil
}

// ChannelMessages serves f.messages (newest first) the way Discord pages them.
func (f *fakeSession) ChannelMessages(
	_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	f.calls = append(f.calls, beforeID)
	start := 0
	if len(beforeID) > 0 {
		for i, m := range f.messages {
			if m.ID == beforeID {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(f.messages) {
		end = len(f.messages)
	}
	return f.messages[start:end], nil
}

func (f *fakeSession) UpdateStatusComplex(usd discordgo.UpdateStatusData) error {
	f.status = usd
	return nil
}

func restError(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

func TestDiscord__Send(t *testing.T) {
	s := &fakeSession{}
	d := newDiscord(s, "self")

	id, err := d.Send(context.Background(), 42, render.Message{
		Content: "***Hanami*** `ev:e1@2024-05-01`",
		Embed: &render.Embed{
			Title:     "Hanami",
			Color:     0xd69d37,
			Timestamp: time.Date(2024, 4, 20, 12, 0, 0, 0, time.UTC),
			Footer:    &render.Footer{Text: "TOKYO CHEAPO"},
			Fields:    []render.Field{{Name: "a", Value: "b", Inline: true}},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "1", id)
	require.Equal(t, 1, len(s.sent))
	assert.Equal(t, "***Hanami*** `ev:e1@2024-05-01`", s.sent[0].Content)
	require.Equal(t, 1, len(s.sent[0].Embeds))
	embed := s.sent[0].Embeds[0]
	assert.Equal(t, "Hanami", embed.Title)
	assert.Equal(t, "2024-04-20T12:00:00Z", embed.Timestamp)
	assert.Equal(t, "TOKYO CHEAPO", embed.Footer.Text)
	assert.Nil(t, embed.Image)
	assert.Equal(t, []*discordgo.MessageEmbedField{{Name: "a", Value: "b", Inline: true}}, embed.Fields)
}

func TestDiscord__Edit(t *testing.T) {
	s := &fakeSession{}
	d := newDiscord(s, "self")

	err := d.Edit(context.Background(), 42, "1001", render.Message{Content: "new"})

	require.NoError(t, err)
	require.Equal(t, 1, len(s.edits))
	assert.Equal(t, "42", s.edits[0].Channel)
	assert.Equal(t, "1001", s.edits[0].ID)
	assert.Equal(t, "new", *s.edits[0].Content)
}

func TestDiscord__Errors_Are_Classified(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{restError(http.StatusForbidden), platform.ErrPermissionDenied},
		{restError(http.StatusNotFound), platform.ErrNotFound},
		{restError(http.StatusBadRequest), platform.ErrPlatformRejected},
		{errors.New("connection reset"), platform.ErrPlatformRejected},
	}
	for _, c := range cases {
		d := newDiscord(&fakeSession{err: c.err}, "self")

		_, err := d.Send(context.Background(), 42, render.Message{Content: "x"})
		assert.True(t, errors.Is(err, c.kind), err.Error())

		err = d.Edit(context.Background(), 42, "1", render.Message{Content: "x"})
		assert.True(t, errors.Is(err, c.kind), err.Error())
	}
}

func TestDiscord__History_Pages(t *testing.T) {
	s := &fakeSession{}
	for i := 250; i > 0; i-- {
		author := "self"
		if i%2 == 0 {
			author = "someone"
		}
		s.messages = append(s.messages, &discordgo.Message{
			ID:      strconv.Itoa(i),
			Content: "m" + strconv.Itoa(i),
			Author:  &discordgo.User{ID: author},
		})
	}
	d := newDiscord(s, "self")

	entries, err := d.History(context.Background(), 42, 230)

	require.NoError(t, err)
	assert.Equal(t, 230, len(entries))
	assert.Equal(t, []string{"", "151", "51"}, s.calls)
	assert.Equal(t, "250", entries[0].MessageId)
	assert.False(t, entries[0].AuthorIsSelf)
	assert.True(t, entries[1].AuthorIsSelf)
	assert.Equal(t, "21", entries[229].MessageId)
}

func TestDiscord__History_Stops_At_Channel_Start(t *testing.T) {
	s := &fakeSession{messages: []*discordgo.Message{{ID: "2"}, {ID: "1"}}}
	d := newDiscord(s, "self")

	entries, err := d.History(context.Background(), 42, 200)

	require.NoError(t, err)
	assert.Equal(t, 2, len(entries))
	assert.Equal(t, 1, len(s.calls))
}

func TestDiscord__SetPresence(t *testing.T) {
	s := &fakeSession{}
	d := newDiscord(s, "self")

	err := d.SetPresence(context.Background(), platform.Presence{Activity: "Internet", Kind: platform.Listening})

	require.NoError(t, err)
	assert.Equal(t, "online", s.status.Status)
	require.Equal(t, 1, len(s.status.Activities))
	assert.Equal(t, "Internet", s.status.Activities[0].Name)
	assert.Equal(t, discordgo.ActivityTypeListening, s.status.Activities[0].Type)
}
