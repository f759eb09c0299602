package notify

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-notifier-bot/db"
	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/metrics"
	"event-notifier-bot/platform"
	"event-notifier-bot/reconcile"
	"event-notifier-bot/render"
)

type fakeStore struct {
	events      []event.Event
	unavailable map[string]bool
}

func (s *fakeStore) QueryEvents(_ context.Context, query event.Query) ([]event.Event, error) {
	var result []event.Event
	for _, topic := range query.Topics {
		if s.unavailable[topic] {
			return nil, &db.StoreError{Op: "query events", Kind: db.ErrUnavailable, Err: errors.New("connection refused")}
		}
	}
	for _, e := range s.events {
		if e.StartDate.Before(query.From) || e.LastDate().After(query.Until) {
			continue
		}
		for _, topic := range query.Topics {
			if e.Topic == topic {
				result = append(result, e)
			}
		}
	}
	return result, nil
}

type post struct {
	id      string
	content string
	foreign bool
}

type fakePlatform struct {
	mu          sync.Mutex
	posts       map[int64][]post
	edits       []string
	sendErrs    map[string]error
	historyErrs map[int64]error
	calls       []time.Time
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		posts:       make(map[int64][]post),
		sendErrs:    make(map[string]error),
		historyErrs: make(map[int64]error),
	}
}

func (p *fakePlatform) Send(_ context.Context, channelId int64, message render.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, time.Now())
	for marker, err := range p.sendErrs {
		if id, ok := render.ParseMarker(message.Content); ok && render.Marker(id) == marker {
			return "", err
		}
	}
	id := strconv.Itoa(1000 + len(p.posts[channelId]))
	p.posts[channelId] = append([]post{{id: id, content: message.Content}}, p.posts[channelId]...)
	return id, nil
}

func (p *fakePlatform) Edit(_ context.Context, channelId int64, messageId string, message render.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, time.Now())
	p.edits = append(p.edits, messageId)
	for i, existing := range p.posts[channelId] {
		if existing.id == messageId {
			p.posts[channelId][i].content = message.Content
			return nil
		}
	}
	return platform.NewDispatchError("edit", channelId, platform.ErrNotFound, errors.New("unknown message"))
}

func (p *fakePlatform) History(_ context.Context, channelId int64, limit int) ([]platform.HistoryEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, time.Now())
	if err := p.historyErrs[channelId]; err != nil {
		return nil, err
	}
	var entries []platform.HistoryEntry
	for _, existing := range p.posts[channelId] {
		if len(entries) == limit {
			break
		}
		entries = append(entries, platform.HistoryEntry{MessageId: existing.id, AuthorIsSelf: !existing.foreign, Content: existing.content})
	}
	return entries, nil
}

func (p *fakePlatform) SetPresence(context.Context, platform.Presence) error {
	return nil
}

func (p *fakePlatform) addForeign(channelId int64, id, content string) {
	p.posts[channelId] = append(p.posts[channelId], post{id: id, content: content, foreign: true})
}

var window = Window{From: event.NewDate(2024, 5, 1), Until: event.NewDate(2024, 5, 8)}

func newEvent(id string, topic string, status string) event.Event {
	return event.Event{
		Id:        id,
		StartDate: event.NewDate(2024, 5, 1),
		Name:      event.StringPtr("name " + id),
		Topic:     topic,
		Status:    status,
	}
}

func newNotifier(store EventStore, p platform.Platform, delay time.Duration, m *metrics.Metrics) *Notifier {
	renderer := render.NewRenderer(render.Author{}, nil)
	dispatcher := NewDispatcher(p, delay, 1024*1024, m, logger.Nop())
	return NewNotifier(store, p, reconcile.NewPlanner(renderer.Render), dispatcher, 200, 4, logger.Nop())
}

func TestNotifyChannel__Create_For_Subscribed_Channel(t *testing.T) {
	store := &fakeStore{events: []event.Event{newEvent("e1", "music", "scheduled")}}
	p := newFakePlatform()
	m := metrics.New()
	n := newNotifier(store, p, 0, m)

	report, err := n.NotifyChannel(context.Background(), event.Subscription{ChannelId: 42, Topics: []string{"music"}}, window)

	require.NoError(t, err)
	assert.Equal(t, Report{ChannelId: 42, Created: 1}, report)
	require.Equal(t, 1, len(p.posts[42]))
	id, ok := render.ParseMarker(p.posts[42][0].content)
	require.True(t, ok)
	assert.Equal(t, "e1@2024-05-01", id.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Actions.WithLabelValues("create", "ok")))
}

func TestNotifyChannel__Second_Run_Does_Not_Repost(t *testing.T) {
	store := &fakeStore{events: []event.Event{newEvent("e1", "music", "scheduled")}}
	p := newFakePlatform()
	n := newNotifier(store, p, 0, nil)
	sub := event.Subscription{ChannelId: 42, Topics: []string{"music"}}

	_, err := n.NotifyChannel(context.Background(), sub, window)
	require.NoError(t, err)
	report, err := n.NotifyChannel(context.Background(), sub, window)
	require.NoError(t, err)

	assert.Equal(t, Report{ChannelId: 42, Unchanged: 1}, report)
	assert.Equal(t, 1, len(p.posts[42]))
	assert.Equal(t, 0, len(p.edits))
}

func TestNotifyChannel__Cancellation_Edits_Posted_Message(t *testing.T) {
	store := &fakeStore{events: []event.Event{newEvent("e1", "music", "scheduled")}}
	p := newFakePlatform()
	n := newNotifier(store, p, 0, nil)
	sub := event.Subscription{ChannelId: 42, Topics: []string{"music"}}

	_, err := n.NotifyChannel(context.Background(), sub, window)
	require.NoError(t, err)
	store.events[0].Status = "Cancelled"
	report, err := n.NotifyChannel(context.Background(), sub, window)
	require.NoError(t, err)

	assert.Equal(t, Report{ChannelId: 42, Updated: 1}, report)
	assert.Equal(t, []string{"1000"}, p.edits)
	assert.Contains(t, p.posts[42][0].content, "CANCELLED: name e1")
}

func TestNotifyChannel__Cancelled_Without_History_Is_Not_Posted(t *testing.T) {
	store := &fakeStore{events: []event.Event{newEvent("e1", "music", "cancelled")}}
	p := newFakePlatform()
	n := newNotifier(store, p, 0, nil)

	report, err := n.NotifyChannel(context.Background(), event.Subscription{ChannelId: 42, Topics: []string{"music"}}, window)

	require.NoError(t, err)
	assert.Equal(t, Report{ChannelId: 42, Skipped: 1}, report)
	assert.Equal(t, 0, len(p.posts[42]))
}

func TestNotifyChannel__Topic_Filter_And_Foreign_Messages(t *testing.T) {
	store := &fakeStore{events: []event.Event{
		newEvent("e1", "music", "scheduled"),
		newEvent("e2", "food", "scheduled"),
	}}
	p := newFakePlatform()
	p.addForeign(42, "5", "someone quoting `ev:e1@2024-05-01`")
	n := newNotifier(store, p, 0, nil)

	report, err := n.NotifyChannel(context.Background(), event.Subscription{ChannelId: 42, Topics: []string{"music"}}, window)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, len(p.edits))
}

func TestNotifyChannel__Failed_Action_Does_Not_Abort_Plan(t *testing.T) {
	store := &fakeStore{events: []event.Event{
		newEvent("e1", "music", "scheduled"),
		newEvent("e2", "music", "scheduled"),
	}}
	p := newFakePlatform()
	p.sendErrs["ev:e1@2024-05-01"] = platform.NewDispatchError("send", 42, platform.ErrPermissionDenied, errors.New("403"))
	n := newNotifier(store, p, 0, nil)

	report, err := n.NotifyChannel(context.Background(), event.Subscription{ChannelId: 42, Topics: []string{"music"}}, window)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failed)
	require.Equal(t, 1, len(report.Errors))
	assert.True(t, errors.Is(report.Errors[0], platform.ErrPermissionDenied))
}

func TestNotifyChannel__Calls_Are_Spaced(t *testing.T) {
	store := &fakeStore{events: []event.Event{
		newEvent("e1", "music", "scheduled"),
		newEvent("e2", "music", "scheduled"),
		newEvent("e3", "music", "scheduled"),
	}}
	p := newFakePlatform()
	delay := 30 * time.Millisecond
	n := newNotifier(store, p, delay, nil)

	_, err := n.NotifyChannel(context.Background(), event.Subscription{ChannelId: 42, Topics: []string{"music"}}, window)
	require.NoError(t, err)

	require.Equal(t, 4, len(p.calls))
	for i := 1; i < len(p.calls); i++ {
		assert.True(t, p.calls[i].Sub(p.calls[i-1]) >= delay-5*time.Millisecond)
	}
}

func TestNotifyAll__Channel_Failure_Is_Isolated(t *testing.T) {
	store := &fakeStore{events: []event.Event{newEvent("e1", "music", "scheduled")}}
	p := newFakePlatform()
	p.historyErrs[7] = platform.NewDispatchError("history", 7, platform.ErrPermissionDenied, errors.New("403"))
	n := newNotifier(store, p, 0, nil)

	reports, err := n.NotifyAll(context.Background(), []event.Subscription{
		{ChannelId: 7, Topics: []string{"music"}},
		{ChannelId: 42, Topics: []string{"music"}},
	}, window)

	require.NoError(t, err)
	require.Equal(t, 2, len(reports))
	assert.Equal(t, 0, reports[0].Created)
	assert.Equal(t, 1, reports[1].Created)
}

func TestNotifyAll__Store_Unavailable_Aborts(t *testing.T) {
	store := &fakeStore{
		events:      []event.Event{newEvent("e1", "music", "scheduled")},
		unavailable: map[string]bool{"food": true},
	}
	n := newNotifier(store, newFakePlatform(), 0, nil)

	_, err := n.NotifyAll(context.Background(), []event.Subscription{
		{ChannelId: 7, Topics: []string{"food"}},
		{ChannelId: 42, Topics: []string{"music"}},
	}, window)

	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrUnavailable))
}

func TestNewWindow(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	w := NewWindow(time.Date(2024, 4, 30, 20, 0, 0, 0, time.UTC), tokyo, 7*24*time.Hour)

	assert.Equal(t, event.NewDate(2024, 5, 1), w.From)
	assert.Equal(t, event.NewDate(2024, 5, 8), w.Until)
}
