package db

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-notifier-bot/event"
)

const testDatabaseEnv = "EVENTBOT_TEST_DATABASE_URL"

var migrateOnce sync.Once

func newTestDB(t *testing.T) *DB {
	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%v is not set", testDatabaseEnv)
	}
	migrateOnce.Do(func() {
		m, err := NewMigrator(dsn)
		require.NoError(t, err)
		require.NoError(t, m.Reset())
		require.NoError(t, m.Close())
	})
	d := New(dsn)
	t.Cleanup(func() {
		_ = d.Close()
	})
	_, err := d.db.ExecContext(newContext(), "TRUNCATE events, channels")
	require.NoError(t, err)
	return d
}

func newContext() context.Context {
	return context.Background()
}

func newEvent(id string, day int, topic string, status string) event.Event {
	return event.Event{
		Id:        id,
		StartDate: event.NewDate(2024, 5, day),
		Name:      event.StringPtr("name " + id),
		Location:  "Shibuya, Harajuku",
		Cost:      "Free",
		Status:    status,
		Topic:     topic,
		Source:    "Web:TokyoCheapo",
	}
}

func mayWindow(topics ...string) event.Query {
	return event.Query{
		Topics: topics,
		From:   event.NewDate(2024, 5, 1),
		Until:  event.NewDate(2024, 5, 31),
	}
}

func TestUpsertEvents__Idempotent(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()

	batch := []event.Event{
		newEvent("e1", 1, "music", "scheduled"),
		newEvent("e2", 2, "food", "scheduled"),
	}

	_, err := d.UpsertEvents(ctx, batch)
	require.NoError(t, err)
	first, err := d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)

	_, err = d.UpsertEvents(ctx, batch)
	require.NoError(t, err)
	second, err := d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)

	assert.Equal(t, 2, len(second))
	assert.Equal(t, summarize(first), summarize(second))
}

func summarize(events []event.Event) []string {
	var result []string
	for _, e := range events {
		result = append(result, fmt.Sprintf("%v %v %v %v %v",
			e.Identity(), e.Title(), e.Topic, e.Status, e.AddedAt.UTC().Format(time.RFC3339Nano)))
	}
	return result
}

func TestUpsertEvents__Start_Date_Is_Part_Of_Identity(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()

	_, err := d.UpsertEvents(ctx, []event.Event{
		newEvent("e1", 1, "music", "scheduled"),
		newEvent("e1", 8, "music", "scheduled"),
	})
	require.NoError(t, err)

	events, err := d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)
	require.Equal(t, 2, len(events))
	assert.Equal(t, event.Identity{Id: "e1", StartDate: event.NewDate(2024, 5, 1)}, events[0].Identity())
	assert.Equal(t, event.Identity{Id: "e1", StartDate: event.NewDate(2024, 5, 8)}, events[1].Identity())
}

func TestUpsertEvents__Replaces_Fields_But_Keeps_Added_At(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()

	_, err := d.UpsertEvents(ctx, []event.Event{newEvent("e1", 1, "music", "scheduled")})
	require.NoError(t, err)
	before, err := d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)
	require.Equal(t, 1, len(before))

	changed := newEvent("e1", 1, "music", "cancelled")
	changed.Name = event.StringPtr("renamed")
	_, err = d.UpsertEvents(ctx, []event.Event{changed})
	require.NoError(t, err)

	after, err := d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)
	require.Equal(t, 1, len(after))
	assert.Equal(t, "cancelled", after[0].Status)
	assert.Equal(t, "renamed", after[0].Title())
	assert.True(t, before[0].AddedAt.Equal(after[0].AddedAt))
}

func TestUpsertEvents__Last_Duplicate_In_Batch_Wins(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()

	_, err := d.UpsertEvents(ctx, []event.Event{
		newEvent("e1", 1, "music", "scheduled"),
		newEvent("e1", 1, "music", "cancelled"),
	})
	require.NoError(t, err)

	events, err := d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, "cancelled", events[0].Status)
}

func TestUpsertEvents__Batch_Is_Atomic(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()

	broken := newEvent("e2", 5, "music", "scheduled")
	end := event.NewDate(2024, 5, 1)
	broken.EndDate = &end

	_, err := d.UpsertEvents(ctx, []event.Event{
		newEvent("e1", 1, "music", "scheduled"),
		broken,
	})
	assert.ErrorIs(t, err, ErrConstraintViolation)

	events, err := d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)
	assert.Equal(t, 0, len(events))
}

func TestQueryEvents__Topic_Filter_And_Window(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()

	long := newEvent("e3", 30, "music", "scheduled")
	end := event.NewDate(2024, 6, 2)
	long.EndDate = &end

	_, err := d.UpsertEvents(ctx, []event.Event{
		newEvent("e1", 1, "music", "scheduled"),
		newEvent("e2", 2, "food", "scheduled"),
		long,
	})
	require.NoError(t, err)

	events, err := d.QueryEvents(ctx, mayWindow("music"))
	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, "e1", events[0].Id)
	for _, e := range events {
		assert.Equal(t, "music", e.Topic)
	}

	events, err = d.QueryEvents(ctx, mayWindow())
	require.NoError(t, err)
	assert.Equal(t, 2, len(events))
}

func TestChannels(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()

	topics, err := d.GetTopics(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{}, topics)

	require.NoError(t, d.SetTopics(ctx, 42, []string{"music", "food", "music"}))
	require.NoError(t, d.SetTopics(ctx, 7, []string{"kanto"}))

	topics, err = d.GetTopics(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"food", "music"}, topics)

	subs, err := d.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []event.Subscription{
		{ChannelId: 7, Topics: []string{"kanto"}},
		{ChannelId: 42, Topics: []string{"food", "music"}},
	}, subs)

	require.NoError(t, d.SetTopics(ctx, 42, nil))
	subs, err = d.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []event.Subscription{{ChannelId: 7, Topics: []string{"kanto"}}}, subs)
}

func TestChannels__Concurrent_Updates_Keep_Every_Topic(t *testing.T) {
	d := newTestDB(t)
	ctx := newContext()
	require.NoError(t, d.SetTopics(ctx, 99, nil))

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		topic := fmt.Sprintf("topic-%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.UpdateTopics(ctx, 99, func(current []string) []string {
				return event.UnionTopics(current, []string{topic})
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	topics, err := d.GetTopics(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, writers, len(topics))

	remaining, err := d.UpdateTopics(ctx, 99, func([]string) []string { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{}, remaining)
}
