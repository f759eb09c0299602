package reconcile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-notifier-bot/event"
	"event-notifier-bot/render"
)

func newEvent(id string, day int, status string) event.Event {
	return event.Event{
		Id:        id,
		StartDate: event.NewDate(2024, 5, day),
		Name:      event.StringPtr("name " + id),
		Status:    status,
		Topic:     "music",
	}
}

func newRef(id string, day int, messageId string) PostedRef {
	return PostedRef{
		Identity:  event.Identity{Id: id, StartDate: event.NewDate(2024, 5, day)},
		MessageId: messageId,
	}
}

func newPlanner() *Planner {
	return NewPlanner(func(e event.Event) render.Message {
		return render.Message{Content: e.Identity().String() + " " + e.Status}
	})
}

func TestPlan__Create_For_New_Event(t *testing.T) {
	plan := newPlanner().Plan(42, []event.Event{newEvent("e1", 1, "scheduled")}, nil)

	require.Equal(t, 1, len(plan.Actions))
	assert.Equal(t, int64(42), plan.ChannelId)
	assert.Equal(t, Create, plan.Actions[0].Kind)
	assert.Equal(t, "e1", plan.Actions[0].Event.Id)
	assert.Equal(t, "e1@2024-05-01 scheduled", plan.Actions[0].Message.Content)
	assert.Equal(t, "", plan.Actions[0].MessageId)
}

func TestPlan__Cancelled_Without_History_Is_Skipped(t *testing.T) {
	plan := newPlanner().Plan(42, []event.Event{newEvent("e1", 1, "cancelled")}, nil)

	require.Equal(t, 1, len(plan.Actions))
	assert.Equal(t, Skip, plan.Actions[0].Kind)
	assert.Equal(t, 0, plan.Count(Create))
}

func TestPlan__Cancelled_With_History_Is_Updated(t *testing.T) {
	plan := newPlanner().Plan(42,
		[]event.Event{newEvent("e1", 1, "cancelled")},
		[]PostedRef{newRef("e1", 1, "1001")},
	)

	require.Equal(t, 1, len(plan.Actions))
	assert.Equal(t, Update, plan.Actions[0].Kind)
	assert.Equal(t, "1001", plan.Actions[0].MessageId)
	assert.Equal(t, "e1@2024-05-01 cancelled", plan.Actions[0].Message.Content)
	assert.Equal(t, 0, plan.Count(Create))
}

func TestPlan__Matching_Uses_Start_Date(t *testing.T) {
	plan := newPlanner().Plan(42,
		[]event.Event{newEvent("e1", 8, "scheduled")},
		[]PostedRef{newRef("e1", 1, "1001")},
	)

	require.Equal(t, 1, len(plan.Actions))
	assert.Equal(t, Create, plan.Actions[0].Kind)
}

func TestPlan__Refs_Without_Event_Are_Ignored(t *testing.T) {
	plan := newPlanner().Plan(42, nil, []PostedRef{newRef("old", 1, "1001")})
	assert.Equal(t, 0, len(plan.Actions))
}

func TestPlan__Duplicate_Refs_Keep_Oldest_Message(t *testing.T) {
	plan := newPlanner().Plan(42,
		[]event.Event{newEvent("e1", 1, "scheduled")},
		[]PostedRef{
			newRef("e1", 1, "1000000000000000002"),
			newRef("e1", 1, "999999999999999999"),
			newRef("e1", 1, "1000000000000000001"),
		},
	)

	require.Equal(t, 1, len(plan.Actions))
	assert.Equal(t, "999999999999999999", plan.Actions[0].MessageId)
}

func TestPlan__Duplicate_Events_Yield_One_Action(t *testing.T) {
	plan := newPlanner().Plan(42, []event.Event{
		newEvent("e1", 1, "scheduled"),
		newEvent("e1", 1, "scheduled"),
	}, nil)

	assert.Equal(t, 1, len(plan.Actions))
}

func TestPlan__Duplicates_Differing_In_Description(t *testing.T) {
	planner := NewPlanner(func(e event.Event) render.Message {
		return render.Message{Content: *e.Description}
	})
	older := newEvent("e1", 1, "scheduled")
	older.Description = event.StringPtr("old")
	newer := newEvent("e1", 1, "scheduled")
	newer.Description = event.StringPtr("new")

	forward := planner.Plan(42, []event.Event{older, newer}, nil)
	backward := planner.Plan(42, []event.Event{newer, older}, nil)

	require.Equal(t, 1, len(forward.Actions))
	assert.Equal(t, forward, backward)
}

func TestPlan__Duplicates_Differing_In_Start_Time(t *testing.T) {
	early := newEvent("e1", 1, "scheduled")
	early.StartTime = &event.TimeOfDay{Hour: 9}
	late := newEvent("e1", 1, "scheduled")
	late.StartTime = &event.TimeOfDay{Hour: 18}

	forward := newPlanner().Plan(42, []event.Event{early, late}, nil)
	backward := newPlanner().Plan(42, []event.Event{late, early}, nil)

	require.Equal(t, 1, len(forward.Actions))
	assert.Equal(t, forward.Actions[0].Event.StartTime, backward.Actions[0].Event.StartTime)
}

func TestPlan__Invariant_Under_Reordering(t *testing.T) {
	events := []event.Event{
		newEvent("e1", 1, "scheduled"),
		newEvent("e2", 1, "cancelled"),
		newEvent("e3", 2, "cancelled"),
		newEvent("e4", 3, "scheduled"),
		newEvent("e1", 4, "scheduled"),
		newEvent("e5", 1, "scheduled"),
		newEvent("e5", 1, "postponed"),
	}
	refs := []PostedRef{
		newRef("e3", 2, "300"),
		newRef("e4", 3, "400"),
		newRef("e4", 3, "401"),
		newRef("e9", 9, "900"),
	}

	planner := newPlanner()
	expected := planner.Plan(42, events, refs)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffledEvents := append([]event.Event{}, events...)
		shuffledRefs := append([]PostedRef{}, refs...)
		r.Shuffle(len(shuffledEvents), func(i, j int) {
			shuffledEvents[i], shuffledEvents[j] = shuffledEvents[j], shuffledEvents[i]
		})
		r.Shuffle(len(shuffledRefs), func(i, j int) {
			shuffledRefs[i], shuffledRefs[j] = shuffledRefs[j], shuffledRefs[i]
		})

		assert.Equal(t, expected, planner.Plan(42, shuffledEvents, shuffledRefs))
	}

	assert.Equal(t, 6, len(expected.Actions))
	assert.Equal(t, 3, expected.Count(Create))
	assert.Equal(t, 2, expected.Count(Update))
	assert.Equal(t, 1, expected.Count(Skip))
}

func TestKind__String(t *testing.T) {
	assert.Equal(t, "skip", Skip.String())
	assert.Equal(t, "create", Create.String())
	assert.Equal(t, "update", Update.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
