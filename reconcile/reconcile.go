// Package reconcile decides, for one channel, which events to post, which posted messages to
// edit and which events to leave alone. It does no I/O.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"

	"event-notifier-bot/event"
	"event-notifier-bot/render"
)

type Kind int

const (
	Skip Kind = iota
	Create
	Update
)

func (k Kind) String() string {
	switch k {
	case Skip:
		return "skip"
	case Create:
		return "create"
	case Update:
		return "update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PostedRef is an event message found in channel history.
type PostedRef struct {
	Identity  event.Identity
	MessageId string
}

type Action struct {
	Kind      Kind
	Event     event.Event
	MessageId string
	Message   render.Message
}

type Plan struct {
	ChannelId int64
	Actions   []Action
}

// Count returns the number of actions of the given kind.
func (p Plan) Count(kind Kind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type Planner struct {
	render func(event.Event) render.Message
}

func NewPlanner(render func(event.Event) render.Message) *Planner {
	return &Planner{render: render}
}

// Plan yields exactly one action per distinct event identity, sorted by identity, so the result
// does not depend on the order of events or refs.
func (p *Planner) Plan(channelId int64, events []event.Event, refs []PostedRef) Plan {
	posted := oldestRefs(refs)
	candidates := distinctEvents(events)

	actions := make([]Action, 0, len(candidates))
	for _, e := range candidates {
		ref, ok := posted[e.Identity()]
		switch {
		case ok:
			actions = append(actions, Action{
				Kind:      Update,
				Event:     e,
				MessageId: ref.MessageId,
				Message:   p.render(e),
			})
		case e.IsCancelled():
			actions = append(actions, Action{Kind: Skip, Event: e})
		default:
			actions = append(actions, Action{
				Kind:    Create,
				Event:   e,
				Message: p.render(e),
			})
		}
	}
	return Plan{ChannelId: channelId, Actions: actions}
}

// oldestRefs keeps one message per identity. When an event was posted more than once the oldest
// message is the one kept up to date.
func oldestRefs(refs []PostedRef) map[event.Identity]PostedRef {
	posted := make(map[event.Identity]PostedRef, len(refs))
	for _, ref := range refs {
		id := event.Identity{Id: ref.Identity.Id, StartDate: event.Date(ref.Identity.StartDate)}
		ref.Identity = id
		current, ok := posted[id]
		if !ok || messageIdLess(ref.MessageId, current.MessageId) {
			posted[id] = ref
		}
	}
	return posted
}

// messageIdLess compares numeric ids (snowflakes, Telegram ids) numerically and falls back to
// plain string order.
func messageIdLess(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func distinctEvents(events []event.Event) []event.Event {
	byId := make(map[event.Identity]event.Event, len(events))
	for _, e := range events {
		id := e.Identity()
		current, ok := byId[id]
		if !ok || fingerprint(current) < fingerprint(e) {
			byId[id] = e
		}
	}
	result := make([]event.Event, 0, len(byId))
	for _, e := range byId {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Identity().Less(result[j].Identity())
	})
	return result
}

// fingerprint totally orders events sharing an identity. Every field takes part, so equal
// fingerprints mean indistinguishable events.
func fingerprint(e event.Event) string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("%+v", e)
	}
	return string(b)
}
