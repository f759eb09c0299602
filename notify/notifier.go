package notify

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"event-notifier-bot/db"
	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/platform"
	"event-notifier-bot/reconcile"
	"event-notifier-bot/render"
)

type EventStore interface {
	QueryEvents(ctx context.Context, query event.Query) ([]event.Event, error)
}

// Window is the date range of events kept in sync, both ends inclusive.
type Window struct {
	From  time.Time
	Until time.Time
}

// NewWindow starts on the calendar day of now in loc and spans length.
func NewWindow(now time.Time, loc *time.Location, length time.Duration) Window {
	from := event.Date(now.In(loc))
	return Window{From: from, Until: event.Date(from.Add(length))}
}

type Notifier struct {
	store        EventStore
	platform     platform.Platform
	planner      *reconcile.Planner
	dispatcher   *Dispatcher
	historyLimit int
	workers      int
	log          *logger.Logger
}

func NewNotifier(
	store EventStore,
	p platform.Platform,
	planner *reconcile.Planner,
	dispatcher *Dispatcher,
	historyLimit int,
	workers int,
	log *logger.Logger,
) *Notifier {
	if workers < 1 {
		workers = 1
	}
	return &Notifier{
		store:        store,
		platform:     p,
		planner:      planner,
		dispatcher:   dispatcher,
		historyLimit: historyLimit,
		workers:      workers,
		log:          log.WithComponent("notifier"),
	}
}

// NotifyChannel brings one channel in line with the events of its topics inside the window.
func (n *Notifier) NotifyChannel(ctx context.Context, sub event.Subscription, window Window) (Report, error) {
	events, err := n.store.QueryEvents(ctx, event.Query{
		Topics: sub.Topics,
		From:   window.From,
		Until:  window.Until,
	})
	if err != nil {
		return Report{ChannelId: sub.ChannelId}, errors.Wrapf(err, "unable to query events for channel %v", sub.ChannelId)
	}
	refs, err := n.postedRefs(ctx, sub.ChannelId)
	if err != nil {
		return Report{ChannelId: sub.ChannelId}, errors.Wrapf(err, "unable to read history of channel %v", sub.ChannelId)
	}
	plan := n.planner.Plan(sub.ChannelId, events, refs)
	return n.dispatcher.Execute(ctx, plan), nil
}

func (n *Notifier) postedRefs(ctx context.Context, channelId int64) ([]reconcile.PostedRef, error) {
	err := n.dispatcher.Wait(ctx, channelId)
	if err != nil {
		return nil, err
	}
	history, err := n.platform.History(ctx, channelId, n.historyLimit)
	if err != nil {
		return nil, err
	}
	var refs []reconcile.PostedRef
	for _, entry := range history {
		if !entry.AuthorIsSelf {
			continue
		}
		id, ok := render.ParseMarker(entry.Content)
		if !ok {
			continue
		}
		refs = append(refs, reconcile.PostedRef{Identity: id, MessageId: entry.MessageId})
	}
	return refs, nil
}

// NotifyAll runs NotifyChannel for every subscription on a bounded pool. A failed channel does not
// affect the others, except when the store is unavailable: then the remaining channels are
// cancelled and the error is returned.
func (n *Notifier) NotifyAll(ctx context.Context, subs []event.Subscription, window Window) ([]Report, error) {
	reports := make([]Report, len(subs))
	var mu sync.Mutex
	p := pool.New().
		WithMaxGoroutines(n.workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i, sub := range subs {
		i, sub := i, sub
		p.Go(func(ctx context.Context) error {
			report, err := n.NotifyChannel(ctx, sub, window)
			mu.Lock()
			reports[i] = report
			mu.Unlock()
			if err == nil {
				return nil
			}
			if errors.Is(err, db.ErrUnavailable) {
				return err
			}
			n.log.WithChannel(sub.ChannelId).Error().Err(err).Msg("channel skipped")
			return nil
		})
	}
	err := p.Wait()
	return reports, err
}
