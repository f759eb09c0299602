package subscription

import (
	"context"

	"github.com/pkg/errors"

	"event-notifier-bot/event"
)

// ErrNoTopics is returned when a topic list is empty after trimming.
var ErrNoTopics = errors.New("no topics given")

type Store interface {
	GetTopics(ctx context.Context, channelId int64) ([]string, error)
	UpdateTopics(ctx context.Context, channelId int64, update func(current []string) []string) ([]string, error)
	ListSubscriptions(ctx context.Context) ([]event.Subscription, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Subscribe adds topics to the channel and returns the newly added ones and the full set.
func (s *Service) Subscribe(ctx context.Context, channelId int64, topics []string) ([]string, []string, error) {
	topics = event.NormalizeTopics(topics)
	if len(topics) == 0 {
		return nil, nil, ErrNoTopics
	}
	var added []string
	all, err := s.store.UpdateTopics(ctx, channelId, func(current []string) []string {
		added = event.SubtractTopics(topics, current)
		return event.UnionTopics(current, topics)
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot subscribe channel %v", channelId)
	}
	return event.NormalizeTopics(added), all, nil
}

// Unsubscribe removes topics from the channel and returns the remaining ones. A channel left
// without topics is removed.
func (s *Service) Unsubscribe(ctx context.Context, channelId int64, topics []string) ([]string, error) {
	topics = event.NormalizeTopics(topics)
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	remaining, err := s.store.UpdateTopics(ctx, channelId, func(current []string) []string {
		return event.SubtractTopics(current, topics)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot unsubscribe channel %v", channelId)
	}
	return remaining, nil
}

// UnsubscribeAll removes the channel with every topic.
func (s *Service) UnsubscribeAll(ctx context.Context, channelId int64) error {
	_, err := s.store.UpdateTopics(ctx, channelId, func([]string) []string {
		return nil
	})
	return errors.Wrapf(err, "cannot unsubscribe channel %v", channelId)
}

func (s *Service) Topics(ctx context.Context, channelId int64) ([]string, error) {
	return s.store.GetTopics(ctx, channelId)
}

func (s *Service) List(ctx context.Context) ([]event.Subscription, error) {
	return s.store.ListSubscriptions(ctx)
}
