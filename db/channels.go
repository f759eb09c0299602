package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"event-notifier-bot/event"
)

// SetTopics replaces the topic set of a channel. An empty set removes the channel.
func (d *DB) SetTopics(ctx context.Context, channelId int64, topics []string) error {
	_, err := d.UpdateTopics(ctx, channelId, func([]string) []string {
		return topics
	})
	return err
}

// UpdateTopics replaces the topics of a channel with update(current) and returns the new set.
// Concurrent updates of one channel are serialized by a transaction scoped advisory lock, which
// also covers channels that have no row yet. An empty result removes the channel.
func (d *DB) UpdateTopics(ctx context.Context, channelId int64, update func(current []string) []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	var next []string
	err := d.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", channelId)
		if err != nil {
			return err
		}
		c := Channel{ChannelId: channelId}
		err = tx.NewSelect().Model(&c).WherePK().Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		exists := err == nil
		next = event.NormalizeTopics(update(event.NormalizeTopics(c.Topics)))
		switch {
		case len(next) == 0 && !exists:
			return nil
		case len(next) == 0:
			_, err = tx.NewDelete().
				Model((*Channel)(nil)).
				Where("channel_id = ?", channelId).
				Exec(ctx)
			return err
		}
		c.Topics = next
		_, err = tx.NewInsert().
			Model(&c).
			On("CONFLICT (channel_id) DO UPDATE").
			Set("topics = EXCLUDED.topics").
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, storeError("update channel", err)
	}
	return next, nil
}

// GetTopics returns the topics of a channel, empty if the channel is not subscribed.
func (d *DB) GetTopics(ctx context.Context, channelId int64) ([]string, error) {
	c, err := d.GetChannel(ctx, channelId)
	if err != nil && errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return event.NormalizeTopics(c.Topics), nil
}

func (d *DB) GetChannel(ctx context.Context, channelId int64) (Channel, error) {
	c := Channel{ChannelId: channelId}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := d.db.NewSelect().Model(&c).WherePK().Scan(ctx)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, storeError("get channel", err)
	}
	return c, nil
}

// ListSubscriptions is a snapshot of every subscribed channel.
func (d *DB) ListSubscriptions(ctx context.Context) ([]event.Subscription, error) {
	var channels []Channel
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := d.db.NewSelect().
		Model(&channels).
		OrderExpr("c.channel_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storeError("list channels", err)
	}
	subs := make([]event.Subscription, 0, len(channels))
	for _, c := range channels {
		subs = append(subs, event.Subscription{
			ChannelId: c.ChannelId,
			Topics:    event.NormalizeTopics(c.Topics),
		})
	}
	return subs, nil
}
