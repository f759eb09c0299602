package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

const (
	journalKeyPattern = "chat:%v:messages"
	journalExpiration = time.Hour * 24 * 30
)

// Entry is a message the bot sent to a chat.
type Entry struct {
	MessageId string `json:"message_id"`
	Content   string `json:"content"`
}

// Journal remembers sent messages, because the Bot API cannot read chat history.
type Journal interface {
	Append(ctx context.Context, chatId int64, entry Entry) error
	Recent(ctx context.Context, chatId int64, limit int) ([]Entry, error)
}

type RedisJournal struct {
	client *redis.Client
	size   int64
}

// NewRedisJournal keeps at most size entries per chat.
func NewRedisJournal(client *redis.Client, size int) *RedisJournal {
	return &RedisJournal{client: client, size: int64(size)}
}

func (j *RedisJournal) Append(ctx context.Context, chatId int64, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "unable to encode journal entry")
	}
	key := fmt.Sprintf(journalKeyPattern, chatId)
	_, err = j.client.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.LPush(key, value)
		pipe.LTrim(key, 0, j.size-1)
		pipe.Expire(key, journalExpiration)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "unable to append journal entry for chat %v", chatId)
	}
	return nil
}

// Recent returns entries newest first.
func (j *RedisJournal) Recent(ctx context.Context, chatId int64, limit int) ([]Entry, error) {
	key := fmt.Sprintf(journalKeyPattern, chatId)
	values, err := j.client.WithContext(ctx).LRange(key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read journal for chat %v", chatId)
	}
	entries := make([]Entry, 0, len(values))
	for _, value := range values {
		var entry Entry
		err := json.Unmarshal([]byte(value), &entry)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
