package mutex

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis"
	"github.com/pkg/errors"
)

const (
	cycleLockExpiration = time.Hour
	cycleKey            = "cycle"
)

// ErrLocked means another instance holds the lock.
var ErrLocked = errors.New("lock is held by another instance")

type Builder struct {
	rs *redsync.Redsync
}

func NewBuilder(client *redis.Client) *Builder {
	pool := goredis.NewPool(client)
	rs := redsync.New(pool)
	return &Builder{rs: rs}
}

// Cycle is the lock held by the instance running a scrape and notify cycle.
func (b *Builder) Cycle() *Lock {
	mutex := b.rs.NewMutex(cycleKey, redsync.WithExpiry(cycleLockExpiration), redsync.WithTries(1))
	return &Lock{mutex: mutex}
}

type Lock struct {
	mutex *redsync.Mutex
}

func (l *Lock) Lock(ctx context.Context) error {
	err := l.mutex.LockContext(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "unable to take cycle lock")
	}
	return errors.Wrap(ErrLocked, err.Error())
}

func (l *Lock) Unlock(ctx context.Context) error {
	_, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to release cycle lock")
	}
	return nil
}
