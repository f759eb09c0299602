package notify

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"
	"github.com/twmb/murmur3"
	"golang.org/x/time/rate"

	"event-notifier-bot/logger"
	"event-notifier-bot/metrics"
	"event-notifier-bot/platform"
	"event-notifier-bot/reconcile"
	"event-notifier-bot/render"
)

const (
	// seconds
	contentCacheExpiration = int((time.Hour * 24 * 7) / time.Second)
	resultOk               = "ok"
	resultFailed           = "failed"
	resultUnchanged        = "unchanged"
)

// Report is the outcome of one channel plan.
type Report struct {
	ChannelId int64
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
	Errors    []error
}

type Dispatcher struct {
	platform platform.Platform
	delay    time.Duration
	contents *freecache.Cache
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewDispatcher spaces platform calls of one channel by delay. cacheSize is the size in bytes of
// the cache of sent content hashes, zero disables it.
func NewDispatcher(p platform.Platform, delay time.Duration, cacheSize int, m *metrics.Metrics, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		platform: p,
		delay:    delay,
		metrics:  m,
		log:      log.WithComponent("dispatcher"),
		limiters: make(map[int64]*rate.Limiter),
	}
	if cacheSize > 0 {
		d.contents = freecache.NewCache(cacheSize)
	}
	return d
}

// Wait blocks until the next platform call for the channel is allowed.
func (d *Dispatcher) Wait(ctx context.Context, channelId int64) error {
	return d.limiter(channelId).Wait(ctx)
}

func (d *Dispatcher) limiter(channelId int64) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[channelId]
	if !ok {
		limit := rate.Inf
		if d.delay > 0 {
			limit = rate.Every(d.delay)
		}
		l = rate.NewLimiter(limit, 1)
		d.limiters[channelId] = l
	}
	return l
}

// Execute runs the actions of a plan in order. A failed action is recorded and the rest of the
// plan still runs; only a cancelled context stops it early.
func (d *Dispatcher) Execute(ctx context.Context, plan reconcile.Plan) Report {
	report := Report{ChannelId: plan.ChannelId}
	log := d.log.WithChannel(plan.ChannelId)
	for _, action := range plan.Actions {
		if action.Kind == reconcile.Skip {
			report.Skipped++
			d.count(action.Kind, resultOk)
			continue
		}
		if action.Kind == reconcile.Update && d.unchanged(plan.ChannelId, action.MessageId, action.Message) {
			report.Unchanged++
			d.count(action.Kind, resultUnchanged)
			continue
		}
		err := d.Wait(ctx, plan.ChannelId)
		if err != nil {
			report.Errors = append(report.Errors, err)
			log.Warn().Err(err).Msg("plan interrupted")
			return report
		}
		err = d.apply(ctx, plan.ChannelId, action)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
			d.count(action.Kind, resultFailed)
			log.Error().Err(err).
				Str("action", action.Kind.String()).
				Str("event", action.Event.Identity().String()).
				Msg("action failed")
			continue
		}
		switch action.Kind {
		case reconcile.Create:
			report.Created++
		case reconcile.Update:
			report.Updated++
		}
		d.count(action.Kind, resultOk)
	}
	log.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("plan executed")
	return report
}

func (d *Dispatcher) apply(ctx context.Context, channelId int64, action reconcile.Action) error {
	switch action.Kind {
	case reconcile.Create:
		messageId, err := d.platform.Send(ctx, channelId, action.Message)
		if err != nil {
			return err
		}
		d.remember(channelId, messageId, action.Message)
		return nil
	case reconcile.Update:
		err := d.platform.Edit(ctx, channelId, action.MessageId, action.Message)
		if err != nil {
			return err
		}
		d.remember(channelId, action.MessageId, action.Message)
		return nil
	default:
		return errors.Errorf("unexpected action %v", action.Kind)
	}
}

func (d *Dispatcher) count(kind reconcile.Kind, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.Actions.WithLabelValues(kind.String(), result).Inc()
}

func (d *Dispatcher) unchanged(channelId int64, messageId string, message render.Message) bool {
	if d.contents == nil {
		return false
	}
	last, err := d.contents.Get(contentKey(channelId, messageId))
	if err != nil {
		return false
	}
	current, ok := contentHash(message)
	return ok && binary.BigEndian.Uint64(last) == current
}

func (d *Dispatcher) remember(channelId int64, messageId string, message render.Message) {
	if d.contents == nil || len(messageId) == 0 {
		return
	}
	hash, ok := contentHash(message)
	if !ok {
		return
	}
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, hash)
	err := d.contents.Set(contentKey(channelId, messageId), value, contentCacheExpiration)
	if err != nil {
		d.log.Debug().Err(err).Msg("unable to cache content hash")
	}
}

func contentKey(channelId int64, messageId string) []byte {
	return []byte(fmt.Sprintf("%v:%v", channelId, messageId))
}

func contentHash(message render.Message) (uint64, bool) {
	data, err := json.Marshal(message)
	if err != nil {
		return 0, false
	}
	return murmur3.Sum64(data), true
}
