// Package scheduler runs scrape and notify cycles on a daily schedule, one at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"event-notifier-bot/db"
	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/metrics"
	"event-notifier-bot/notify"
	"event-notifier-bot/platform"
	"event-notifier-bot/templates"
)

type State int32

const (
	Idle State = iota
	Scraping
	Notifying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scraping:
		return "scraping"
	case Notifying:
		return "notifying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	heartbeatFrames     = 9
	presenceTimeout     = time.Second * 10
	resultOk            = "ok"
	resultScrapeFailed  = "scrape_failed"
	resultStoreFailed   = "store_failed"
	resultNotifyFailed  = "notify_failed"
	statusIdle          = "idle"
	statusOnline        = "online"
	defaultHeartbeat    = time.Second * 30
	defaultWindowLength = time.Hour * 24 * 7
)

var ErrCycleRunning = errors.New("a cycle is already running")

type Scraper interface {
	Scrape(ctx context.Context) ([]event.Event, error)
}

type EventStore interface {
	UpsertEvents(ctx context.Context, events []event.Event) (int, error)
}

type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]event.Subscription, error)
}

type Notifier interface {
	NotifyAll(ctx context.Context, subs []event.Subscription, window notify.Window) ([]notify.Report, error)
}

type Presence interface {
	SetPresence(ctx context.Context, presence platform.Presence) error
}

// Locker keeps cycles of different instances apart.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

type Config struct {
	Times     []event.TimeOfDay
	Location  *time.Location
	Window    time.Duration
	Heartbeat time.Duration
}

// Cycle summarizes one run.
type Cycle struct {
	Id       string
	Scraped  int
	Upserted int
	Reports  []notify.Report
}

type Scheduler struct {
	config   Config
	scraper  Scraper
	store    EventStore
	subs     SubscriptionStore
	notifier Notifier
	presence Presence
	locker   Locker
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time

	state atomic.Int32
	beats atomic.Int64
	// presenceMu guards heartbeat and orders presence writes.
	presenceMu sync.Mutex
	heartbeat  bool
	cron      *cron.Cron
	running   sync.WaitGroup
}

// New creates a scheduler. presence, locker and m may be nil.
func New(
	config Config,
	scraper Scraper,
	store EventStore,
	subs SubscriptionStore,
	notifier Notifier,
	presence Presence,
	locker Locker,
	m *metrics.Metrics,
	log *logger.Logger,
) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Window <= 0 {
		config.Window = defaultWindowLength
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = defaultHeartbeat
	}
	s := &Scheduler{
		config:   config,
		scraper:  scraper,
		store:    store,
		subs:     subs,
		notifier: notifier,
		presence: presence,
		locker:   locker,
		metrics:  m,
		log:      log.WithComponent("scheduler"),
		now:      time.Now,
	}
	s.heartbeat = true
	return s
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// NextWake is the time of the next scheduled cycle.
func (s *Scheduler) NextWake() time.Time {
	return NextWake(s.now(), s.config.Times, s.config.Location)
}

// Start begins the daily timer and the heartbeat.
func (s *Scheduler) Start() error {
	cronLog := s.log.Cron()
	s.cron = cron.New(
		cron.WithLocation(s.config.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)
	s.cron.Schedule(DailySchedule{Times: s.config.Times, Location: s.config.Location}, cron.FuncJob(s.onTimer))
	s.cron.Schedule(cron.Every(s.config.Heartbeat), cron.FuncJob(func() {
		s.beat(context.Background())
	}))
	s.setPresence(context.Background(), listening())
	s.cron.Start()
	s.log.Info().Time("next_wake", s.NextWake()).Msg("scheduler started")
	return nil
}

// Stop halts the timer and waits for a running cycle to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) onTimer() {
	_, err := s.RunOnce(context.Background())
	if errors.Is(err, ErrCycleRunning) {
		s.log.Warn().Msg("scheduled cycle skipped, a cycle is already running")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled cycle failed")
	}
	s.log.Info().Time("next_wake", s.NextWake()).Msg("waiting for next cycle")
}

// Trigger starts a cycle in the background. It returns ErrCycleRunning right away when a cycle
// is already running here or in another instance.
func (s *Scheduler) Trigger(ctx context.Context) error {
	err := s.acquire(ctx)
	if err != nil {
		return err
	}
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		_, err := s.run(context.Background())
		if err != nil {
			s.log.Error().Err(err).Msg("triggered cycle failed")
		}
	}()
	return nil
}

// RunOnce runs a cycle and waits for it.
func (s *Scheduler) RunOnce(ctx context.Context) (Cycle, error) {
	err := s.acquire(ctx)
	if err != nil {
		return Cycle{}, err
	}
	s.running.Add(1)
	defer s.running.Done()
	return s.run(ctx)
}

func (s *Scheduler) acquire(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Scraping)) {
		return ErrCycleRunning
	}
	if s.locker == nil {
		return nil
	}
	err := s.locker.Lock(ctx)
	if err != nil {
		s.state.Store(int32(Idle))
		return errors.Wrap(ErrCycleRunning, err.Error())
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context) (Cycle, error) {
	cycle := Cycle{Id: uuid.NewString()}
	log := s.log.WithCycle(cycle.Id)
	started := time.Now()
	result := resultOk
	defer func() {
		if s.locker != nil {
			err := s.locker.Unlock(context.Background())
			if err != nil {
				log.Warn().Err(err).Msg("unable to release cycle lock")
			}
		}
		s.state.Store(int32(Idle))
		s.leaveCycle(context.Background())
		if s.metrics != nil {
			s.metrics.Cycles.WithLabelValues(result).Inc()
			s.metrics.CycleDuration.Observe(time.Since(started).Seconds())
		}
		log.Info().Str("result", result).Dur("took", time.Since(started)).Msg("cycle finished")
	}()

	s.enterCycle(ctx)
	log.Info().Msg("scraping events")
	events, err := s.scraper.Scrape(ctx)
	if err != nil {
		result = resultScrapeFailed
		return cycle, errors.Wrap(err, "scrape failed")
	}
	cycle.Scraped = len(events)

	upserted, err := s.store.UpsertEvents(ctx, events)
	switch {
	case errors.Is(err, db.ErrConstraintViolation):
		log.Error().Err(err).Msg("batch rejected, notifying from stored events")
	case err != nil:
		result = resultStoreFailed
		return cycle, errors.Wrap(err, "unable to store events")
	default:
		cycle.Upserted = upserted
		if s.metrics != nil {
			s.metrics.UpsertedEvents.Add(float64(upserted))
		}
	}

	s.state.Store(int32(Notifying))
	subs, err := s.subs.ListSubscriptions(ctx)
	if err != nil {
		result = resultStoreFailed
		return cycle, errors.Wrap(err, "unable to list subscriptions")
	}
	window := notify.NewWindow(s.now(), s.config.Location, s.config.Window)
	log.Info().Int("channels", len(subs)).Int("events", cycle.Scraped).Msg("notifying channels")
	cycle.Reports, err = s.notifier.NotifyAll(ctx, subs, window)
	if err != nil {
		result = resultNotifyFailed
		return cycle, errors.Wrap(err, "unable to notify channels")
	}
	return cycle, nil
}

// enterCycle suspends the heartbeat and shows the scraping presence once any tick in flight has
// finished writing.
func (s *Scheduler) enterCycle(ctx context.Context) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	s.heartbeat = false
	s.setPresence(ctx, platform.Presence{Status: statusOnline, Activity: templates.PresenceScraping, Kind: platform.Playing})
}

func (s *Scheduler) leaveCycle(ctx context.Context) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	s.setPresence(ctx, listening())
	s.heartbeat = true
}

// beat shows a counting presence while no cycle is running.
func (s *Scheduler) beat(ctx context.Context) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	if !s.heartbeat {
		return
	}
	i := int(s.beats.Add(1)-1)%heartbeatFrames + 1
	sleep := ""
	if i%2 == 1 {
		sleep = "💤"
	}
	s.setPresence(ctx, platform.Presence{
		Status:   statusIdle,
		Activity: fmt.Sprintf(templates.Heartbeat, i, sleep),
		Kind:     platform.Playing,
	})
}

func (s *Scheduler) setPresence(ctx context.Context, presence platform.Presence) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	err := s.presence.SetPresence(ctx, presence)
	if err != nil {
		s.log.Debug().Err(err).Msg("unable to set presence")
	}
}

func listening() platform.Presence {
	return platform.Presence{Status: statusIdle, Activity: templates.PresenceListening, Kind: platform.Listening}
}
