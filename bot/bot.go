// Package bot wires the stores, sources, chat platform and scheduler together.
package bot

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"

	"event-notifier-bot/admin"
	"event-notifier-bot/config"
	"event-notifier-bot/db"
	"event-notifier-bot/logger"
	"event-notifier-bot/metrics"
	"event-notifier-bot/mutex"
	"event-notifier-bot/notify"
	"event-notifier-bot/platform"
	"event-notifier-bot/platform/discord"
	"event-notifier-bot/platform/telegram"
	"event-notifier-bot/reconcile"
	"event-notifier-bot/render"
	"event-notifier-bot/scheduler"
	"event-notifier-bot/scraper"
	"event-notifier-bot/scraper/calendar"
	"event-notifier-bot/scraper/rss"
	"event-notifier-bot/scraper/youtube"
	"event-notifier-bot/subscription"
	"event-notifier-bot/timezone"
)

const (
	// Prefix of chat commands on Discord
	DiscordPrefix   = "."
	pollTimeout     = time.Second * 10
	shutdownTimeout = time.Second * 30
	pingTimeout     = time.Second * 5
)

type App struct {
	config    *config.Config
	log       *logger.Logger
	db        *db.DB
	redis     *redis.Client
	platform  platform.Platform
	discord   *discord.Discord
	telegram  *tele.Bot
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	subs      *subscription.Service
	commands  *Service
	admin     *admin.Server
}

// New connects to the database, redis and the chat platform and builds every component.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	location, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	times, err := cfg.Scheduler.PostTimes()
	if err != nil {
		return nil, err
	}

	app := &App{config: cfg, log: log, metrics: metrics.New()}
	app.db = db.New(cfg.Database.DSN())
	if cfg.Database.Timeout > 0 {
		app.db.SetTimeout(cfg.Database.Timeout)
	}
	if cfg.Database.Debug {
		app.db.EnableDebug()
	}

	var locker scheduler.Locker
	if len(cfg.Redis.Addr) > 0 {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		err := app.redis.Ping().Err()
		if err != nil {
			app.Close()
			return nil, errors.Wrapf(err, "unable to reach redis at %v", cfg.Redis.Addr)
		}
		locker = mutex.NewBuilder(app.redis).Cycle()
	}

	err = app.openPlatform()
	if err != nil {
		app.Close()
		return nil, err
	}

	sources, err := app.sources(ctx, location)
	if err != nil {
		app.Close()
		return nil, err
	}
	if len(sources) == 0 {
		log.Warn().Msg("no event sources configured, every cycle will fail to scrape")
	}
	manager := scraper.NewManager(app.metrics, log, sources...)

	renderer := render.NewRenderer(render.Author{
		Name:    cfg.Bot.Name,
		URL:     cfg.Bot.URL,
		IconURL: cfg.Bot.IconURL,
	}, nil)
	planner := reconcile.NewPlanner(renderer.Render)
	dispatcher := notify.NewDispatcher(app.platform, cfg.Dispatch.MessageDelay, cfg.Dispatch.CacheSize, app.metrics, log)
	notifier := notify.NewNotifier(app.db, app.platform, planner, dispatcher, cfg.Dispatch.HistoryLimit, cfg.Scheduler.Workers, log)

	app.scheduler = scheduler.New(
		scheduler.Config{
			Times:     times,
			Location:  location,
			Window:    cfg.Scheduler.Window,
			Heartbeat: cfg.Scheduler.Heartbeat,
		},
		manager, app.db, app.db, notifier, app.platform, locker, app.metrics, log,
	)
	app.subs = subscription.NewService(app.db)
	app.commands = NewService(app.subs, app.scheduler, cfg.Admin.Users, log)
	app.admin = admin.New(cfg.Admin.Listen, app.scheduler, app.subs, app.db, app.metrics.Handler(), log)
	return app, nil
}

func (a *App) openPlatform() error {
	switch a.config.Platform.Kind {
	case config.PlatformDiscord:
		d, err := discord.Open(a.config.Platform.Token)
		if err != nil {
			return err
		}
		a.discord = d
		a.platform = d
	case config.PlatformTelegram:
		if a.redis == nil {
			return errors.New("telegram needs redis for its message journal")
		}
		b, err := tele.NewBot(tele.Settings{
			Token:  a.config.Platform.Token,
			Poller: &tele.LongPoller{Timeout: pollTimeout},
		})
		if err != nil {
			return errors.Wrap(err, "error during creation of a new bot")
		}
		a.telegram = b
		a.platform = telegram.New(b, telegram.NewRedisJournal(a.redis, a.config.Dispatch.JournalSize))
	default:
		return errors.Errorf("unknown platform %q", a.config.Platform.Kind)
	}
	return nil
}

func (a *App) sources(ctx context.Context, location *time.Location) ([]scraper.Source, error) {
	zones := timezone.NewCache()
	var sources []scraper.Source
	for _, feed := range a.config.Sources.RSS {
		feedLocation := location
		if len(feed.TimeZone) > 0 {
			feedLocation = zones.GetOr(feed.TimeZone, location)
		}
		sources = append(sources, rss.New(feed, feedLocation, a.log))
	}
	for _, c := range a.config.Sources.Calendars {
		source, err := calendar.New(ctx, c, a.config.Sources.GoogleAPIKey, a.config.Scheduler.Window, zones, a.log)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	if len(a.config.Sources.YouTube.Channels) > 0 {
		source, err := youtube.New(ctx, a.config.Sources.YouTube, location, a.log)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// Close releases connections. It is safe on a partially built App.
func (a *App) Close() {
	if a.discord != nil {
		err := a.discord.Close()
		if err != nil {
			a.log.Warn().Err(err).Msg("unable to close discord session")
		}
	}
	if a.redis != nil {
		err := a.redis.Close()
		if err != nil {
			a.log.Warn().Err(err).Msg("unable to close redis client")
		}
	}
	if a.db != nil {
		err := a.db.Close()
		if err != nil {
			a.log.Warn().Err(err).Msg("unable to close database")
		}
	}
}

// RunOnce runs a single cycle without the timer or any command handling.
func RunOnce(ctx context.Context, cfg *config.Config, log *logger.Logger) (scheduler.Cycle, error) {
	app, err := New(ctx, cfg, log)
	if err != nil {
		return scheduler.Cycle{}, err
	}
	defer app.Close()
	err = app.ping(ctx)
	if err != nil {
		return scheduler.Cycle{}, err
	}
	return app.scheduler.RunOnce(ctx)
}

func (a *App) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return errors.Wrap(a.db.Ping(ctx), "database is not reachable")
}

// Start runs the bot until ctx is cancelled, then shuts down and signals confirm.
func Start(ctx context.Context, cfg *config.Config, log *logger.Logger, confirm chan<- struct{}) error {
	app, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	err = app.ping(ctx)
	if err != nil {
		app.Close()
		return err
	}

	switch {
	case app.discord != nil:
		app.discord.HandleCommands(DiscordPrefix, app.commands.Handle)
	case app.telegram != nil:
		handleTelegram(app.telegram, app.commands, log)
	}

	err = app.scheduler.Start()
	if err != nil {
		app.Close()
		return err
	}
	go func() {
		err := app.admin.ListenAndServe()
		if err != nil {
			log.Error().Err(err).Str("listen", cfg.Admin.Listen).Msg("admin server stopped")
		}
	}()
	log.Info().
		Str("platform", cfg.Platform.Kind).
		Str("admin", cfg.Admin.Listen).
		Time("next_wake", app.scheduler.NextWake()).
		Msg("bot started")

	if app.telegram != nil {
		go func() {
			<-ctx.Done()
			app.telegram.Stop()
		}()
		// Blocks until stop
		app.telegram.Start()
	} else {
		<-ctx.Done()
	}

	app.shutdown()
	confirm <- struct{}{}
	return nil
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.admin.Shutdown(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("unable to stop admin server")
	}
	err = a.scheduler.Stop(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("running cycle did not finish in time")
	}
	a.Close()
	a.log.Info().Msg("bot stopped")
}
