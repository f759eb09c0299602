// Package config loads the bot configuration from a YAML file, .env files and the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"event-notifier-bot/event"
	"event-notifier-bot/logger"
	"event-notifier-bot/scraper/calendar"
	"event-notifier-bot/scraper/rss"
	"event-notifier-bot/scraper/youtube"
)

const (
	envPrefix = "EVENTBOT"

	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

type Config struct {
	Platform  PlatformConfig  `mapstructure:"platform"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Bot       BotConfig       `mapstructure:"bot"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   logger.Config   `mapstructure:"logging"`
}

type PlatformConfig struct {
	Kind  string `mapstructure:"kind"` // discord or telegram
	Token string `mapstructure:"token"`
}

type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Name     string        `mapstructure:"name"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Debug    bool          `mapstructure:"debug"`
}

// DSN returns the URL when set, otherwise a postgres:// URL built from the discrete fields.
func (c DatabaseConfig) DSN() string {
	if len(c.URL) > 0 {
		return c.URL
	}
	dsn := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	if len(c.User) > 0 {
		dsn.User = url.UserPassword(c.User, c.Password)
	}
	if len(c.SSLMode) > 0 {
		dsn.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return dsn.String()
}

type RedisConfig struct {
	// Empty disables the cross-process cycle lock.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SchedulerConfig struct {
	TimeZone  string        `mapstructure:"timezone"`
	Times     []string      `mapstructure:"times"`
	Window    time.Duration `mapstructure:"window"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Workers   int           `mapstructure:"workers"`
}

func (c SchedulerConfig) Location() (*time.Location, error) {
	location, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown time zone %q", c.TimeZone)
	}
	return location, nil
}

func (c SchedulerConfig) PostTimes() ([]event.TimeOfDay, error) {
	times := make([]event.TimeOfDay, 0, len(c.Times))
	for _, value := range c.Times {
		t, err := event.ParseTimeOfDay(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

type DispatchConfig struct {
	MessageDelay time.Duration `mapstructure:"message_delay"`
	HistoryLimit int           `mapstructure:"history_limit"`
	CacheSize    int           `mapstructure:"cache_size"` // bytes
	JournalSize  int           `mapstructure:"journal_size"`
}

type BotConfig struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	IconURL string `mapstructure:"icon_url"`
}

type SourcesConfig struct {
	GoogleAPIKey string              `mapstructure:"google_api_key"`
	RSS          []rss.Feed          `mapstructure:"rss"`
	Calendars    []calendar.Calendar `mapstructure:"calendars"`
	YouTube      youtube.Config      `mapstructure:"youtube"`
}

func (c SourcesConfig) Empty() bool {
	return len(c.RSS) == 0 && len(c.Calendars) == 0 && len(c.YouTube.Channels) == 0
}

type AdminConfig struct {
	Listen string  `mapstructure:"listen"`
	Users  []int64 `mapstructure:"users"` // empty allows everyone
}

// Load reads configuration from path, or from config.yaml in the usual places when path is empty.
func Load(path string) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".event-notifier-bot"))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "error reading config file")
		}
	}

	var config Config
	err = v.Unmarshal(&config)
	if err != nil {
		return nil, errors.Wrap(err, "error unmarshalling config")
	}
	if len(config.Sources.YouTube.APIKey) == 0 {
		config.Sources.YouTube.APIKey = config.Sources.GoogleAPIKey
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform.kind", PlatformDiscord)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timeout", "1m")
	v.SetDefault("database.debug", false)

	v.SetDefault("scheduler.timezone", "Asia/Tokyo")
	v.SetDefault("scheduler.times", []string{"10:00", "20:00"})
	v.SetDefault("scheduler.window", "168h")
	v.SetDefault("scheduler.heartbeat", "30s")
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("dispatch.message_delay", "2s")
	v.SetDefault("dispatch.history_limit", 200)
	v.SetDefault("dispatch.cache_size", 8*1024*1024)
	v.SetDefault("dispatch.journal_size", 500)

	v.SetDefault("bot.name", "Matsubo")
	v.SetDefault("bot.url", "https://github.com/makokaz/matsubo")
	v.SetDefault("bot.icon_url", "https://discord.com/assets/f9bb9c4af2b9c32a2c5ee0014661546d.png")

	v.SetDefault("sources.youtube.name", "youtube")

	v.SetDefault("admin.listen", ":42069")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// bindEnv binds keys without defaults, plus the unprefixed names older deployments set.
func bindEnv(v *viper.Viper) {
	bind := func(key string, plain ...string) {
		names := append([]string{envName(key)}, plain...)
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	bind("platform.token", "BOT_TOKEN")
	bind("database.url", "DATABASE_URL")
	bind("database.host", "DB_HOST")
	bind("database.port", "DB_PORT")
	bind("database.user", "DB_USER")
	bind("database.password", "DB_PW")
	bind("database.name", "DB_NAME")
	bind("bot.name", "BOT_NAME")
	bind("bot.url", "BOT_URL")
	bind("bot.icon_url", "BOT_ICON_URL")
	bind("redis.addr")
	bind("redis.password")
	bind("sources.google_api_key")
	bind("sources.youtube.api_key")
	bind("admin.users")
}

func envName(key string) string {
	return fmt.Sprintf("%v_%v", envPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
}

func (c *Config) Validate() error {
	switch c.Platform.Kind {
	case PlatformDiscord, PlatformTelegram:
	default:
		return errors.Errorf("unknown platform %q", c.Platform.Kind)
	}
	if len(c.Platform.Token) == 0 {
		return errors.New("platform token is required")
	}
	if c.Platform.Kind == PlatformTelegram && len(c.Redis.Addr) == 0 {
		return errors.New("redis address is required for the telegram message journal")
	}
	if len(c.Database.URL) == 0 && len(c.Database.Name) == 0 {
		return errors.New("database url or name is required")
	}
	_, err := c.Scheduler.Location()
	if err != nil {
		return err
	}
	times, err := c.Scheduler.PostTimes()
	if err != nil {
		return err
	}
	if len(times) == 0 {
		return errors.New("at least one scheduler time is required")
	}
	if c.Scheduler.Workers < 1 {
		return errors.New("scheduler workers must be positive")
	}
	if c.Scheduler.Window <= 0 {
		return errors.New("scheduler window must be positive")
	}
	if c.Dispatch.MessageDelay < 0 {
		return errors.New("message delay must not be negative")
	}
	return nil
}
