package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the fields used across the bot
type Logger struct {
	zerolog.Logger
}

type Config struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

func New(cfg Config) *Logger {
	var output io.Writer = os.Stdout
	if cfg.Output != "" && cfg.Output != "stdout" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			output = file
		}
	}
	return NewWithWriter(cfg, output)
}

func NewWithWriter(cfg Config, output io.Writer) *Logger {
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || len(cfg.Level) == 0 {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &Logger{Logger: logger}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With().Str("component", component).Logger(),
	}
}

func (l *Logger) WithCycle(id string) *Logger {
	return &Logger{
		Logger: l.With().Str("cycle_id", id).Logger(),
	}
}

func (l *Logger) WithChannel(id int64) *Logger {
	return &Logger{
		Logger: l.With().Int64("channel_id", id).Logger(),
	}
}

func (l *Logger) WithSource(name string) *Logger {
	return &Logger{
		Logger: l.With().Str("source", name).Logger(),
	}
}
