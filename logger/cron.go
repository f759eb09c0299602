package logger

import "github.com/rs/zerolog"

// CronLogger adapts Logger to robfig/cron's logger interface.
type CronLogger struct {
	log *Logger
}

func (l *Logger) Cron() CronLogger {
	return CronLogger{log: l}
}

func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	fields(c.log.Debug(), keysAndValues).Msg(msg)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields(c.log.Error().Err(err), keysAndValues).Msg(msg)
}

func fields(e *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}
