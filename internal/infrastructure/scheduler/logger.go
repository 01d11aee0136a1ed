package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// cronLogger routes engine diagnostics to arbor.
type cronLogger struct {
	logger arbor.ILogger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Str("fields", formatKV(keysAndValues)).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("fields", formatKV(keysAndValues)).Msg("cron: " + msg)
}

func formatKV(keysAndValues []interface{}) string {
	out := ""
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return out
}
