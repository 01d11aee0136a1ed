package logging

import (
	"strings"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/arbor/writers"
)

// New creates a console arbor logger with provided level string.
func New(level string) arbor.ILogger {
	return arbor.NewLogger().
		WithConsoleWriter(models.WriterConfiguration{
			Type:             models.LogWriterTypeConsole,
			TimeFormat:       "15:04:05",
			DisableTimestamp: false,
		}).
		WithLevelFromString(normalizeLevel(level))
}

// Discard returns a logger whose events go nowhere. It has private writers,
// so it never reaches the globally registered console writer.
func Discard() arbor.ILogger {
	return arbor.NewLogger().WithWriters([]writers.IWriter{discardWriter{}})
}

type discardWriter struct{}

func (w discardWriter) WithLevel(log.Level) writers.IWriter { return w }
func (discardWriter) Write(p []byte) (int, error)           { return len(p), nil }
func (discardWriter) GetFilePath() string                   { return "" }
func (discardWriter) Close() error                          { return nil }

func normalizeLevel(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace":
		return "trace"
	case "debug":
		return "debug"
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}
