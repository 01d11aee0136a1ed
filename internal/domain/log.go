package domain

import "time"

// LogOperation categorizes audit entries.
type LogOperation string

const (
	OpScraping   LogOperation = "scraping"
	OpDownload   LogOperation = "download"
	OpProcessing LogOperation = "processing"
	OpValidation LogOperation = "validation"
)

// LogLevel is the severity of an audit entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelDebug   LogLevel = "debug"
)

// ProcessingLogEntry is an append-only audit record. DocumentID may be empty.
type ProcessingLogEntry struct {
	ID         string            `json:"id" badgerhold:"key"`
	DocumentID string            `json:"document_id,omitempty"`
	Operation  LogOperation      `json:"operation"`
	Level      LogLevel          `json:"level"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Duration   time.Duration     `json:"duration"`
	CreatedAt  time.Time         `json:"created_at"`
}
