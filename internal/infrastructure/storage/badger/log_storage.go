package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"TechNotesScanner/internal/domain"
)

// AppendLog inserts an audit entry.
func (s *Store) AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.store.Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// ListLogs returns the newest entries first. An empty documentID lists all entries.
func (s *Store) ListLogs(ctx context.Context, documentID string, limit int) ([]domain.ProcessingLogEntry, error) {
	var query *badgerhold.Query
	if documentID != "" {
		query = badgerhold.Where("DocumentID").Eq(documentID)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []domain.ProcessingLogEntry
	if err := s.store.Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	return entries, nil
}
