package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"TechNotesScanner/internal/domain"
)

// Summaries are keyed by document id, which makes the one-per-document rule a key constraint.

// CreateSummary stores the summary of a document, failing with ErrAlreadyProcessed on a second one.
func (s *Store) CreateSummary(ctx context.Context, summary *domain.Summary) error {
	if summary.DocumentID == "" {
		return fmt.Errorf("summary document id is required")
	}
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}

	err := s.update(func(tx *badgerdb.Txn) error {
		return s.store.TxInsert(tx, summary.DocumentID, summary)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("document %s: %w", summary.DocumentID, domain.ErrAlreadyProcessed)
		}
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// GetSummaryByDocument loads the summary of documentID.
func (s *Store) GetSummaryByDocument(ctx context.Context, documentID string) (domain.Summary, error) {
	var summary domain.Summary
	if err := s.store.Get(documentID, &summary); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.Summary{}, fmt.Errorf("summary for %s: %w", documentID, domain.ErrNotFound)
		}
		return domain.Summary{}, fmt.Errorf("failed to get summary: %w", err)
	}
	return summary, nil
}

// HasSummary reports whether documentID already has a summary.
func (s *Store) HasSummary(ctx context.Context, documentID string) (bool, error) {
	_, err := s.GetSummaryByDocument(ctx, documentID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// CountSummaries counts stored summaries.
func (s *Store) CountSummaries(ctx context.Context) (int, error) {
	count, err := s.store.Count(&domain.Summary{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count summaries: %w", err)
	}
	return int(count), nil
}

// ModelUsage counts summaries per model identifier.
func (s *Store) ModelUsage(ctx context.Context) (map[string]int, error) {
	var summaries []domain.Summary
	if err := s.store.Find(&summaries, nil); err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	usage := map[string]int{}
	for _, summary := range summaries {
		usage[summary.ModelUsed]++
	}
	return usage, nil
}
