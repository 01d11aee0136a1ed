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

// hashClaim reserves a content hash for exactly one document.
type hashClaim struct {
	Hash       string `badgerhold:"key"`
	DocumentID string
}

// CreateDocument writes the document and its hash claim in one transaction.
func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ContentHash == "" {
		return fmt.Errorf("document content hash is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	err := s.update(func(tx *badgerdb.Txn) error {
		claim := &hashClaim{Hash: doc.ContentHash, DocumentID: doc.ID}
		if err := s.store.TxInsert(tx, doc.ContentHash, claim); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return domain.ErrDuplicate
			}
			return err
		}
		return s.store.TxInsert(tx, doc.ID, doc)
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("hash %s: %w", doc.ContentHash, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	if err := s.store.Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ExistsByURL reports whether sourceID already has a document for url.
func (s *Store) ExistsByURL(ctx context.Context, sourceID, url string) (bool, error) {
	count, err := s.store.Count(&domain.Document{}, badgerhold.Where("SourceID").Eq(sourceID).And("URL").Eq(url))
	if err != nil {
		return false, fmt.Errorf("failed to count documents by url: %w", err)
	}
	return count > 0, nil
}

// ExistsByHash reports whether a document with the content hash was stored.
func (s *Store) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var claim hashClaim
	if err := s.store.Get(hash, &claim); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get hash claim: %w", err)
	}
	return true, nil
}

// UpdateStatus moves a document to status and stamps UpdatedAt.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	err := s.update(func(tx *badgerdb.Txn) error {
		var doc domain.Document
		if err := s.store.TxGet(tx, id, &doc); err != nil {
			return err
		}
		doc.Status = status
		doc.UpdatedAt = time.Now()
		return s.store.TxUpdate(tx, id, &doc)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

// ListByStatus returns documents in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt", "ID")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var docs []domain.Document
	if err := s.store.Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// CountByStatus counts documents per status. An empty sourceID counts all sources.
func (s *Store) CountByStatus(ctx context.Context, sourceID string) (map[domain.DocumentStatus]int, error) {
	counts := make(map[domain.DocumentStatus]int, len(domain.AllStatuses))
	for _, status := range domain.AllStatuses {
		query := badgerhold.Where("Status").Eq(status)
		if sourceID != "" {
			query = query.And("SourceID").Eq(sourceID)
		}
		count, err := s.store.Count(&domain.Document{}, query)
		if err != nil {
			return nil, fmt.Errorf("failed to count documents: %w", err)
		}
		counts[status] = int(count)
	}
	return counts, nil
}
