package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"TechNotesScanner/internal/ports"
)

// ContentHash is the canonical dedup key: MD5 hex over the raw downloaded bytes.
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Deduplicator answers the two dedup gates of the scraper.
type Deduplicator struct {
	documents ports.DocumentRepository
}

// NewDeduplicator wires the document repository.
func NewDeduplicator(documents ports.DocumentRepository) *Deduplicator {
	return &Deduplicator{documents: documents}
}

// IsDuplicateByURL reports whether the source already holds a document for url.
func (d *Deduplicator) IsDuplicateByURL(ctx context.Context, sourceID, url string) (bool, error) {
	found, err := d.documents.ExistsByURL(ctx, sourceID, url)
	if err != nil {
		return false, fmt.Errorf("url lookup: %w", err)
	}
	return found, nil
}

// IsDuplicateByHash reports whether any document already has hash.
func (d *Deduplicator) IsDuplicateByHash(ctx context.Context, hash string) (bool, error) {
	found, err := d.documents.ExistsByHash(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("hash lookup: %w", err)
	}
	return found, nil
}
