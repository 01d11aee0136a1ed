package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"TechNotesScanner/internal/domain"
)

// GetSourceByName loads a data source by its unique name.
func (s *Store) GetSourceByName(ctx context.Context, name string) (domain.DataSource, error) {
	var sources []domain.DataSource
	if err := s.store.Find(&sources, badgerhold.Where("Name").Eq(name).Limit(1)); err != nil {
		return domain.DataSource{}, fmt.Errorf("failed to get source: %w", err)
	}
	if len(sources) == 0 {
		return domain.DataSource{}, fmt.Errorf("source %s: %w", name, domain.ErrNotFound)
	}
	return sources[0], nil
}

// SaveSource upserts a data source, reusing the id stored under the same name.
func (s *Store) SaveSource(ctx context.Context, source *domain.DataSource) error {
	if source.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if source.ID == "" {
		if existing, err := s.GetSourceByName(ctx, source.Name); err == nil {
			source.ID = existing.ID
			source.CreatedAt = existing.CreatedAt
		} else {
			source.ID = uuid.NewString()
		}
	}
	now := time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	if err := s.store.Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

// ListSources returns every data source ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]domain.DataSource, error) {
	var sources []domain.DataSource
	if err := s.store.Find(&sources, nil); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}

// SetSourceActive toggles the active flag of a stored data source.
func (s *Store) SetSourceActive(ctx context.Context, name string, active bool) error {
	source, err := s.GetSourceByName(ctx, name)
	if err != nil {
		return err
	}
	source.Active = active
	return s.SaveSource(ctx, &source)
}
