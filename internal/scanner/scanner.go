package scanner

import (
	"fmt"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/ports"
)

// Strategy pairs the two source-specific capabilities a scraper needs.
type Strategy struct {
	Name     string
	Listing  ports.ListingExtractor
	Document ports.DocumentFetcher
}

// Registry keeps a mapping from scraper names to their strategies.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]Strategy{}}
}

// Register adds or replaces a strategy.
func (r *Registry) Register(strategy Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[strategy.Name] = strategy
}

// Resolve returns a strategy by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if strategy, ok := r.strategies[name]; ok {
		return strategy, nil
	}
	return Strategy{}, fmt.Errorf("scraper %s is not registered", name)
}

// ForSource resolves the strategy a data source selects, falling back to its content type.
func (r *Registry) ForSource(source domain.DataSource) (Strategy, error) {
	name := source.Scraper
	if name == "" {
		name = string(source.ContentType)
	}
	strategy, err := r.Resolve(name)
	if err != nil {
		return Strategy{}, fmt.Errorf("source %s: %w", source.Name, err)
	}
	return strategy, nil
}
