package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/config"
	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
	"TechNotesScanner/internal/scanner"
)

// SourceCatalog resolves data sources and their scraper strategies.
// Configured sources are created lazily on first use.
type SourceCatalog struct {
	registry *scanner.Registry
	repo     ports.SourceRepository
	sources  []config.SourceConfig
	logger   arbor.ILogger
}

// NewSourceCatalog wires the strategy registry with config-defined sources.
func NewSourceCatalog(reg *scanner.Registry, repo ports.SourceRepository, sources []config.SourceConfig, log arbor.ILogger) *SourceCatalog {
	if log == nil {
		log = logging.Discard()
	}
	return &SourceCatalog{
		registry: reg,
		repo:     repo,
		sources:  sources,
		logger:   log,
	}
}

// Ensure returns the stored source by name, creating it from config when missing.
func (c *SourceCatalog) Ensure(ctx context.Context, name string) (domain.DataSource, error) {
	source, err := c.repo.GetSourceByName(ctx, name)
	if err == nil {
		return source, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.DataSource{}, fmt.Errorf("load source %s: %w", name, err)
	}

	for _, sc := range c.sources {
		if sc.Name != name {
			continue
		}
		source = sc.ToDataSource()
		if err := c.repo.SaveSource(ctx, &source); err != nil {
			return domain.DataSource{}, fmt.Errorf("create source %s: %w", name, err)
		}
		c.logger.Debug().Str("source", name).Msg("data source created")
		return source, nil
	}
	return domain.DataSource{}, fmt.Errorf("source %s is not configured: %w", name, domain.ErrNotFound)
}

// EnsureAll makes sure every configured source exists.
func (c *SourceCatalog) EnsureAll(ctx context.Context) ([]domain.DataSource, error) {
	result := make([]domain.DataSource, 0, len(c.sources))
	for _, sc := range c.sources {
		source, err := c.Ensure(ctx, sc.Name)
		if err != nil {
			return nil, err
		}
		result = append(result, source)
	}
	return result, nil
}

// Strategy resolves the scraper strategy for source.
func (c *SourceCatalog) Strategy(source domain.DataSource) (scanner.Strategy, error) {
	if c.registry == nil {
		return scanner.Strategy{}, fmt.Errorf("scanner registry is not configured")
	}
	return c.registry.ForSource(source)
}

// Names lists configured source names in config order.
func (c *SourceCatalog) Names() []string {
	names := make([]string, 0, len(c.sources))
	for _, sc := range c.sources {
		names = append(names, sc.Name)
	}
	return names
}

