package gazette

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"GazetteScanner/internal/config"
	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/ports"
)

// StrategySource implements ports.PageSource via a registered strategy
// bound to the configured gazette.
type StrategySource struct {
	registry *Registry
	cfg      config.GazetteConfig
	logger   *slog.Logger
}

var _ ports.PageSource = (*StrategySource)(nil)

// NewStrategySource wires the source registry with the config-defined gazette.
func NewStrategySource(reg *Registry, cfg config.GazetteConfig, log *slog.Logger) *StrategySource {
	if log == nil {
		log = slog.Default()
	}
	return &StrategySource{registry: reg, cfg: cfg, logger: log}
}

// FetchPage resolves the configured strategy and delegates the fetch.
func (s *StrategySource) FetchPage(ctx context.Context, editionDate time.Time, pageNumber int) (domain.RawPage, error) {
	if s.registry == nil {
		return domain.RawPage{}, fmt.Errorf("gazette source registry is not configured")
	}

	strategy, err := s.registry.Resolve(s.cfg.Source)
	if err != nil {
		return domain.RawPage{}, fmt.Errorf("gazette %s: %w", s.cfg.Name, err)
	}

	s.logger.Debug("fetch page", "gazette", s.cfg.Name, "source", s.cfg.Source,
		"edition", editionDate.Format("2006-01-02"), "page", pageNumber)

	return strategy.FetchPage(ctx, Request{
		EditionDate: editionDate,
		PageNumber:  pageNumber,
		GazetteName: s.cfg.Name,
		BaseURL:     s.cfg.BaseURL,
		Options:     s.cfg.Options,
	})
}
