package gazette

import (
	"context"
	"fmt"
	"time"

	"GazetteScanner/internal/domain"
)

// Request carries all parameters required to fetch one gazette page.
type Request struct {
	EditionDate time.Time
	PageNumber  int
	GazetteName string
	BaseURL     string
	Options     map[string]string
}

// Source captures a single page-fetch strategy (DJE, DOU, etc.). A
// source returns ports.ErrPageNotAvailable when the edition has no page
// at the requested number.
type Source interface {
	Name() string
	FetchPage(ctx context.Context, req Request) (domain.RawPage, error)
}

// Registry keeps a mapping from source names to their implementations.
type Registry struct {
	sources map[string]Source
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(source Source) {
	if r.sources == nil {
		r.sources = map[string]Source{}
	}
	r.sources[source.Name()] = source
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Source, error) {
	if source, ok := r.sources[name]; ok {
		return source, nil
	}
	return nil, fmt.Errorf("gazette source %s is not registered", name)
}
