package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/ports"
)

// Kind classifies an extracted publication against what is already
// persisted.
type Kind int

const (
	// New means the process number was never seen; forward for creation.
	New Kind = iota
	// DuplicateIdentical means the record already exists with the same
	// content; discard, no write.
	DuplicateIdentical
	// DuplicateChanged means the process number exists but fields differ
	// (e.g. values corrected in a later edition); forward as an update
	// with both snapshots for audit logging.
	DuplicateChanged
)

func (k Kind) String() string {
	switch k {
	case New:
		return "NEW"
	case DuplicateIdentical:
		return "DUPLICATE_IDENTICAL"
	case DuplicateChanged:
		return "DUPLICATE_CHANGED"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Decision is the outcome of classifying one publication. Previous is
// set for DuplicateChanged so the repository can log both snapshots.
type Decision struct {
	Kind     Kind
	Previous domain.Publication
}

// Policy decides, per extracted record, whether it is new, an update, or
// a discardable duplicate, keyed on the normalized process number. A
// Policy carries per-run state and must not be shared across runs.
type Policy struct {
	repo   ports.PublicationRepository
	logger *slog.Logger

	// seen holds the record that currently wins each key within this
	// run: the first occurrence (or its update) beats later listings of
	// the same process number on the same day, without a store lookup.
	seen map[string]domain.Publication

	preloaded  map[string]domain.Publication
	prefetched map[string]struct{}
}

// NewPolicy builds a per-run policy over the persisted-store lookup.
func NewPolicy(repo ports.PublicationRepository, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		repo:       repo,
		logger:     logger,
		seen:       map[string]domain.Publication{},
		preloaded:  map[string]domain.Publication{},
		prefetched: map[string]struct{}{},
	}
}

// Preload batch-fetches the persisted state for a set of process numbers
// so subsequent Classify calls avoid per-record round trips.
func (p *Policy) Preload(ctx context.Context, numbers []string) error {
	keys := make([]string, 0, len(numbers))
	for _, n := range numbers {
		key := domain.NormalizeProcessNumber(n)
		if _, done := p.prefetched[key]; done {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}

	found, err := p.repo.FindByProcessNumbers(ctx, keys)
	if err != nil {
		return fmt.Errorf("lookup process numbers: %w", err)
	}
	for _, key := range keys {
		p.prefetched[key] = struct{}{}
	}
	for key, pub := range found {
		p.preloaded[domain.NormalizeProcessNumber(key)] = pub
	}
	return nil
}

// Classify resolves one extracted publication. Within a run the first
// occurrence of a key wins; later occurrences are compared against it
// rather than against the store.
func (p *Policy) Classify(ctx context.Context, pub domain.Publication) (Decision, error) {
	key := pub.Key()

	if first, ok := p.seen[key]; ok {
		if pub.ContentEquals(first) {
			return Decision{Kind: DuplicateIdentical}, nil
		}
		p.seen[key] = pub
		return Decision{Kind: DuplicateChanged, Previous: first}, nil
	}

	previous, exists, err := p.lookup(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	p.seen[key] = pub

	if !exists {
		return Decision{Kind: New}, nil
	}
	if pub.ContentEquals(previous) {
		return Decision{Kind: DuplicateIdentical}, nil
	}
	return Decision{Kind: DuplicateChanged, Previous: previous}, nil
}

// Forget removes a process number from the run cache. Called when the
// cached occurrence failed to persist and therefore never reached the
// store: a later listing of the same key must be classified against the
// store again instead of being treated as an update of a missing row.
func (p *Policy) Forget(number string) {
	delete(p.seen, domain.NormalizeProcessNumber(number))
}

func (p *Policy) lookup(ctx context.Context, key string) (domain.Publication, bool, error) {
	if _, done := p.prefetched[key]; done {
		prev, ok := p.preloaded[key]
		return prev, ok, nil
	}

	found, err := p.repo.FindByProcessNumbers(ctx, []string{key})
	if err != nil {
		return domain.Publication{}, false, fmt.Errorf("lookup process number %s: %w", key, err)
	}
	p.prefetched[key] = struct{}{}
	prev, ok := found[key]
	if ok {
		p.preloaded[key] = prev
	}
	return prev, ok, nil
}
