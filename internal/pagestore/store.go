package pagestore

import (
	"sync"
	"time"

	"GazetteScanner/internal/domain"
)

type pageKey struct {
	edition time.Time
	page    int
}

// Store caches raw gazette pages while the cross-page merge window for
// their edition is open. Pages of an edition are retained until
// EvictBefore moves past it, keeping growth bounded during long-running
// processes.
type Store struct {
	mu    sync.RWMutex
	pages map[pageKey]domain.RawPage
}

// New builds an empty store.
func New() *Store {
	return &Store{pages: map[pageKey]domain.RawPage{}}
}

// Put stores a page, overwriting any prior page with the same edition
// date and page number; re-delivery on retry is therefore idempotent.
// Storage is all-or-nothing per page.
func (s *Store) Put(page domain.RawPage) {
	key := pageKey{edition: dayOf(page.EditionDate), page: page.PageNumber}
	s.mu.Lock()
	s.pages[key] = page
	s.mu.Unlock()
}

// Get returns the stored page and whether it exists.
func (s *Store) Get(editionDate time.Time, pageNumber int) (domain.RawPage, bool) {
	s.mu.RLock()
	page, ok := s.pages[pageKey{edition: dayOf(editionDate), page: pageNumber}]
	s.mu.RUnlock()
	return page, ok
}

// EvictBefore drops all pages of editions strictly earlier than the
// given date and returns how many were removed.
func (s *Store) EvictBefore(editionDate time.Time) int {
	cutoff := dayOf(editionDate)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.pages {
		if key.edition.Before(cutoff) {
			delete(s.pages, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached pages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
