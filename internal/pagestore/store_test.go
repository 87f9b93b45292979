package pagestore

import (
	"testing"
	"time"

	"GazetteScanner/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPutIsIdempotent(t *testing.T) {
	t.Parallel()

	store := New()
	edition := day(2024, time.March, 10)

	store.Put(domain.RawPage{EditionDate: edition, PageNumber: 1, Text: "first delivery"})
	store.Put(domain.RawPage{EditionDate: edition, PageNumber: 1, Text: "retry delivery"})

	if store.Len() != 1 {
		t.Fatalf("expected 1 page, got %d", store.Len())
	}

	page, ok := store.Get(edition, 1)
	if !ok {
		t.Fatal("page not found")
	}
	if page.Text != "retry delivery" {
		t.Fatalf("retry did not overwrite: %q", page.Text)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	store := New()
	if _, ok := store.Get(day(2024, time.March, 10), 7); ok {
		t.Fatal("expected not-found for missing page")
	}
}

func TestEvictBeforeDropsEarlierEditions(t *testing.T) {
	t.Parallel()

	store := New()
	older := day(2024, time.March, 9)
	current := day(2024, time.March, 10)

	store.Put(domain.RawPage{EditionDate: older, PageNumber: 1, Text: "old"})
	store.Put(domain.RawPage{EditionDate: older, PageNumber: 2, Text: "old"})
	store.Put(domain.RawPage{EditionDate: current, PageNumber: 1, Text: "new"})

	if removed := store.EvictBefore(current); removed != 2 {
		t.Fatalf("expected 2 evicted, got %d", removed)
	}

	if _, ok := store.Get(older, 1); ok {
		t.Fatal("old edition page survived eviction")
	}
	if _, ok := store.Get(current, 1); !ok {
		t.Fatal("current edition page was evicted")
	}
}
