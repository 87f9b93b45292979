package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/extractor"
	"GazetteScanner/internal/merger"
	"GazetteScanner/internal/pagestore"
	"GazetteScanner/internal/ports"
)

var testEdition = time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)

const completeEntry = "Processo %s - Cumprimento de Sentença - Requerente: José da Silva - " +
	"Data de Disponibilização: 10/03/2024 - R$ 1.234,56 - principal bruto/líquido - " +
	"ADV: MARIA SOUZA (OAB 123456/SP)"

type fakeSource struct {
	pages     map[int]string
	failPages map[int]bool
	fetches   int
}

func (f *fakeSource) FetchPage(_ context.Context, _ time.Time, pageNumber int) (domain.RawPage, error) {
	f.fetches++
	if f.failPages[pageNumber] {
		return domain.RawPage{}, errors.New("upstream hiccup")
	}
	text, ok := f.pages[pageNumber]
	if !ok {
		return domain.RawPage{}, ports.ErrPageNotAvailable
	}
	return domain.RawPage{EditionDate: testEdition, PageNumber: pageNumber, Text: text}, nil
}

type fakeRepo struct {
	stored      map[string]domain.Publication
	failCreates map[string]int
	creates     int
	updates     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stored: map[string]domain.Publication{}}
}

func (f *fakeRepo) FindByProcessNumbers(_ context.Context, numbers []string) (map[string]domain.Publication, error) {
	out := map[string]domain.Publication{}
	for _, n := range numbers {
		key := domain.NormalizeProcessNumber(n)
		if pub, ok := f.stored[key]; ok {
			out[key] = pub
		}
	}
	return out, nil
}

func (f *fakeRepo) Create(_ context.Context, pub domain.Publication) error {
	if f.failCreates[pub.Key()] > 0 {
		f.failCreates[pub.Key()]--
		return errors.New("insert rejected")
	}
	f.creates++
	f.stored[pub.Key()] = pub
	return nil
}

func (f *fakeRepo) UpdateWithAudit(_ context.Context, _, updated domain.Publication) error {
	f.updates++
	f.stored[updated.Key()] = updated
	return nil
}

func newTestPipeline(source ports.PageSource, repo ports.PublicationRepository) *Pipeline {
	return newTestPipelineFetch(source, repo,
		FetchPolicy{Workers: 2, Retries: 1, MaxPageFailures: 3, Backoff: time.Millisecond})
}

func newTestPipelineFetch(source ports.PageSource, repo ports.PublicationRepository, fetch FetchPolicy) *Pipeline {
	return NewPipeline(PipelineDeps{
		Source:     source,
		Repository: repo,
		Store:      pagestore.New(),
		Extractor:  extractor.New("Instituto Nacional do Seguro Social - INSS", nil),
		MergerCfg: merger.Config{
			StartMarker: `Processo\s+\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`,
			EndMarker:   `ADV[:.].*\(OAB\s*[\d.]+/[A-Z]{2}\)\s*$`,
			MaxSpan:     3,
		},
		Fetch: fetch,
	})
}

func TestRunSinglePagePublication(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: map[int]string{
		1: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100"),
	}}
	repo := newFakeRepo()

	report := newTestPipeline(source, repo).Run(context.Background(), domain.SlotMorning, testEdition)

	if report.RunID == "" {
		t.Fatal("missing run id")
	}
	if report.PagesProcessed != 1 {
		t.Fatalf("pages processed = %d, want 1", report.PagesProcessed)
	}
	if report.PublicationsFound != 1 || report.PublicationsNew != 1 {
		t.Fatalf("found/new = %d/%d, want 1/1", report.PublicationsFound, report.PublicationsNew)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}

	stored, ok := repo.stored[domain.NormalizeProcessNumber("1234567-89.2024.8.26.0100")]
	if !ok {
		t.Fatal("publication not persisted")
	}
	if stored.LowConfidence {
		t.Fatal("complete single-page entry flagged low-confidence")
	}
}

func TestRunSplitPublicationProvenance(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: map[int]string{
		1: "Processo 1234567-89.2024.8.26.0100 - Requerente: José da Silva - " +
			"Data de Disponibilização: 10/03/2024 - valores devi",
		2: "dos: R$ 1.234,56 - principal bruto/líquido - ADV: MARIA SOUZA (OAB 123456/SP)",
	}}
	repo := newFakeRepo()

	report := newTestPipeline(source, repo).Run(context.Background(), domain.SlotMorning, testEdition)

	if report.PublicationsFound != 1 || report.PublicationsNew != 1 {
		t.Fatalf("found/new = %d/%d, want 1/1", report.PublicationsFound, report.PublicationsNew)
	}

	stored := repo.stored[domain.NormalizeProcessNumber("1234567-89.2024.8.26.0100")]
	if stored.StartPage != 1 || stored.EndPage != 2 {
		t.Fatalf("provenance = %d-%d, want 1-2", stored.StartPage, stored.EndPage)
	}
	if stored.LowConfidence {
		t.Fatal("cleanly merged publication flagged low-confidence")
	}
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	pages := map[int]string{
		1: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100"),
		2: fmt.Sprintf(completeEntry, "7654321-89.2024.8.26.0100"),
	}
	repo := newFakeRepo()

	first := newTestPipeline(&fakeSource{pages: pages}, repo).Run(context.Background(), domain.SlotMorning, testEdition)
	if first.PublicationsNew != 2 {
		t.Fatalf("first run new = %d, want 2", first.PublicationsNew)
	}

	second := newTestPipeline(&fakeSource{pages: pages}, repo).Run(context.Background(), domain.SlotAfternoon, testEdition)
	if second.PublicationsNew != 0 {
		t.Fatalf("second run created %d records", second.PublicationsNew)
	}
	if second.PublicationsUpdated != 0 {
		t.Fatalf("second run updated %d records", second.PublicationsUpdated)
	}
	if second.PublicationsDuplicate != 2 {
		t.Fatalf("second run duplicates = %d, want 2", second.PublicationsDuplicate)
	}
	if repo.creates != 2 || repo.updates != 0 {
		t.Fatalf("store writes: %d creates, %d updates", repo.creates, repo.updates)
	}
}

func TestRunChangedContentForwardsUpdate(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()

	first := map[int]string{1: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100")}
	newTestPipeline(&fakeSource{pages: first}, repo).Run(context.Background(), domain.SlotMorning, testEdition)

	corrected := map[int]string{1: "Processo 1234567-89.2024.8.26.0100 - Requerente: José da Silva - " +
		"Data de Disponibilização: 10/03/2024 - R$ 9.999,99 - principal bruto/líquido - " +
		"ADV: MARIA SOUZA (OAB 123456/SP)"}
	report := newTestPipeline(&fakeSource{pages: corrected}, repo).Run(context.Background(), domain.SlotAfternoon, testEdition)

	if report.PublicationsUpdated != 1 {
		t.Fatalf("updated = %d, want 1", report.PublicationsUpdated)
	}
	if repo.updates != 1 {
		t.Fatalf("store updates = %d, want 1", repo.updates)
	}

	stored := repo.stored[domain.NormalizeProcessNumber("1234567-89.2024.8.26.0100")]
	if stored.GrossValue == nil || *stored.GrossValue != 999999 {
		t.Fatalf("corrected value not persisted: %v", stored.GrossValue)
	}
}

func TestRunZeroPagesStillReports(t *testing.T) {
	t.Parallel()

	report := newTestPipeline(&fakeSource{pages: map[int]string{}}, newFakeRepo()).
		Run(context.Background(), domain.SlotMorning, testEdition)

	if report.PagesProcessed != 0 {
		t.Fatalf("pages processed = %d, want 0", report.PagesProcessed)
	}
	if len(report.Errors) == 0 {
		t.Fatal("zero-page run not marked in report")
	}
	if report.FinishedAt.IsZero() {
		t.Fatal("report not finalized")
	}
}

func TestRunContinuesPastFailedPage(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: map[int]string{
			1: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100"),
			2: "unreachable",
			3: fmt.Sprintf(completeEntry, "7654321-89.2024.8.26.0100"),
		},
		failPages: map[int]bool{2: true},
	}
	repo := newFakeRepo()

	report := newTestPipeline(source, repo).Run(context.Background(), domain.SlotMorning, testEdition)

	if report.PagesProcessed != 2 {
		t.Fatalf("pages processed = %d, want 2", report.PagesProcessed)
	}
	if report.PublicationsNew != 2 {
		t.Fatalf("new = %d, want 2", report.PublicationsNew)
	}

	var fetchErrors int
	for _, e := range report.Errors {
		if e.Stage == "fetch" && e.Page == 2 {
			fetchErrors++
		}
	}
	if fetchErrors != 1 {
		t.Fatalf("expected 1 fetch error for page 2, got %v", report.Errors)
	}
}

func TestRunSingleWorkerContinuesPastFailedPage(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: map[int]string{
			1: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100"),
			2: "unreachable",
			3: fmt.Sprintf(completeEntry, "7654321-89.2024.8.26.0100"),
		},
		failPages: map[int]bool{2: true},
	}
	repo := newFakeRepo()

	report := newTestPipelineFetch(source, repo,
		FetchPolicy{Workers: 1, Retries: 0, MaxPageFailures: 3, Backoff: time.Millisecond}).
		Run(context.Background(), domain.SlotMorning, testEdition)

	if report.PagesProcessed != 2 {
		t.Fatalf("pages processed = %d, want 2 (page 3 was never fetched)", report.PagesProcessed)
	}
	if report.PublicationsNew != 2 {
		t.Fatalf("new = %d, want 2", report.PublicationsNew)
	}
}

func TestRunStopsAfterConsecutivePageFailures(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: map[int]string{
			3: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100"),
		},
		failPages: map[int]bool{1: true, 2: true},
	}
	repo := newFakeRepo()

	report := newTestPipelineFetch(source, repo,
		FetchPolicy{Workers: 1, Retries: 0, MaxPageFailures: 2, Backoff: time.Millisecond}).
		Run(context.Background(), domain.SlotMorning, testEdition)

	if report.PagesProcessed != 0 {
		t.Fatalf("pages processed = %d, want 0", report.PagesProcessed)
	}
	if repo.creates != 0 {
		t.Fatalf("run past the failure threshold wrote %d records", repo.creates)
	}

	var fetchErrors int
	for _, e := range report.Errors {
		if e.Stage == "fetch" && e.Page > 0 {
			fetchErrors++
		}
	}
	if fetchErrors != 2 {
		t.Fatalf("expected 2 page fetch errors before stopping, got %v", report.Errors)
	}
}

func TestRunCountsNoisePages(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: map[int]string{
		1: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100"),
		2: "expediente administrativo sem número de processo",
	}}
	repo := newFakeRepo()

	report := newTestPipeline(source, repo).Run(context.Background(), domain.SlotMorning, testEdition)

	if report.PagesNoise != 1 {
		t.Fatalf("noise pages = %d, want 1", report.PagesNoise)
	}
	if report.PublicationsFound != 1 || report.PublicationsNew != 1 {
		t.Fatalf("found/new = %d/%d, want 1/1", report.PublicationsFound, report.PublicationsNew)
	}
}

func TestRunCreateFailureAllowsSameRunRelisting(t *testing.T) {
	t.Parallel()

	process := "1234567-89.2024.8.26.0100"
	corrected := "Processo " + process + " - Requerente: José da Silva - " +
		"Data de Disponibilização: 10/03/2024 - R$ 9.999,99 - principal bruto/líquido - " +
		"ADV: MARIA SOUZA (OAB 123456/SP)"

	source := &fakeSource{pages: map[int]string{
		1: fmt.Sprintf(completeEntry, process) + "\n" + corrected,
	}}
	repo := newFakeRepo()
	repo.failCreates = map[string]int{domain.NormalizeProcessNumber(process): 1}

	report := newTestPipeline(source, repo).Run(context.Background(), domain.SlotMorning, testEdition)

	// First listing fails to insert; the later listing of the same key
	// must be created fresh, not treated as an update of the missing row.
	if report.PublicationsNew != 1 {
		t.Fatalf("new = %d, want 1", report.PublicationsNew)
	}
	if report.PublicationsUpdated != 0 || repo.updates != 0 {
		t.Fatalf("re-listing after failed insert was treated as update: report=%d store=%d",
			report.PublicationsUpdated, repo.updates)
	}

	var persistErrors int
	for _, e := range report.Errors {
		if e.Stage == "persist" {
			persistErrors++
		}
	}
	if persistErrors != 1 {
		t.Fatalf("expected 1 persist error, got %v", report.Errors)
	}

	stored, ok := repo.stored[domain.NormalizeProcessNumber(process)]
	if !ok {
		t.Fatal("re-listing never reached the store")
	}
	if stored.GrossValue == nil || *stored.GrossValue != 999999 {
		t.Fatalf("wrong snapshot persisted: %v", stored.GrossValue)
	}
}

func TestRunAbortedFinalizesWithoutWrites(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := newFakeRepo()
	source := &fakeSource{pages: map[int]string{
		1: fmt.Sprintf(completeEntry, "1234567-89.2024.8.26.0100"),
	}}

	report := newTestPipeline(source, repo).Run(ctx, domain.SlotMorning, testEdition)

	if !report.Aborted {
		t.Fatal("cancelled run not marked aborted")
	}
	if report.FinishedAt.IsZero() {
		t.Fatal("aborted run not finalized")
	}
	if repo.creates != 0 || repo.updates != 0 {
		t.Fatalf("aborted run wrote to the store: %d creates, %d updates", repo.creates, repo.updates)
	}
}
