package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"GazetteScanner/internal/dedup"
	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/extractor"
	"GazetteScanner/internal/merger"
	"GazetteScanner/internal/pagestore"
	"GazetteScanner/internal/ports"
)

// defaultMaxPageFailures bounds consecutive failed pages when the
// configuration does not say otherwise.
const defaultMaxPageFailures = 5

// FetchPolicy bounds the page-fetch stage of a run.
type FetchPolicy struct {
	Workers int
	Retries int
	// MaxPageFailures is the number of consecutive pages that may fail
	// (after retries) before the run treats the upstream as down and
	// stops walking the edition. Isolated failed pages below the
	// threshold never end the walk.
	MaxPageFailures int
	Backoff         time.Duration
}

// PipelineDeps wires all driven adapters into the extraction pipeline.
type PipelineDeps struct {
	Source     ports.PageSource
	Repository ports.PublicationRepository
	Store      *pagestore.Store
	Extractor  *extractor.Extractor
	ReportSink ports.ReportSink
	MergerCfg  merger.Config
	Fetch      FetchPolicy
	Logger     *slog.Logger
}

// Pipeline drives one edition through fetch → page store → merge →
// extract → dedup → persist and accumulates the run report. Only one
// run executes at a time; the scheduler enforces non-overlap.
type Pipeline struct {
	source     ports.PageSource
	repository ports.PublicationRepository
	store      *pagestore.Store
	extractor  *extractor.Extractor
	reportSink ports.ReportSink
	mergerCfg  merger.Config
	fetch      FetchPolicy
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Fetch.Workers < 1 {
		deps.Fetch.Workers = 1
	}
	if deps.Fetch.MaxPageFailures < 1 {
		deps.Fetch.MaxPageFailures = defaultMaxPageFailures
	}
	return &Pipeline{
		source:     deps.Source,
		repository: deps.Repository,
		store:      deps.Store,
		extractor:  deps.Extractor,
		reportSink: deps.ReportSink,
		mergerCfg:  deps.MergerCfg,
		fetch:      deps.Fetch,
		logger:     deps.Logger,
	}
}

type fetchResult struct {
	page domain.RawPage
	err  error
}

// Run executes one full extraction over the edition dated date. Failures
// of single pages or single publications are isolated and recorded in
// the report; the run itself only stops early on cancellation or when
// the persisted store is unreachable.
func (p *Pipeline) Run(ctx context.Context, slot domain.Slot, date time.Time) domain.RunReport {
	report := domain.RunReport{
		RunID:       uuid.NewString(),
		Slot:        slot,
		EditionDate: date,
		StartedAt:   time.Now(),
	}
	log := p.logger.With("run_id", report.RunID, "slot", slot, "edition", date.Format("2006-01-02"))
	log.Info("run started")

	m, err := merger.New(p.mergerCfg, p.store, log.With("component", "merger"))
	if err != nil {
		report.AddError(0, "setup", err.Error())
		return p.finalize(ctx, log, report)
	}

	var publications []domain.Publication
	collect := func(merged []domain.MergedText) {
		for _, mt := range merged {
			report.PublicationsFound++
			pub, extErr := p.extractor.Extract(mt)
			if extErr != nil {
				report.AddError(mt.StartPage, "extract", extErr.Error())
				log.Warn("publication failed extraction", "start_page", mt.StartPage, "error", extErr)
				continue
			}
			publications = append(publications, pub)
		}
	}

	p.fetchAndMerge(ctx, log, date, m, &report, collect)

	report.PagesNoise = m.NoiseDropped()

	if ctx.Err() != nil {
		// An open fragment at abort time is incomplete by definition;
		// the next run re-fetches the edition and dedup keeps the
		// replay idempotent, so nothing is forwarded now.
		report.Aborted = true
		log.Warn("run aborted", "cause", ctx.Err())
		return p.finalize(ctx, log, report)
	}

	collect(m.CloseEdition())

	if report.PagesProcessed == 0 {
		report.AddError(0, "fetch", "edition produced no pages")
		log.Warn("run processed zero pages")
	}

	p.persist(ctx, log, publications, &report)

	if evicted := p.store.EvictBefore(date); evicted > 0 {
		log.Debug("evicted stale pages", "count", evicted)
	}

	return p.finalize(ctx, log, report)
}

// fetchAndMerge pulls pages concurrently in bounded windows and releases
// them to the merger in page-number order, since the merger's open
// fragment carry-over is sequential.
func (p *Pipeline) fetchAndMerge(ctx context.Context, log *slog.Logger, date time.Time, m *merger.Merger, report *domain.RunReport, collect func([]domain.MergedText)) {
	next := 1
	consecutiveFailures := 0
	for ctx.Err() == nil {
		results := p.fetchWindow(ctx, date, next, p.fetch.Workers)

		for i, res := range results {
			pageNumber := next + i
			if errors.Is(res.err, ports.ErrPageNotAvailable) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if res.err != nil {
				consecutiveFailures++
				report.AddError(pageNumber, "fetch", res.err.Error())
				log.Warn("page failed after retries", "page", pageNumber, "error", res.err)
				// Stitching across the gap would corrupt the fragment.
				collect(m.ForceClose(fmt.Sprintf("page %d unavailable", pageNumber)))
				if consecutiveFailures >= p.fetch.MaxPageFailures {
					// No end-of-edition signal this many pages in a row:
					// the upstream is down, not paginated out.
					log.Error("upstream unavailable, stopping fetch",
						"page", pageNumber, "consecutive_failures", consecutiveFailures)
					return
				}
				continue
			}
			consecutiveFailures = 0

			p.store.Put(res.page)
			report.PagesProcessed++
			collect(m.AddPage(date, pageNumber))
		}

		next += len(results)
	}
}

// fetchWindow fetches pages [first, first+size) concurrently. Results
// come back indexed so the caller can consume them in order.
func (p *Pipeline) fetchWindow(ctx context.Context, date time.Time, first, size int) []fetchResult {
	results := make([]fetchResult, size)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetch.Workers)

	for i := 0; i < size; i++ {
		i := i
		g.Go(func() error {
			page, err := p.fetchPage(gctx, date, first+i)
			results[i] = fetchResult{page: page, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetchPage retries transient failures with exponential backoff. A
// not-available signal is definitive, never retried.
func (p *Pipeline) fetchPage(ctx context.Context, date time.Time, pageNumber int) (domain.RawPage, error) {
	var lastErr error
	for attempt := 0; attempt <= p.fetch.Retries; attempt++ {
		if attempt > 0 {
			delay := p.fetch.Backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.RawPage{}, ctx.Err()
			}
		}

		page, err := p.source.FetchPage(ctx, date, pageNumber)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, ports.ErrPageNotAvailable) || ctx.Err() != nil {
			return domain.RawPage{}, err
		}
		lastErr = err
	}
	return domain.RawPage{}, fmt.Errorf("after %d attempts: %w", p.fetch.Retries+1, lastErr)
}

// persist classifies every extracted publication and forwards the new
// and changed ones to the store. The persisted-store being unreachable
// for the whole batch aborts the remainder of the run.
func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, publications []domain.Publication, report *domain.RunReport) {
	if len(publications) == 0 {
		return
	}

	policy := dedup.NewPolicy(p.repository, log.With("component", "dedup"))

	keys := make([]string, len(publications))
	for i, pub := range publications {
		keys[i] = pub.ProcessNumber
	}
	if err := policy.Preload(ctx, keys); err != nil {
		report.AddError(0, "dedup", err.Error())
		report.Aborted = true
		log.Error("persisted store unreachable, aborting run", "error", err)
		return
	}

	for _, pub := range publications {
		if ctx.Err() != nil {
			report.Aborted = true
			return
		}

		decision, err := policy.Classify(ctx, pub)
		if err != nil {
			report.AddError(pub.StartPage, "dedup", err.Error())
			continue
		}

		switch decision.Kind {
		case dedup.New:
			if err := p.repository.Create(ctx, pub); err != nil {
				report.AddError(pub.StartPage, "persist", err.Error())
				policy.Forget(pub.ProcessNumber)
				continue
			}
			report.PublicationsNew++
		case dedup.DuplicateIdentical:
			report.PublicationsDuplicate++
		case dedup.DuplicateChanged:
			if err := p.repository.UpdateWithAudit(ctx, decision.Previous, pub); err != nil {
				report.AddError(pub.StartPage, "persist", err.Error())
				continue
			}
			report.PublicationsDuplicate++
			report.PublicationsUpdated++
		}

		log.Debug("publication classified",
			"process_number", pub.ProcessNumber, "decision", decision.Kind.String(),
			"low_confidence", pub.LowConfidence)
	}
}

// finalize stamps the report, logs the outcome and hands the report to
// the sink. The report is the single source of truth for the run.
func (p *Pipeline) finalize(ctx context.Context, log *slog.Logger, report domain.RunReport) domain.RunReport {
	report.FinishedAt = time.Now()

	log.Info("run finished",
		"pages", report.PagesProcessed,
		"noise", report.PagesNoise,
		"found", report.PublicationsFound,
		"new", report.PublicationsNew,
		"duplicate", report.PublicationsDuplicate,
		"updated", report.PublicationsUpdated,
		"errors", len(report.Errors),
		"aborted", report.Aborted,
	)

	if p.reportSink != nil {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.reportSink.Publish(sinkCtx, report); err != nil {
			log.Warn("report sink delivery failed", "error", err)
		}
	}

	return report
}
