package merger

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/pagestore"
)

// Config carries the pluggable marker patterns and the merge span bound.
type Config struct {
	StartMarker string
	EndMarker   string
	MaxSpan     int
}

// Merger reconstructs publications that the gazette truncates at page
// boundaries. Publications are delimited by a start marker (the process
// number header); the last segment of a page stays open until either an
// end-of-entry marker terminates it, the next page begins with a new
// start marker, or the edition ends. Pages must be fed in page-number
// order within one edition.
type Merger struct {
	start   *regexp.Regexp
	end     *regexp.Regexp
	maxSpan int
	store   *pagestore.Store
	logger  *slog.Logger

	open         *domain.PendingFragment
	openEndPage  int
	noiseDropped int
}

// New compiles the marker patterns and binds the page store.
func New(cfg Config, store *pagestore.Store, logger *slog.Logger) (*Merger, error) {
	start, err := regexp.Compile(cfg.StartMarker)
	if err != nil {
		return nil, fmt.Errorf("compile start marker: %w", err)
	}
	end, err := regexp.Compile(cfg.EndMarker)
	if err != nil {
		return nil, fmt.Errorf("compile end marker: %w", err)
	}
	if cfg.MaxSpan < 1 {
		return nil, fmt.Errorf("max merge span must be >= 1, got %d", cfg.MaxSpan)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{start: start, end: end, maxSpan: cfg.MaxSpan, store: store, logger: logger}, nil
}

// AddPage consumes the page previously stored for (editionDate,
// pageNumber) and returns every publication the page fully resolves.
func (m *Merger) AddPage(editionDate time.Time, pageNumber int) []domain.MergedText {
	page, ok := m.store.Get(editionDate, pageNumber)
	if !ok {
		return nil
	}

	text := page.Text
	marks := m.start.FindAllStringIndex(text, -1)

	if len(marks) == 0 {
		return m.consumeMarkerlessPage(page)
	}

	var merged []domain.MergedText

	// Leading text before the first marker continues the open fragment;
	// without one it is header/footer noise.
	leading := text[:marks[0][0]]
	if m.open != nil {
		m.appendToOpen(leading, pageNumber)
		merged = append(merged, m.closeOpen(false))
	} else if strings.TrimSpace(leading) != "" {
		m.noiseDropped++
	}

	for i, mark := range marks {
		segEnd := len(text)
		if i+1 < len(marks) {
			segEnd = marks[i+1][0]
		}
		segment := text[mark[0]:segEnd]

		last := i+1 == len(marks)
		if !last || m.terminated(segment) {
			merged = append(merged, domain.MergedText{
				EditionDate: page.EditionDate,
				StartPage:   pageNumber,
				EndPage:     pageNumber,
				Text:        segment,
			})
			continue
		}

		m.open = &domain.PendingFragment{
			EditionDate:  page.EditionDate,
			StartPage:    pageNumber,
			Text:         segment,
			OpenedAt:     time.Now(),
			PagesSpanned: 1,
		}
		m.openEndPage = pageNumber
	}

	return merged
}

// consumeMarkerlessPage appends a page without any start marker to the
// open fragment, or drops it as noise when nothing is pending.
func (m *Merger) consumeMarkerlessPage(page domain.RawPage) []domain.MergedText {
	if m.open == nil {
		m.noiseDropped++
		m.logger.Debug("page without markers dropped as noise",
			"edition", page.EditionDate.Format("2006-01-02"), "page", page.PageNumber)
		return nil
	}

	m.appendToOpen(page.Text, page.PageNumber)

	if m.open.PagesSpanned > m.maxSpan {
		m.logger.Warn("merge span exceeded, force-closing fragment",
			"start_page", m.open.StartPage, "end_page", page.PageNumber, "max_span", m.maxSpan)
		return []domain.MergedText{m.closeOpen(true)}
	}

	if m.terminated(m.open.Text) {
		return []domain.MergedText{m.closeOpen(false)}
	}
	return nil
}

// ForceClose emits the open fragment as-is, flagged for review. Used
// when a page inside the merge window could not be fetched.
func (m *Merger) ForceClose(reason string) []domain.MergedText {
	if m.open == nil {
		return nil
	}
	m.logger.Warn("force-closing open fragment", "start_page", m.open.StartPage, "reason", reason)
	return []domain.MergedText{m.closeOpen(true)}
}

// CloseEdition flushes the fragment still open when the edition ends. A
// fragment that carries the end marker terminated normally on the final
// page; anything else is emitted best-effort, flagged for review, never
// silently dropped.
func (m *Merger) CloseEdition() []domain.MergedText {
	if m.open == nil {
		return nil
	}
	forced := !m.terminated(m.open.Text)
	return []domain.MergedText{m.closeOpen(forced)}
}

// NoiseDropped reports how many marker-less pages were discarded without
// an open fragment to attach them to.
func (m *Merger) NoiseDropped() int {
	return m.noiseDropped
}

func (m *Merger) appendToOpen(text string, pageNumber int) {
	if text == "" {
		return
	}
	m.open.Text += text
	if pageNumber > m.openEndPage {
		m.open.PagesSpanned += pageNumber - m.openEndPage
		m.openEndPage = pageNumber
	}
}

func (m *Merger) closeOpen(forced bool) domain.MergedText {
	frag := m.open
	m.open = nil
	return domain.MergedText{
		EditionDate: frag.EditionDate,
		StartPage:   frag.StartPage,
		EndPage:     m.openEndPage,
		Text:        frag.Text,
		ForcedClose: forced,
	}
}

func (m *Merger) terminated(segment string) bool {
	return m.end.MatchString(strings.TrimSpace(segment))
}
