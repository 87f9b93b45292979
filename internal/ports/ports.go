package ports

import (
	"context"
	"errors"
	"time"

	"GazetteScanner/internal/domain"
)

// ErrPageNotAvailable signals that the upstream has no page at the
// requested (edition date, page number); for a valid edition it marks the
// end of the page sequence.
var ErrPageNotAvailable = errors.New("gazette page not available")

// PageSource fetches raw gazette pages from an upstream provider.
type PageSource interface {
	FetchPage(ctx context.Context, editionDate time.Time, pageNumber int) (domain.RawPage, error)
}

// PublicationRepository is the persisted-store contract owned by the
// surrounding web application. The engine only creates records, looks
// process numbers up, and supplies update snapshots for audit logging.
type PublicationRepository interface {
	FindByProcessNumbers(ctx context.Context, numbers []string) (map[string]domain.Publication, error)
	Create(ctx context.Context, pub domain.Publication) error
	UpdateWithAudit(ctx context.Context, previous, updated domain.Publication) error
}

// ReportSink receives finalized run reports for observability/alerting.
type ReportSink interface {
	Publish(ctx context.Context, report domain.RunReport) error
}

// Scheduler controls when extraction runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(slot domain.Slot, trigger time.Time)) error
	Stop(ctx context.Context) error
}
