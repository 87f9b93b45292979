package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/ports"
)

// WebhookSink posts finalized run reports as JSON to an HTTP endpoint
// for the observability/alerting collaborators.
type WebhookSink struct {
	endpoint string
	client   *http.Client
}

var _ ports.ReportSink = (*WebhookSink)(nil)

// NewWebhookSink registers the target endpoint.
func NewWebhookSink(endpoint string) *WebhookSink {
	return &WebhookSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Publish delivers one report. Delivery failures are the caller's to
// log; a report is never a reason to fail its run.
func (w *WebhookSink) Publish(ctx context.Context, rep domain.RunReport) error {
	if w.endpoint == "" || w.client == nil {
		return fmt.Errorf("report webhook misconfigured")
	}

	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("report webhook error: %s", resp.Status)
	}

	return nil
}
