package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/gazette"
	"GazetteScanner/internal/ports"
)

const defaultContentSelector = "#divConteudosPagina"

// DJESource fetches pages of the electronic justice gazette. Each page
// is served as an HTML viewer document; the publication text lives in a
// content container whose selector can be overridden per gazette via the
// "selector" option.
type DJESource struct {
	client *http.Client
}

var _ gazette.Source = (*DJESource)(nil)

// NewDJESource wires an HTTP client; a nil client gets a 20s timeout default.
func NewDJESource(client *http.Client) *DJESource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &DJESource{client: client}
}

// Name identifies the strategy inside the registry.
func (d *DJESource) Name() string {
	return "dje"
}

// FetchPage downloads one page and strips it to plain text. A 404 or an
// empty content container signals the end of the edition's page sequence.
func (d *DJESource) FetchPage(ctx context.Context, req gazette.Request) (domain.RawPage, error) {
	pageURL, err := buildPageURL(req.BaseURL, req.EditionDate, req.PageNumber)
	if err != nil {
		return domain.RawPage{}, fmt.Errorf("gazette %s: %w", req.GazetteName, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.RawPage{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "GazetteScanner/1.0")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return domain.RawPage{}, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.RawPage{}, ports.ErrPageNotAvailable
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RawPage{}, fmt.Errorf("gazette returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return domain.RawPage{}, fmt.Errorf("parse page document: %w", err)
	}

	selector := req.Options["selector"]
	if selector == "" {
		selector = defaultContentSelector
	}

	text := doc.Find(selector).Text()
	if strings.TrimSpace(text) == "" {
		// Some deployments render past-the-end pages as an empty viewer
		// instead of a 404.
		return domain.RawPage{}, ports.ErrPageNotAvailable
	}

	return domain.RawPage{
		EditionDate: req.EditionDate,
		PageNumber:  req.PageNumber,
		Text:        text,
	}, nil
}

func buildPageURL(base string, editionDate time.Time, pageNumber int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gazette url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("dtDiario", editionDate.Format("02/01/2006"))
	query.Set("nuSeqpagina", strconv.Itoa(pageNumber))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
