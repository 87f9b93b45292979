package extractor

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"GazetteScanner/internal/domain"
)

// Required-field failures. Field absence is otherwise never an error:
// optional fields stay unset and at most lower the record's confidence.
var (
	ErrMissingProcessNumber    = errors.New("no process number in publication text")
	ErrMissingAvailabilityDate = errors.New("no availability date in publication text")
)

var (
	processNumberExpr  = regexp.MustCompile(`\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}`)
	dateExpr          = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)
	amountExpr        = regexp.MustCompile(`R\$\s*([\d.]*\d,\d{2}|\d+)`)
	authorsLabelExpr  = regexp.MustCompile(`(?i)requerentes?\s*:\s*(.*?)(?:\s+-\s|\n|$)`)
	defendantLabelExpr = regexp.MustCompile(`(?i)requerid[oa]s?\s*:\s*(.*?)(?:\s+-\s|\n|$)`)
	lawyerExpr        = regexp.MustCompile(`([\p{Lu}][\p{L}\s.']+?)\s*\(OAB\s*([\d.]+/[A-Z]{2})\)`)

	availabilityLabelExpr = regexp.MustCompile(`(?i)disponibiliza[çc][ãa]o`)
	publicationLabelExpr  = regexp.MustCompile(`(?i)publica[çc][ãa]o`)
	grossLabelExpr        = regexp.MustCompile(`(?i)principal\s+bruto`)
	netLabelExpr          = regexp.MustCompile(`(?i)l[íi]quido`)
	interestLabelExpr     = regexp.MustCompile(`(?i)juros\s+morat[óo]rios`)
	feesLabelExpr         = regexp.MustCompile(`(?i)honor[áa]rios\s+advocat[íi]cios`)
)

// labelWindow bounds how far from a section label a value token may sit.
const labelWindow = 120

// Extractor turns merged publication text into a structured record by
// applying its pattern rules in a fixed precedence order. Each rule
// either matches and fills a typed field or no-ops; a rule that finds
// nothing is absence, not an error.
type Extractor struct {
	defaultDefendant string
	logger           *slog.Logger
	rules            []rule
}

type rule struct {
	name string
	// expected marks fields whose absence lowers the record's
	// confidence without failing the extraction.
	expected bool
	apply    func(text string, pub *domain.Publication) bool
}

// New builds an extractor with the configured default defendant (the
// gazette is overwhelmingly single-defendant government litigation).
func New(defaultDefendant string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{defaultDefendant: defaultDefendant, logger: logger}
	e.rules = []rule{
		{name: "process_number", apply: applyProcessNumber},
		{name: "availability_date", apply: applyAvailabilityDate},
		{name: "publication_date", apply: applyPublicationDate},
		{name: "authors", expected: true, apply: applyAuthors},
		{name: "defendant", apply: e.applyDefendant},
		{name: "lawyers", expected: true, apply: applyLawyers},
		{name: "gross_value", expected: true, apply: moneyRule(grossLabelExpr, func(p *domain.Publication, v int64) { p.GrossValue = &v })},
		{name: "net_value", expected: true, apply: moneyRule(netLabelExpr, func(p *domain.Publication, v int64) { p.NetValue = &v })},
		{name: "interest_value", apply: moneyRule(interestLabelExpr, func(p *domain.Publication, v int64) { p.InterestValue = &v })},
		{name: "attorney_fees", apply: moneyRule(feesLabelExpr, func(p *domain.Publication, v int64) { p.AttorneyFees = &v })},
	}
	return e
}

// Extract structures one merged publication. A force-closed fragment or
// any unmatched expected field yields a low-confidence record, still
// emitted so a reviewer can adjudicate it downstream.
func (e *Extractor) Extract(merged domain.MergedText) (domain.Publication, error) {
	pub := domain.Publication{
		Content:       strings.TrimSpace(merged.Text),
		StartPage:     merged.StartPage,
		EndPage:       merged.EndPage,
		LowConfidence: merged.ForcedClose,
	}

	for _, r := range e.rules {
		if !r.apply(merged.Text, &pub) && r.expected {
			pub.LowConfidence = true
			e.logger.Debug("expected field did not match", "rule", r.name,
				"start_page", merged.StartPage)
		}
	}

	if pub.ProcessNumber == "" {
		return domain.Publication{}, ErrMissingProcessNumber
	}
	if pub.AvailabilityDate.IsZero() {
		return domain.Publication{}, ErrMissingAvailabilityDate
	}

	return pub, nil
}

func applyProcessNumber(text string, pub *domain.Publication) bool {
	match := processNumberExpr.FindString(text)
	if match == "" {
		return false
	}
	pub.ProcessNumber = strings.TrimSpace(match)
	return true
}

func applyAvailabilityDate(text string, pub *domain.Publication) bool {
	date, ok := dateNear(text, availabilityLabelExpr)
	if !ok {
		return false
	}
	pub.AvailabilityDate = date
	return true
}

func applyPublicationDate(text string, pub *domain.Publication) bool {
	date, ok := dateNear(text, publicationLabelExpr)
	if !ok {
		return false
	}
	pub.PublicationDate = &date
	return true
}

// applyAuthors collects name tokens after the requerente label,
// order-preserving and deduplicated within the record.
func applyAuthors(text string, pub *domain.Publication) bool {
	m := authorsLabelExpr.FindStringSubmatch(text)
	if m == nil {
		return false
	}

	seen := map[string]struct{}{}
	for _, part := range splitNames(m[1]) {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		pub.Authors = append(pub.Authors, name)
	}
	return len(pub.Authors) > 0
}

func (e *Extractor) applyDefendant(text string, pub *domain.Publication) bool {
	if m := defendantLabelExpr.FindStringSubmatch(text); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			pub.Defendant = name
			return true
		}
	}
	pub.Defendant = e.defaultDefendant
	return true
}

func applyLawyers(text string, pub *domain.Publication) bool {
	for _, m := range lawyerExpr.FindAllStringSubmatch(text, -1) {
		pub.Lawyers = append(pub.Lawyers, domain.Lawyer{
			Name:         strings.TrimSpace(m[1]),
			Registration: m[2],
		})
	}
	return len(pub.Lawyers) > 0
}

func moneyRule(label *regexp.Regexp, set func(*domain.Publication, int64)) func(string, *domain.Publication) bool {
	return func(text string, pub *domain.Publication) bool {
		value, ok := amountNear(text, label)
		if !ok {
			return false
		}
		set(pub, value)
		return true
	}
}

// dateNear finds the date-shaped token nearest to a recognized section
// label. Dates follow their labels ("Disponibilização: 10/03/2024").
func dateNear(text string, label *regexp.Regexp) (time.Time, bool) {
	token, ok := searchNear(text, label, dateExpr, true)
	if !ok {
		return time.Time{}, false
	}
	date, err := time.ParseInLocation("02/01/2006", token, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// amountNear finds the currency token nearest to a recognized section
// label, converted to integer minor units. Amounts precede their labels
// ("R$ 100,00 - juros moratórios").
func amountNear(text string, label *regexp.Regexp) (int64, bool) {
	token, ok := searchNear(text, label, amountExpr, false)
	if !ok {
		return 0, false
	}
	return ParseMoney(token)
}

// searchNear locates the label and returns the value token nearest to it
// within the window, looking on the conventional side first and falling
// back to the other.
func searchNear(text string, label, value *regexp.Regexp, preferAfter bool) (string, bool) {
	loc := label.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	lo := loc[0] - labelWindow
	if lo < 0 {
		lo = 0
	}
	hi := loc[1] + labelWindow
	if hi > len(text) {
		hi = len(text)
	}
	before := text[lo:loc[0]]
	after := text[loc[1]:hi]

	pick := func(segment string, last bool) (string, bool) {
		matches := value.FindAllStringSubmatchIndex(segment, -1)
		if len(matches) == 0 {
			return "", false
		}
		m := matches[0]
		if last {
			m = matches[len(matches)-1]
		}
		if len(m) >= 4 && m[2] >= 0 {
			return segment[m[2]:m[3]], true
		}
		return segment[m[0]:m[1]], true
	}

	if preferAfter {
		if token, ok := pick(after, false); ok {
			return token, true
		}
		return pick(before, true)
	}
	if token, ok := pick(before, true); ok {
		return token, true
	}
	return pick(after, false)
}

// ParseMoney converts a Brazilian currency token ("1.234,56") into
// integer minor units (123456). Never floating point.
func ParseMoney(token string) (int64, bool) {
	token = strings.TrimSpace(token)
	token = strings.ReplaceAll(token, ".", "")

	reais := token
	centavos := "00"
	if i := strings.IndexByte(token, ','); i >= 0 {
		reais, centavos = token[:i], token[i+1:]
		if len(centavos) != 2 {
			return 0, false
		}
	}
	if reais == "" {
		reais = "0"
	}

	var total int64
	for _, digits := range []string{reais, centavos} {
		for _, r := range digits {
			if r < '0' || r > '9' {
				return 0, false
			}
			total = total*10 + int64(r-'0')
		}
	}
	return total, true
}

func splitNames(raw string) []string {
	raw = strings.NewReplacer(";", "\x00", " e ", "\x00", ",", "\x00").Replace(raw)
	return strings.Split(raw, "\x00")
}
