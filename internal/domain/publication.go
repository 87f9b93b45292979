package domain

import "time"

// RawPage is the text of one gazette page, keyed by edition date and page number.
// Immutable once stored; the fetch adapter produces it.
type RawPage struct {
	EditionDate time.Time
	PageNumber  int
	Text        string
}

// PendingFragment is a publication candidate cut off at a page boundary,
// waiting for its continuation on a following page.
type PendingFragment struct {
	EditionDate  time.Time
	StartPage    int
	Text         string
	OpenedAt     time.Time
	PagesSpanned int
}

// MergedText is the page-boundary-resolved full text of one publication.
type MergedText struct {
	EditionDate time.Time
	StartPage   int
	EndPage     int
	Text        string
	ForcedClose bool
}

// Lawyer is a name plus bar-registration id. Lawyers are kept in source
// order and never deduplicated: distinct lawyers may share a name.
type Lawyer struct {
	Name         string `json:"name"`
	Registration string `json:"registration"`
}

// Publication is the structured record extracted from one gazette entry.
// ProcessNumber, in normalized form, is the sole identity key. Monetary
// fields hold integer minor units (centavos); nil means the field was
// absent in the source, which is distinct from an explicit zero.
type Publication struct {
	ProcessNumber    string     `json:"process_number"`
	PublicationDate  *time.Time `json:"publication_date,omitempty"`
	AvailabilityDate time.Time  `json:"availability_date"`
	Authors          []string   `json:"authors"`
	Defendant        string     `json:"defendant"`
	Lawyers          []Lawyer   `json:"lawyers"`
	GrossValue       *int64     `json:"gross_value,omitempty"`
	NetValue         *int64     `json:"net_value,omitempty"`
	InterestValue    *int64     `json:"interest_value,omitempty"`
	AttorneyFees     *int64     `json:"attorney_fees,omitempty"`
	Content          string     `json:"content"`
	StartPage        int        `json:"start_page"`
	EndPage          int        `json:"end_page"`
	LowConfidence    bool       `json:"low_confidence"`
}

// NormalizeProcessNumber strips everything but digits from a process
// number so incidental separator and whitespace variants collapse to one
// identity key.
func NormalizeProcessNumber(raw string) string {
	var b []byte
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			b = append(b, raw[i])
		}
	}
	return string(b)
}

// Key returns the publication's identity key.
func (p Publication) Key() string {
	return NormalizeProcessNumber(p.ProcessNumber)
}

// ContentEquals reports whether two publications carry the same extracted
// data. Confidence and provenance are excluded: a re-listing on a later
// edition page is still the same record.
func (p Publication) ContentEquals(other Publication) bool {
	if p.Key() != other.Key() ||
		!p.AvailabilityDate.Equal(other.AvailabilityDate) ||
		p.Defendant != other.Defendant ||
		p.Content != other.Content {
		return false
	}
	if !timePtrEqual(p.PublicationDate, other.PublicationDate) {
		return false
	}
	if !int64PtrEqual(p.GrossValue, other.GrossValue) ||
		!int64PtrEqual(p.NetValue, other.NetValue) ||
		!int64PtrEqual(p.InterestValue, other.InterestValue) ||
		!int64PtrEqual(p.AttorneyFees, other.AttorneyFees) {
		return false
	}
	if len(p.Authors) != len(other.Authors) {
		return false
	}
	for i := range p.Authors {
		if p.Authors[i] != other.Authors[i] {
			return false
		}
	}
	if len(p.Lawyers) != len(other.Lawyers) {
		return false
	}
	for i := range p.Lawyers {
		if p.Lawyers[i] != other.Lawyers[i] {
			return false
		}
	}
	return true
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Status enumerates the workflow states owned by the external store.
// The engine only ever creates records as StatusNew; transitions are a
// manual workflow action outside this core.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusRead      Status = "READ"
	StatusProcessed Status = "PROCESSED"
)
