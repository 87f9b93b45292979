package domain

import "time"

// Slot identifies which of the two daily triggers produced a run.
type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	// SlotManual marks runs started outside the scheduler (CLI, tests).
	SlotManual Slot = "manual"
)

// RunError records one isolated unit failure inside a run.
type RunError struct {
	Page    int    `json:"page,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// RunReport is the sole externally observed artifact of a run. It is
// finalized exactly once and never mutated afterwards.
type RunReport struct {
	RunID                 string     `json:"run_id"`
	Slot                  Slot       `json:"slot"`
	EditionDate           time.Time  `json:"edition_date"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            time.Time  `json:"finished_at"`
	PagesProcessed        int        `json:"pages_processed"`
	PagesNoise            int        `json:"pages_noise"`
	PublicationsFound     int        `json:"publications_found"`
	PublicationsNew       int        `json:"publications_new"`
	PublicationsDuplicate int        `json:"publications_duplicate"`
	PublicationsUpdated   int        `json:"publications_updated"`
	Aborted               bool       `json:"aborted"`
	Errors                []RunError `json:"errors"`
}

// AddError appends a unit failure; page may be zero when the failure is
// not tied to a single page.
func (r *RunReport) AddError(page int, stage, message string) {
	r.Errors = append(r.Errors, RunError{Page: page, Stage: stage, Message: message})
}
