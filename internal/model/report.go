package model

import "time"

// Report is the summary of one fetch run. It separates "47 of 50 chapters
// downloaded" from a total failure.
type Report struct {
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	FailurePolicy string          `json:"failure_policy"`
	ResolveOnly   bool            `json:"resolve_only,omitempty"`
	Counts        Counts          `json:"counts"`
	Agencies      []AgencySummary `json:"agencies"`
	Units         []UnitResult    `json:"units"`
	Titles        []UnitResult    `json:"titles,omitempty"` // full-title documents
	Fatal         string          `json:"fatal,omitempty"`  // error that ended the run early
}

// Counts aggregates unit outcomes across the run
type Counts struct {
	Agencies      int `json:"agencies"`
	References    int `json:"references"`
	Confirmed     int `json:"confirmed"`
	NotApplicable int `json:"not_applicable"`
	Ignored       int `json:"ignored"` // non-chapter, unknown or reserved title references
	Persisted     int `json:"persisted"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	TitleDocs     int `json:"title_documents,omitempty"`
}

// AgencySummary holds per-agency counts
type AgencySummary struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	References    int    `json:"references"`
	Confirmed     int    `json:"confirmed"`
	NotApplicable int    `json:"not_applicable"`
	Persisted     int    `json:"persisted"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	Error         string `json:"error,omitempty"`
}

// UnitStatus is the terminal state of one (agency, chapter) unit
type UnitStatus string

const (
	UnitPersisted UnitStatus = "persisted"
	UnitSkipped   UnitStatus = "skipped"   // 404 or empty document
	UnitConfirmed UnitStatus = "confirmed" // resolve-only runs stop here
	UnitFailed    UnitStatus = "failed"
)

// UnitResult records what happened to one confirmed chapter
type UnitResult struct {
	Agency   string     `json:"agency"`
	Title    int        `json:"title"`
	Chapter  string     `json:"chapter"`
	Label    string     `json:"label,omitempty"` // display label from the ancestry lookup
	AsOf     string     `json:"as_of"`
	Status   UnitStatus `json:"status"`
	Path     string     `json:"path,omitempty"`
	Bytes    int        `json:"bytes,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// RunOutcome classifies a finished run
type RunOutcome string

const (
	OutcomeComplete RunOutcome = "complete"
	OutcomePartial  RunOutcome = "partial"
	OutcomeFailed   RunOutcome = "failed"
)

// Outcome reports whether the run succeeded fully, partially or not at all
func (r *Report) Outcome() RunOutcome {
	failed := r.Fatal != "" || r.Counts.Failed > 0
	for _, a := range r.Agencies {
		if a.Error != "" {
			failed = true
		}
	}
	if !failed {
		return OutcomeComplete
	}
	if r.Counts.Persisted > 0 || (r.ResolveOnly && r.Counts.Confirmed > 0) {
		return OutcomePartial
	}
	return OutcomeFailed
}

// Duration returns the wall time of the run
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
