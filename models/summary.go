package models

import "time"

// OutcomeStatus is the terminal state of one listing within a run.
type OutcomeStatus string

const (
	OutcomeWritten   OutcomeStatus = "written"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// ListingOutcome records what happened to a single listing.
type ListingOutcome struct {
	ListingID   string
	Status      OutcomeStatus
	FailureKind string
	Rows        int
	Path        string
	Error       string
	Duration    time.Duration
}

// RunSummary is produced once per pipeline invocation and handed to the
// reporting step. It is never persisted by the pipeline itself.
type RunSummary struct {
	RunID      string
	TargetDate string
	Stage      string

	ListingsDiscovered int
	DuplicatesDropped  int
	ListingsProcessed  int
	PartitionsWritten  int
	RowsWritten        int
	Failures           int

	StartedAt  time.Time
	FinishedAt time.Time

	Outcomes   []ListingOutcome
	FatalError string
}

// Duration is the wall-clock time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
