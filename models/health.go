package models

// HealthStatus classifies a run for external monitoring.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthFailed   HealthStatus = "failed"
)

// HealthReport is the artifact surfaced to monitoring after every run.
type HealthReport struct {
	RunID             string         `json:"run_id"`
	Status            HealthStatus   `json:"status"`
	TargetDate        string         `json:"target_date"`
	Stage             string         `json:"stage"`
	ListingsProcessed int            `json:"listings"`
	PartitionsWritten int            `json:"written"`
	Failures          int            `json:"failures"`
	RowsWritten       int            `json:"rows"`
	DuplicatesDropped int            `json:"duplicates_dropped"`
	DurationSeconds   float64        `json:"duration_seconds"`
	FailuresByKind    map[string]int `json:"failures_by_kind"`
	FailedListings    []string       `json:"failed_listings"`
	FatalError        string         `json:"fatal_error,omitempty"`
	StartedAt         string         `json:"started_at"`
	FinishedAt        string         `json:"finished_at"`
}
