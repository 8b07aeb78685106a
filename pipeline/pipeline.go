package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wheelhouse-etl/models"
	"wheelhouse-etl/services"
	"wheelhouse-etl/storage"
	"wheelhouse-etl/utils"
)

// Stage names the step a run is in. A fatal error reports the stage it
// happened in.
type Stage string

const (
	StageStart               Stage = "start"
	StageResolvingDate       Stage = "resolving_date"
	StageDiscoveringListings Stage = "discovering_listings"
	StageProcessingListings  Stage = "processing_listings"
	StageSummarizing         Stage = "summarizing"
	StageDone                Stage = "done"
	StageFailed              Stage = "failed"
)

// Failure kinds recorded on listing outcomes.
const (
	KindTransientFetch = "transient_fetch"
	KindRejectedFetch  = "rejected_fetch"
	KindMalformed      = "malformed_response"
	KindWrite          = "write"
	KindCancelled      = "cancelled"
	KindUnknown        = "unknown"
)

// StageError aborts a run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// DateResolver picks the target date.
type DateResolver interface {
	Resolve(explicit string) (time.Time, error)
}

// ListingSource enumerates listings.
type ListingSource interface {
	ListAllListings(ctx context.Context) ([]models.Listing, error)
}

// MetricsSource fetches one listing-day of rows.
type MetricsSource interface {
	Fetch(ctx context.Context, listing models.Listing, date time.Time) ([]models.MetricsRow, error)
}

type duplicateCounter interface {
	Duplicates() int
}

// Pipeline runs one extraction: resolve the date, discover listings, then
// fetch and write every listing on a bounded worker pool.
type Pipeline struct {
	dates    DateResolver
	listings ListingSource
	metrics  MetricsSource
	writer   storage.PartitionWriter
	logger   *utils.Logger

	concurrency int
	now         func() time.Time
	newRunID    func() string
}

// New wires a Pipeline. Concurrency below one runs listings sequentially.
func New(dates DateResolver, listings ListingSource, metrics MetricsSource, writer storage.PartitionWriter, logger *utils.Logger, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		dates:       dates,
		listings:    listings,
		metrics:     metrics,
		writer:      writer,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		newRunID:    func() string { return uuid.NewString() },
	}
}

// WithClock replaces the clock used for run timestamps and durations.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run executes the pipeline. The returned summary is never nil, even when
// err is a *StageError, so the caller can always report on the run.
func (p *Pipeline) Run(ctx context.Context, explicitDate string) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     p.newRunID(),
		Stage:     string(StageStart),
		StartedAt: p.now(),
	}

	fail := func(stage Stage, err error) (*models.RunSummary, error) {
		summary.Stage = string(StageFailed)
		summary.FatalError = err.Error()
		summary.FinishedAt = p.now()
		p.logger.Error("[pipeline] Run %s failed during %s: %v", summary.RunID, stage, err)
		return summary, &StageError{Stage: stage, Err: err}
	}

	summary.Stage = string(StageResolvingDate)
	date, err := p.dates.Resolve(explicitDate)
	if err != nil {
		return fail(StageResolvingDate, err)
	}
	summary.TargetDate = models.FormatDate(date)
	p.logger.Info("[pipeline] Run %s extracting %s", summary.RunID, summary.TargetDate)

	summary.Stage = string(StageDiscoveringListings)
	listings, err := p.listings.ListAllListings(ctx)
	if err != nil {
		return fail(StageDiscoveringListings, err)
	}
	summary.ListingsDiscovered = len(listings)
	if dc, ok := p.listings.(duplicateCounter); ok {
		summary.DuplicatesDropped = dc.Duplicates()
	}

	summary.Stage = string(StageProcessingListings)
	summary.Outcomes = p.processAll(ctx, listings, date)

	summary.Stage = string(StageSummarizing)
	for _, o := range summary.Outcomes {
		summary.ListingsProcessed++
		if o.Status == models.OutcomeWritten {
			summary.PartitionsWritten++
			summary.RowsWritten += o.Rows
			continue
		}
		summary.Failures++
	}

	if err := ctx.Err(); err != nil {
		p.logger.Warn("[pipeline] Stopped early: %d/%d partitions written", summary.PartitionsWritten, len(listings))
		return fail(StageProcessingListings, err)
	}

	summary.Stage = string(StageDone)
	summary.FinishedAt = p.now()
	p.logger.Info("[pipeline] Done: %d listings, %d partitions, %d rows, %d failures in %s",
		summary.ListingsProcessed, summary.PartitionsWritten, summary.RowsWritten,
		summary.Failures, summary.Duration().Round(time.Millisecond))
	return summary, nil
}

// processAll returns one outcome per listing in discovery order.
func (p *Pipeline) processAll(ctx context.Context, listings []models.Listing, date time.Time) []models.ListingOutcome {
	outcomes := make([]models.ListingOutcome, len(listings))
	pool := utils.NewWorkerPool(p.concurrency)

	for i, listing := range listings {
		i, listing := i, listing
		if !pool.Submit(ctx, func() { outcomes[i] = p.processOne(ctx, listing, date) }) {
			for j := i; j < len(listings); j++ {
				outcomes[j] = models.ListingOutcome{
					ListingID:   listings[j].ID,
					Status:      models.OutcomeCancelled,
					FailureKind: KindCancelled,
					Error:       "not started before the run was cancelled",
				}
			}
			break
		}
	}
	pool.Wait()
	return outcomes
}

func (p *Pipeline) processOne(ctx context.Context, listing models.Listing, date time.Time) models.ListingOutcome {
	start := p.now()
	outcome := models.ListingOutcome{ListingID: listing.ID}
	done := func(err error) models.ListingOutcome {
		outcome.Duration = p.now().Sub(start)
		if err == nil {
			outcome.Status = models.OutcomeWritten
			return outcome
		}
		outcome.Status = models.OutcomeFailed
		outcome.FailureKind = failureKind(err)
		if outcome.FailureKind == KindCancelled {
			outcome.Status = models.OutcomeCancelled
		}
		outcome.Error = err.Error()
		p.logger.Warn("[pipeline] Listing %s failed (%s): %v", listing.ID, outcome.FailureKind, err)
		return outcome
	}

	rows, err := p.metrics.Fetch(ctx, listing, date)
	if err != nil {
		return done(err)
	}
	path, err := p.writer.Write(listing, date, rows)
	if err != nil {
		return done(err)
	}
	outcome.Rows = len(rows)
	outcome.Path = path
	p.logger.Debug("[pipeline] Listing %s: %d rows -> %s", listing.ID, len(rows), path)
	return done(nil)
}

func failureKind(err error) string {
	var (
		transient *services.TransientFetchError
		rejected  *services.RejectedFetchError
		malformed *services.MalformedResponseError
		write     *storage.WriteError
	)
	switch {
	case errors.As(err, &transient):
		return KindTransientFetch
	case errors.As(err, &rejected):
		return KindRejectedFetch
	case errors.As(err, &malformed):
		return KindMalformed
	case errors.As(err, &write):
		return KindWrite
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return KindUnknown
}
