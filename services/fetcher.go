package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"wheelhouse-etl/models"
	"wheelhouse-etl/utils"
	"wheelhouse-etl/wheelhouse"
)

// MetricsFetcher retrieves one listing's metrics for one day.
type MetricsFetcher struct {
	api    PageSource
	logger *utils.Logger
}

// NewMetricsFetcher creates a MetricsFetcher backed by api.
func NewMetricsFetcher(api PageSource, logger *utils.Logger) *MetricsFetcher {
	return &MetricsFetcher{api: api, logger: logger}
}

// MetricsPath is the per-listing metrics endpoint.
func MetricsPath(listingID string) string {
	return "/listings/" + url.PathEscape(listingID) + "/metrics"
}

// Fetch returns the listing's rows for date. No rows is a valid result.
func (f *MetricsFetcher) Fetch(ctx context.Context, listing models.Listing, date time.Time) ([]models.MetricsRow, error) {
	if err := checkListingID(listing.ID); err != nil {
		return nil, &RejectedFetchError{ListingID: listing.ID, Err: err}
	}

	day := models.FormatDate(date)
	query := url.Values{
		"start_date": {day},
		"end_date":   {day},
	}

	var items []json.RawMessage
	pager := f.api.GetPaginated(ctx, MetricsPath(listing.ID), query)
	for pager.Next() {
		items = append(items, pager.Page().Items...)
	}
	if err := pager.Err(); err != nil {
		return nil, classifyFetchError(ctx, listing.ID, err)
	}

	rows, err := CoerceRows(listing.ID, date, items)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("[fetcher] Listing %s: %d rows for %s", listing.ID, len(rows), day)
	return rows, nil
}

// checkListingID rejects ids that would not stay one path segment once the
// request URL is resolved.
func checkListingID(id string) error {
	switch strings.TrimSpace(id) {
	case "":
		return errors.New("empty listing id")
	case ".", "..":
		return fmt.Errorf("listing id %q is not a valid path segment", id)
	}
	return nil
}

// classifyFetchError maps a client error onto the failure taxonomy. When the
// run's own context has ended the context error is returned as is, even if
// the transport reported it as a timeout.
func classifyFetchError(ctx context.Context, listingID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("listing %s: %w", listingID, ctxErr)
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if !wheelhouse.IsTransient(err) {
			return err
		}
		return &TransientFetchError{ListingID: listingID, Err: err}
	case errors.Is(err, wheelhouse.ErrMalformedJSON) || errors.Is(err, wheelhouse.ErrPaginationLoop) || errors.Is(err, wheelhouse.ErrForeignLink):
		return &MalformedResponseError{ListingID: listingID, Err: err}
	case errors.Is(err, utils.ErrRetriesExhausted) || wheelhouse.IsTransient(err):
		return &TransientFetchError{ListingID: listingID, Err: err}
	default:
		return &RejectedFetchError{ListingID: listingID, Err: err}
	}
}
