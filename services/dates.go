package services

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"wheelhouse-etl/models"
)

// ReferenceTimezone is the zone "yesterday" is computed in, regardless of
// where the pipeline runs.
const ReferenceTimezone = "America/Chicago"

// DateResolver picks the calendar date a run extracts.
type DateResolver struct {
	loc *time.Location
	now func() time.Time
}

// NewDateResolver loads the reference timezone. A nil now uses time.Now.
func NewDateResolver(now func() time.Time) (*DateResolver, error) {
	loc, err := time.LoadLocation(ReferenceTimezone)
	if err != nil {
		return nil, fmt.Errorf("dates: load %s: %w", ReferenceTimezone, err)
	}
	if now == nil {
		now = time.Now
	}
	return &DateResolver{loc: loc, now: now}, nil
}

// Resolve returns explicit parsed as YYYY-MM-DD, or yesterday in the
// reference timezone when explicit is empty. The result is midnight UTC on
// the chosen calendar date.
func (r *DateResolver) Resolve(explicit string) (time.Time, error) {
	if explicit != "" {
		d, err := time.Parse(models.DateLayout, strings.TrimSpace(explicit))
		if err != nil {
			return time.Time{}, &InvalidDateError{Input: explicit, Err: err}
		}
		return d, nil
	}

	local := r.now().In(r.loc)
	y, m, d := local.AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
