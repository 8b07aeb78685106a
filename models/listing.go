package models

import "time"

// DateLayout is the calendar-date format used for query parameters,
// row dates and partition file names.
const DateLayout = "2006-01-02"

// Listing is a rentable unit as returned by the /listings endpoint.
type Listing struct {
	ID string
}

// MetricsRow is one day of performance data for one listing, coerced from
// the API payload into a fixed shape before it is written to Parquet.
// Fields the API sends that have no column are kept in Extra as canonical JSON.
type MetricsRow struct {
	ListingID string `parquet:"listing_id"`
	Date      string `parquet:"date"`

	Value            *float64 `parquet:"value,optional"`
	Price            *float64 `parquet:"price,optional"`
	RecommendedPrice *float64 `parquet:"recommended_price,optional"`
	BasePrice        *float64 `parquet:"base_price,optional"`
	MinPrice         *float64 `parquet:"min_price,optional"`
	MaxPrice         *float64 `parquet:"max_price,optional"`
	Occupancy        *float64 `parquet:"occupancy,optional"`
	ADR              *float64 `parquet:"adr,optional"`
	RevPAR           *float64 `parquet:"revpar,optional"`
	Revenue          *float64 `parquet:"revenue,optional"`

	BookedNights    *int64 `parquet:"booked_nights,optional"`
	AvailableNights *int64 `parquet:"available_nights,optional"`
	MinStay         *int64 `parquet:"min_stay,optional"`

	Currency *string `parquet:"currency,optional"`

	Extra string `parquet:"extra"`
}

// FormatDate renders a target date the way partitions and queries expect it.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}
