package storage

import (
	"time"

	"wheelhouse-etl/models"
)

// PartitionWriter is the interface any partition backend must satisfy.
type PartitionWriter interface {
	// Write replaces the partition for (listing, date) with rows and
	// returns its final path.
	Write(listing models.Listing, date time.Time, rows []models.MetricsRow) (string, error)
}

// ArtifactWriter persists the end-of-run health artifacts.
type ArtifactWriter interface {
	Write(report *models.HealthReport, summary *models.RunSummary) error
}
