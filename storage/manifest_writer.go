package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"wheelhouse-etl/models"
)

var manifestHeader = []string{
	"run_id", "target_date", "listing_id", "status", "failure_kind", "rows", "path", "duration_ms", "error",
}

// WriteManifest writes one CSV row per listing outcome to path, replacing
// any previous manifest. Intermediate directories are created automatically.
func WriteManifest(path string, summary *models.RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		_ = f.Close()
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, o := range summary.Outcomes {
		row := []string{
			summary.RunID,
			summary.TargetDate,
			o.ListingID,
			string(o.Status),
			o.FailureKind,
			strconv.Itoa(o.Rows),
			o.Path,
			strconv.FormatInt(o.Duration.Milliseconds(), 10),
			o.Error,
		}
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("csv: flush: %w", err)
	}
	return f.Close()
}
