package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"wheelhouse-etl/models"
)

// WriteError is a failure to persist one listing's partition.
type WriteError struct {
	ListingID string
	Path      string
	Op        string
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("parquet: %s %q (listing %s): %v", e.Op, e.Path, e.ListingID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ParquetPartitionWriter writes one Parquet file per (listing, date) under
// {root}/data/raw/{listing_id}/{YYYY-MM-DD}.parquet. Each write goes to a
// temporary file in the destination directory and is renamed into place,
// so readers see either the previous partition or the complete new one.
type ParquetPartitionWriter struct {
	root   string
	rename func(oldpath, newpath string) error
}

// NewParquetPartitionWriter creates a writer rooted at root.
func NewParquetPartitionWriter(root string) *ParquetPartitionWriter {
	if root == "" {
		root = "."
	}
	return &ParquetPartitionWriter{root: root, rename: os.Rename}
}

// Path returns the partition location for listingID on date.
func (w *ParquetPartitionWriter) Path(listingID string, date time.Time) string {
	return filepath.Join(w.root, "data", "raw", listingID, models.FormatDate(date)+".parquet")
}

func (w *ParquetPartitionWriter) Write(listing models.Listing, date time.Time, rows []models.MetricsRow) (string, error) {
	if err := validateSegment(listing.ID); err != nil {
		return "", &WriteError{ListingID: listing.ID, Op: "validate listing id", Err: err}
	}

	final := w.Path(listing.ID, date)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{ListingID: listing.ID, Path: dir, Op: "create dir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return "", &WriteError{ListingID: listing.ID, Path: dir, Op: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	pw := parquet.NewGenericWriter[models.MetricsRow](tmp, parquet.Compression(&parquet.Snappy))
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return "", &WriteError{ListingID: listing.ID, Path: tmpPath, Op: "write rows", Err: err}
		}
	}
	if err := pw.Close(); err != nil {
		return "", &WriteError{ListingID: listing.ID, Path: tmpPath, Op: "finalise parquet", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return "", &WriteError{ListingID: listing.ID, Path: tmpPath, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &WriteError{ListingID: listing.ID, Path: tmpPath, Op: "close", Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return "", &WriteError{ListingID: listing.ID, Path: tmpPath, Op: "chmod", Err: err}
	}
	if err := w.rename(tmpPath, final); err != nil {
		return "", &WriteError{ListingID: listing.ID, Path: final, Op: "rename", Err: err}
	}
	committed = true

	syncDir(dir)
	return final, nil
}

// validateSegment rejects ids that would escape or nest the listing directory.
func validateSegment(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("empty listing id")
	case id == "." || id == "..":
		return fmt.Errorf("listing id %q is not a valid directory name", id)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("listing id %q contains a path separator", id)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
