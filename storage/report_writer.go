package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"wheelhouse-etl/models"
)

const (
	HealthFile   = "health.json"
	ManifestFile = "manifest.csv"
	MetricsFile  = "metrics.prom"
)

// ReportWriter writes the health artifacts of a run into one directory:
// health.json, manifest.csv and a Prometheus textfile (metrics.prom).
type ReportWriter struct {
	dir string
}

func NewReportWriter(dir string) *ReportWriter {
	return &ReportWriter{dir: dir}
}

// Dir is the directory artifacts are written to.
func (r *ReportWriter) Dir() string {
	return r.dir
}

// Write persists every artifact, continuing past individual failures.
func (r *ReportWriter) Write(report *models.HealthReport, summary *models.RunSummary) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("report: create dir: %w", err)
	}

	var errs []error
	if err := r.writeHealth(report); err != nil {
		errs = append(errs, err)
	}
	if summary != nil {
		if err := WriteManifest(filepath.Join(r.dir, ManifestFile), summary); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.writeMetrics(report); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *ReportWriter) writeHealth(report *models.HealthReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode health: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(r.dir, HealthFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("report: write health: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("report: write health: %w", err)
	}
	return nil
}

func (r *ReportWriter) writeMetrics(report *models.HealthReport) error {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"target_date": report.TargetDate}

	gauge := func(name, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wheelhouse_etl",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		g.Set(value)
		reg.MustRegister(g)
	}

	gauge("listings_processed", "Listings attempted in the last run.", float64(report.ListingsProcessed))
	gauge("partitions_written", "Partitions written in the last run.", float64(report.PartitionsWritten))
	gauge("failures", "Listings that failed in the last run.", float64(report.Failures))
	gauge("rows_written", "Metric rows written in the last run.", float64(report.RowsWritten))
	gauge("duplicates_dropped", "Duplicate listing ids dropped during discovery.", float64(report.DuplicatesDropped))
	gauge("run_duration_seconds", "Wall-clock duration of the last run.", report.DurationSeconds)

	status := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   "wheelhouse_etl",
		Name:        "run_status",
		Help:        "1 for the status of the last run, 0 otherwise.",
		ConstLabels: labels,
	}, []string{"status"})
	for _, s := range []models.HealthStatus{models.HealthOK, models.HealthDegraded, models.HealthFailed} {
		v := 0.0
		if report.Status == s {
			v = 1
		}
		status.WithLabelValues(string(s)).Set(v)
	}
	reg.MustRegister(status)

	byKind := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   "wheelhouse_etl",
		Name:        "failures_by_kind",
		Help:        "Failed listings in the last run by failure kind.",
		ConstLabels: labels,
	}, []string{"kind"})
	for kind, n := range report.FailuresByKind {
		byKind.WithLabelValues(kind).Set(float64(n))
	}
	reg.MustRegister(byKind)

	if err := prometheus.WriteToTextfile(filepath.Join(r.dir, MetricsFile), reg); err != nil {
		return fmt.Errorf("report: write metrics: %w", err)
	}
	return nil
}
