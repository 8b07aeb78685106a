package storage

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wheelhouse-etl/models"
)

func sampleSummary() (*models.HealthReport, *models.RunSummary) {
	summary := &models.RunSummary{
		RunID:             "run-1",
		TargetDate:        "2025-07-01",
		Stage:             "done",
		ListingsProcessed: 2,
		PartitionsWritten: 1,
		RowsWritten:       3,
		Failures:          1,
		Outcomes: []models.ListingOutcome{
			{ListingID: "L1", Status: models.OutcomeWritten, Rows: 3, Path: "data/raw/L1/2025-07-01.parquet", Duration: 1500 * time.Millisecond},
			{ListingID: "L2", Status: models.OutcomeFailed, FailureKind: "transient_fetch", Error: "503, then \"gave up\""},
		},
	}
	report := &models.HealthReport{
		RunID:             "run-1",
		Status:            models.HealthDegraded,
		TargetDate:        "2025-07-01",
		Stage:             "done",
		ListingsProcessed: 2,
		PartitionsWritten: 1,
		Failures:          1,
		RowsWritten:       3,
		DurationSeconds:   2.5,
		FailuresByKind:    map[string]int{"transient_fetch": 1},
		FailedListings:    []string{"L2"},
	}
	return report, summary
}

func TestReportWriterWritesAllArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	report, summary := sampleSummary()

	if err := NewReportWriter(dir).Write(report, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, HealthFile))
	if err != nil {
		t.Fatal(err)
	}
	var decoded models.HealthReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("health.json: %v", err)
	}
	if decoded.Status != models.HealthDegraded || decoded.PartitionsWritten != 1 {
		t.Errorf("health.json: got %+v", decoded)
	}

	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("manifest.csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("manifest rows: got %d, want header + 2", len(records))
	}
	if records[1][2] != "L1" || records[1][3] != "written" || records[1][7] != "1500" {
		t.Errorf("manifest L1 row: %v", records[1])
	}
	if records[2][4] != "transient_fetch" || records[2][8] != `503, then "gave up"` {
		t.Errorf("manifest L2 row: %v", records[2])
	}

	prom, err := os.ReadFile(filepath.Join(dir, MetricsFile))
	if err != nil {
		t.Fatal(err)
	}
	text := string(prom)
	for _, want := range []string{
		`wheelhouse_etl_partitions_written{target_date="2025-07-01"} 1`,
		`wheelhouse_etl_failures{target_date="2025-07-01"} 1`,
		`wheelhouse_etl_run_status{status="degraded",target_date="2025-07-01"} 1`,
		`wheelhouse_etl_run_status{status="ok",target_date="2025-07-01"} 0`,
		`wheelhouse_etl_failures_by_kind{kind="transient_fetch",target_date="2025-07-01"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics.prom missing %q", want)
		}
	}
}

func TestReportWriterWithoutSummarySkipsManifest(t *testing.T) {
	dir := t.TempDir()
	report := &models.HealthReport{Status: models.HealthFailed, FatalError: "boom"}

	if err := NewReportWriter(dir).Write(report, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); !os.IsNotExist(err) {
		t.Errorf("manifest should not exist, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, HealthFile)); err != nil {
		t.Errorf("health.json missing: %v", err)
	}
}

func TestReportWriterUnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	report, summary := sampleSummary()
	if err := NewReportWriter(filepath.Join(blocker, "reports")).Write(report, summary); err == nil {
		t.Error("expected an error")
	}
}
