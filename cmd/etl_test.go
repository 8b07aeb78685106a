package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/parquet-go/parquet-go"

	"wheelhouse-etl/config"
	"wheelhouse-etl/models"
	"wheelhouse-etl/pipeline"
)

func setupEnv(t *testing.T, baseURL string) (out, reports string) {
	t.Helper()
	out = t.TempDir()
	reports = filepath.Join(t.TempDir(), "artifacts")
	t.Setenv("WHEELHOUSE_BASE_URL", baseURL)
	t.Setenv("WHEELHOUSE_API_KEY", "secret")
	t.Setenv("OUTPUT_ROOT", out)
	t.Setenv("REPORT_DIR", reports)
	t.Setenv("RATE_LIMIT_PER_SEC", "0")
	t.Setenv("RETRY_BASE_DELAY_MS", "1")
	t.Setenv("RETRY_MAX_DELAY_MS", "5")
	t.Setenv("MAX_RETRIES", "3")
	return out, reports
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&buf)
	root.SetErr(&buf)
	err := root.Execute()
	return buf.String(), err
}

func readHealth(t *testing.T, dir string) models.HealthReport {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "health.json"))
	if err != nil {
		t.Fatalf("health.json: %v", err)
	}
	var r models.HealthReport
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("health.json: %v", err)
	}
	return r
}

func TestETLEndToEnd(t *testing.T) {
	var throttled int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/listings":
			_, _ = w.Write([]byte(`[{"id":"L1"},{"id":"L2"}]`))
		case "/listings/L1/metrics":
			if atomic.AddInt32(&throttled, 1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{"data":[
				{"date":"2025-07-01","value":100},
				{"date":"2025-07-01","value":200},
				{"date":"2025-07-01","value":300}
			]}`))
		case "/listings/L2/metrics":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	out, reports := setupEnv(t, srv.URL)

	logs, err := execute(t, "etl", "--date", "2025-07-01", "--concurrency", "2")
	if err != nil {
		t.Fatalf("etl failed: %v\n%s", err, logs)
	}

	l1, err := parquet.ReadFile[models.MetricsRow](filepath.Join(out, "data", "raw", "L1", "2025-07-01.parquet"))
	if err != nil {
		t.Fatalf("L1 partition: %v", err)
	}
	if len(l1) != 3 {
		t.Errorf("L1 rows: got %d, want 3", len(l1))
	}
	l2, err := parquet.ReadFile[models.MetricsRow](filepath.Join(out, "data", "raw", "L2", "2025-07-01.parquet"))
	if err != nil {
		t.Fatalf("L2 partition: %v", err)
	}
	if len(l2) != 0 {
		t.Errorf("L2 rows: got %d, want 0", len(l2))
	}

	h := readHealth(t, reports)
	if h.Status != models.HealthOK || h.ListingsProcessed != 2 || h.PartitionsWritten != 2 || h.Failures != 0 {
		t.Errorf("health: %+v", h)
	}
	if throttled < 2 {
		t.Errorf("expected the throttled request to be retried")
	}
	for _, name := range []string{"manifest.csv", "metrics.prom"} {
		if _, err := os.Stat(filepath.Join(reports, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestETLListingFailureStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/listings":
			_, _ = w.Write([]byte(`{"results":["A","B"]}`))
		case "/listings/A/metrics":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()
	out, reports := setupEnv(t, srv.URL)

	if logs, err := execute(t, "etl", "--date", "2025-07-01"); err != nil {
		t.Fatalf("per-listing failure must not fail the run: %v\n%s", err, logs)
	}
	if _, err := os.Stat(filepath.Join(out, "data", "raw", "A", "2025-07-01.parquet")); !os.IsNotExist(err) {
		t.Errorf("failed listing must not leave a partition, stat err = %v", err)
	}
	h := readHealth(t, reports)
	if h.Status != models.HealthDegraded || h.FailuresByKind[pipeline.KindTransientFetch] != 1 {
		t.Errorf("health: %+v", h)
	}
}

func TestETLDiscoveryFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	_, reports := setupEnv(t, srv.URL)

	_, err := execute(t, "etl", "--date", "2025-07-01")
	var se *pipeline.StageError
	if !errors.As(err, &se) || se.Stage != pipeline.StageDiscoveringListings {
		t.Fatalf("expected discovery StageError, got %v", err)
	}
	if h := readHealth(t, reports); h.Status != models.HealthFailed {
		t.Errorf("health status: got %s", h.Status)
	}
}

func TestETLInvalidDate(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")

	_, err := execute(t, "etl", "--date", "07/01/2025")
	var se *pipeline.StageError
	if !errors.As(err, &se) || se.Stage != pipeline.StageResolvingDate {
		t.Fatalf("expected date StageError, got %v", err)
	}
}

func TestETLMissingBaseURL(t *testing.T) {
	setupEnv(t, "")

	_, err := execute(t, "etl")
	if !errors.Is(err, config.ErrMissingBaseURL) {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
}
