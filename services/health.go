package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"wheelhouse-etl/models"
	"wheelhouse-etl/utils"
)

// HealthService turns a RunSummary into the report monitoring consumes.
type HealthService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewHealthService(logger *utils.Logger) *HealthService {
	return &HealthService{logger: logger, out: os.Stdout}
}

// WithOutput redirects Print, mainly for tests.
func (s *HealthService) WithOutput(w io.Writer) *HealthService {
	s.out = w
	return s
}

func (s *HealthService) Generate(summary *models.RunSummary) *models.HealthReport {
	report := &models.HealthReport{
		FailuresByKind: make(map[string]int),
		FailedListings: make([]string, 0),
	}
	if summary == nil {
		report.Status = models.HealthFailed
		report.FatalError = "no run summary"
		return report
	}

	report.RunID = summary.RunID
	report.TargetDate = summary.TargetDate
	report.Stage = summary.Stage
	report.ListingsProcessed = summary.ListingsProcessed
	report.PartitionsWritten = summary.PartitionsWritten
	report.Failures = summary.Failures
	report.RowsWritten = summary.RowsWritten
	report.DuplicatesDropped = summary.DuplicatesDropped
	report.DurationSeconds = summary.Duration().Seconds()
	report.FatalError = summary.FatalError
	if !summary.StartedAt.IsZero() {
		report.StartedAt = summary.StartedAt.UTC().Format(time.RFC3339)
	}
	if !summary.FinishedAt.IsZero() {
		report.FinishedAt = summary.FinishedAt.UTC().Format(time.RFC3339)
	}

	for _, o := range summary.Outcomes {
		if o.Status == models.OutcomeWritten {
			continue
		}
		kind := o.FailureKind
		if kind == "" {
			kind = string(o.Status)
		}
		report.FailuresByKind[kind]++
		report.FailedListings = append(report.FailedListings, o.ListingID)
	}
	sort.Strings(report.FailedListings)

	switch {
	case summary.FatalError != "":
		report.Status = models.HealthFailed
	case summary.ListingsProcessed > 0 && summary.Failures >= summary.ListingsProcessed:
		report.Status = models.HealthFailed
	case summary.Failures > 0:
		report.Status = models.HealthDegraded
	default:
		report.Status = models.HealthOK
	}
	return report
}

func (s *HealthService) Print(r *models.HealthReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  WHEELHOUSE ETL RUN %s\033[0m\n", r.TargetDate)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Status             : %s\n", colourStatus(r.Status))
	fmt.Fprintf(w, "  Run id             : %s\n", r.RunID)
	fmt.Fprintf(w, "  Listings processed : \033[1m%d\033[0m\n", r.ListingsProcessed)
	fmt.Fprintf(w, "  Partitions written : \033[1m%d\033[0m\n", r.PartitionsWritten)
	fmt.Fprintf(w, "  Rows written       : \033[1m%d\033[0m\n", r.RowsWritten)
	fmt.Fprintf(w, "  Failures           : \033[1m%d\033[0m\n", r.Failures)
	if r.DuplicatesDropped > 0 {
		fmt.Fprintf(w, "  Duplicate ids      : %d\n", r.DuplicatesDropped)
	}
	fmt.Fprintf(w, "  Duration           : %.1fs\n", r.DurationSeconds)
	fmt.Fprintln(w)

	if r.FatalError != "" {
		fmt.Fprintf(w, "\033[1;31m  Fatal (%s): %s\033[0m\n\n", r.Stage, r.FatalError)
	}

	if len(r.FailuresByKind) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Failures by kind\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)

		type kindCount struct {
			kind  string
			count int
		}
		var kinds []kindCount
		for kind, cnt := range r.FailuresByKind {
			kinds = append(kinds, kindCount{kind, cnt})
		}
		sort.Slice(kinds, func(i, j int) bool {
			if kinds[i].count == kinds[j].count {
				return kinds[i].kind < kinds[j].kind
			}
			return kinds[i].count > kinds[j].count
		})
		for _, kc := range kinds {
			fmt.Fprintf(w, "  %-24s %d\n", kc.kind, kc.count)
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "\033[1;33m  Failed listings\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for i, id := range r.FailedListings {
			if i == 10 {
				fmt.Fprintf(w, "  ... and %d more\n", len(r.FailedListings)-10)
				break
			}
			fmt.Fprintf(w, "  %s\n", truncate(id, 50))
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func colourStatus(status models.HealthStatus) string {
	switch status {
	case models.HealthOK:
		return "\033[1;32mok\033[0m"
	case models.HealthDegraded:
		return "\033[1;33mdegraded\033[0m"
	default:
		return "\033[1;31m" + string(status) + "\033[0m"
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
