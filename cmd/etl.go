package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"wheelhouse-etl/config"
	"wheelhouse-etl/pipeline"
	"wheelhouse-etl/services"
	"wheelhouse-etl/storage"
	"wheelhouse-etl/utils"
	"wheelhouse-etl/wheelhouse"
)

type etlOptions struct {
	date        string
	output      string
	reportDir   string
	concurrency int
	timeout     time.Duration
}

func newETLCmd() *cobra.Command {
	opts := &etlOptions{}
	c := &cobra.Command{
		Use:   "etl",
		Short: "Extract one day of metrics for every listing into Parquet partitions",
		Long: `Discovers every listing, fetches its metrics for the target date and
writes data/raw/{listing_id}/{YYYY-MM-DD}.parquet under the output root.
Without --date the target is yesterday in America/Chicago.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runETL(cmd, opts)
		},
	}

	f := c.Flags()
	f.StringVar(&opts.date, "date", "", "target date as YYYY-MM-DD (default: yesterday in America/Chicago)")
	f.StringVar(&opts.output, "output", "", "output root for data/raw partitions (default: OUTPUT_ROOT)")
	f.StringVar(&opts.reportDir, "report-dir", "", "directory for health.json, manifest.csv and metrics.prom (default: REPORT_DIR)")
	f.IntVar(&opts.concurrency, "concurrency", 0, "listings processed at once (default: MAX_CONCURRENCY)")
	f.DurationVar(&opts.timeout, "timeout", 0, "overall run timeout (default: RUN_TIMEOUT)")
	return c
}

func runETL(cmd *cobra.Command, opts *etlOptions) error {
	cfg := config.Load()
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.OutputRoot = opts.output
	}
	if f.Changed("report-dir") {
		cfg.ReportDir = opts.reportDir
	}
	if f.Changed("concurrency") {
		cfg.MaxConcurrency = opts.concurrency
	}
	if f.Changed("timeout") {
		cfg.RunTimeout = opts.timeout
	}

	logger := utils.NewLoggerTo(cmd.OutOrStdout(), cmd.ErrOrStderr()).SetLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("[etl] %v", err)
		return err
	}

	logger.Info("=== Wheelhouse ETL starting ===")
	logger.Info("Config: api %s | output %s | concurrency %d | rate %d/s | retries %d | timeout %s",
		cfg.BaseURL, cfg.OutputRoot, cfg.MaxConcurrency, cfg.RateLimitPerSec, cfg.MaxRetries, cfg.RunTimeout)

	client, err := wheelhouse.New(wheelhouse.OptionsFromConfig(cfg, logger))
	if err != nil {
		logger.Error("[etl] %v", err)
		return err
	}
	dates, err := services.NewDateResolver(nil)
	if err != nil {
		logger.Error("[etl] %v", err)
		return err
	}

	p := pipeline.New(
		dates,
		services.NewDiscovery(client, logger),
		services.NewMetricsFetcher(client, logger),
		storage.NewParquetPartitionWriter(cfg.OutputRoot),
		logger,
		cfg.MaxConcurrency,
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	summary, runErr := p.Run(ctx, opts.date)

	health := services.NewHealthService(logger).WithOutput(cmd.OutOrStdout())
	report := health.Generate(summary)
	health.Print(report)

	reports := storage.NewReportWriter(cfg.ReportDir)
	if err := reports.Write(report, summary); err != nil {
		logger.Warn("[etl] Could not write run report to %s: %v", reports.Dir(), err)
	} else {
		logger.Info("[etl] Run report written to %s", reports.Dir())
	}

	return runErr
}
