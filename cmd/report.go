// File: cmd/report.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
	"github.com/xkilldash9x/scalpel-audit/internal/reporting"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
	"github.com/xkilldash9x/scalpel-audit/internal/results/providers"
	"github.com/xkilldash9x/scalpel-audit/internal/store"
)

// storeProvider creates a data store (schemas.Store). Tests inject a mock
// store instead of a live database connection.
type storeProvider interface {
	// Create initializes and returns a schemas.Store, a cleanup function to release
	// resources, and an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider creates the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the PostgreSQL database using the provided configuration,
// makes sure the schema exists, and returns the store along with a cleanup
// function that closes the connection pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (SCALPEL_AUDIT_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := storeService.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var runID string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Export a persisted correlation run",
		Long:  `Loads the clusters of a run stored with 'correlate --persist' and writes them
again, re-partitioned at the current operating point.`,
		Example: `  scalpel-audit report --run-id 6f1c... -f sarif -o audit.sarif
  scalpel-audit report --run-id 6f1c... --confidence-threshold 0.7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, logger, cfg, runID, provider, cmd.ErrOrStderr())
		},
	}

	defaults := config.NewDefaultConfig()
	flags := reportCmd.Flags()
	flags.StringVar(&runID, "run-id", "", "The ID of the run to export (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	flags.Float64("confidence-threshold", defaults.Correlation().Partition.ConfidenceThreshold, "Minimum fused confidence of an actionable cluster. (Overrides config/env)")
	flags.Float64("fp-threshold", defaults.Correlation().Partition.FPThreshold, "Maximum false positive probability of an actionable cluster. (Overrides config/env)")
	flags.StringP("format", "f", "json", "Report format: 'json' or 'sarif'. (Overrides config/env)")
	flags.StringP("output", "o", "", "Report file path. Stdout when unset. (Overrides config/env)")
	return reportCmd
}

// runReport contains the core, testable logic for exporting a stored run.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	runID string,
	provider storeProvider,
	out io.Writer,
) error {
	logger.Info("Starting report export", zap.String("run_id", runID))

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	pipeline, err := results.NewPipeline(results.PipelineConfig{
		Thresholds: thresholdsFrom(cfg),
		Weaknesses: providers.NewRegistry(),
	}, storeService, logger)
	if err != nil {
		return err
	}

	report, err := pipeline.LoadReport(ctx, runID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return fmt.Errorf("no clusters stored for run %s: %w", runID, err)
		}
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	reporter, err := reporting.New(cfg.Report().Format, cfg.Report().Output, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	fmt.Fprintf(out, "[%s] %s\n", runID, results.Summary(report))
	return nil
}
