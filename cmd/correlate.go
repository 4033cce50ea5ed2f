// File: cmd/correlate.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/ingest"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
	"github.com/xkilldash9x/scalpel-audit/internal/orchestrator"
	"github.com/xkilldash9x/scalpel-audit/internal/reporting"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
	"github.com/xkilldash9x/scalpel-audit/internal/results/providers"
)

const defaultUnitID = "default"

type correlateOptions struct {
	inputs    []string
	unitRoots []string
	runID     string
	persist   bool
}

// newCorrelateCmd creates and configures the `correlate` command.
func newCorrelateCmd(provider storeProvider) *cobra.Command {
	var opts correlateOptions

	correlateCmd := &cobra.Command{
		Use:   "correlate",
		Short: "Correlate analyzer output into a deduplicated report",
		Long:  `Reads the normalized output of each analyzer, clusters findings that describe the
same vulnerability, fuses their confidences and writes the partitioned result.

Inputs are given as tool=path. Prefix an input with "unit:" to correlate several
audit units in one run; each unit gets its own engine.`,
		Example: `  scalpel-audit correlate -i slither=slither.json -i mythril=mythril.jsonl --source-root ./contracts
  scalpel-audit correlate -i bank:slither=bank/slither.json -i token:slither=token/slither.json --unit-root bank=./bank -f sarif -o audit.sarif`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runCorrelate(ctx, logger, cfg, opts, provider, cmd.ErrOrStderr())
		},
	}

	flags := correlateCmd.Flags()
	flags.StringArrayVarP(&opts.inputs, "input", "i", nil, "Analyzer output as [unit:]tool=path (repeatable, required)")
	flags.StringArrayVar(&opts.unitRoots, "unit-root", nil, "Source root of one audit unit as unit=path (repeatable)")
	flags.StringVar(&opts.runID, "run-id", "", "Run identifier. A random UUID is used when unset.")
	flags.BoolVar(&opts.persist, "persist", false, "Store the run in PostgreSQL (SCALPEL_AUDIT_DATABASE_URL)")
	addCorrelationFlags(correlateCmd)
	correlateCmd.Flags().StringP("format", "f", "json", "Report format: 'json' or 'sarif'. (Overrides config/env)")
	correlateCmd.Flags().StringP("output", "o", "", "Report file path. Stdout when unset. (Overrides config/env)")
	_ = correlateCmd.MarkFlagRequired("input")
	return correlateCmd
}

// addCorrelationFlags registers the operating point flags shared by
// correlate and evaluate.
func addCorrelationFlags(cmd *cobra.Command) {
	defaults := config.NewDefaultConfig()
	flags := cmd.Flags()
	flags.String("source-root", "", "Directory the reported file paths are relative to. (Overrides config/env)")
	flags.Float64("confidence-threshold", defaults.Correlation().Partition.ConfidenceThreshold, "Minimum fused confidence of an actionable cluster. (Overrides config/env)")
	flags.Float64("fp-threshold", defaults.Correlation().Partition.FPThreshold, "Maximum false positive probability of an actionable cluster. (Overrides config/env)")
	flags.Int("min-tools", defaults.Correlation().Fusion.MinToolsForValidation, "Distinct tools needed for cross validation. (Overrides config/env)")
	flags.IntP("concurrency", "j", defaults.Engine().WorkerConcurrency, "Audit units correlated in parallel. (Overrides config/env)")
}

// runCorrelate contains the core, testable logic of the correlate command.
func runCorrelate(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	opts correlateOptions,
	provider storeProvider,
	out io.Writer,
) error {
	units, err := loadUnits(logger, opts.inputs, opts.unitRoots)
	if err != nil {
		return err
	}

	var store schemas.Store
	if opts.persist {
		s, cleanup, err := provider.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		store = s
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	runResults, runErr := correlateUnits(ctx, logger, cfg, store, runID, units)
	if runResults == nil {
		return runErr
	}

	reporter, err := reporting.New(cfg.Report().Format, cfg.Report().Output, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	for _, r := range runResults {
		if r.Report == nil {
			continue
		}
		if err := reporter.Write(r.Report); err != nil {
			_ = reporter.Close()
			return fmt.Errorf("failed to write report for unit %s: %w", r.UnitID, err)
		}
		fmt.Fprintf(out, "[%s] %s\n", r.UnitID, results.Summary(r.Report))
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	fmt.Fprintf(out, "Run ID: %s\n", runID)
	if opts.persist && runErr == nil {
		fmt.Fprintf(out, "To export this run again, use: scalpel-audit report --run-id %s\n", runID)
	}
	return runErr
}

// correlateUnits wires the results pipeline and the orchestrator and runs
// every unit. Results are nil only when nothing could be run.
func correlateUnits(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	store schemas.Store,
	runID string,
	units []orchestrator.Unit,
) ([]orchestrator.Result, error) {
	pipeline, err := results.NewPipeline(results.PipelineConfig{
		Thresholds: thresholdsFrom(cfg),
		Weaknesses: providers.NewRegistry(),
	}, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize results pipeline: %w", err)
	}

	var orchOpts []orchestrator.Option
	if store != nil {
		orchOpts = append(orchOpts, orchestrator.WithPersistence())
	}
	orch, err := orchestrator.New(cfg, pipeline, logger, orchOpts...)
	if err != nil {
		return nil, err
	}

	runResults, err := orch.RunAll(ctx, runID, units)
	if err != nil {
		err = fmt.Errorf("correlation run %s incomplete: %w", runID, err)
	}
	return runResults, err
}

// loadUnits groups inputs by audit unit, in first-seen order, and decodes
// them. A tool whose output cannot be read is logged and skipped; it is an
// error only when no tool at all could be loaded.
func loadUnits(logger *zap.Logger, inputs, unitRoots []string) ([]orchestrator.Unit, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("at least one --input is required")
	}

	roots := make(map[string]string, len(unitRoots))
	for _, spec := range unitRoots {
		unit, root, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(unit) == "" || strings.TrimSpace(root) == "" {
			return nil, fmt.Errorf("invalid unit root %q, expected unit=path", spec)
		}
		roots[strings.TrimSpace(unit)] = strings.TrimSpace(root)
	}

	var order []string
	grouped := make(map[string][]ingest.Input)
	for _, spec := range inputs {
		unit, rest := defaultUnitID, spec
		if u, r, ok := strings.Cut(spec, ":"); ok && !strings.Contains(u, "=") {
			unit, rest = strings.TrimSpace(u), r
		}
		in, err := ingest.ParseInput(rest)
		if err != nil {
			return nil, err
		}
		if _, seen := grouped[unit]; !seen {
			order = append(order, unit)
		}
		grouped[unit] = append(grouped[unit], in)
	}

	loader := ingest.NewLoader(nil, logger)
	units := make([]orchestrator.Unit, 0, len(order))
	loaded := 0
	for _, id := range order {
		batches, err := loader.Load(grouped[id])
		if err != nil {
			logger.Warn("Some analyzer outputs could not be loaded", zap.String("unit", id), zap.Error(err))
		}
		loaded += len(batches)
		units = append(units, orchestrator.Unit{ID: id, SourceRoot: roots[id], Batches: batches})
	}
	if loaded == 0 {
		return nil, fmt.Errorf("none of the %d inputs could be loaded", len(inputs))
	}
	return units, nil
}

// thresholdsFrom returns the configured operating point.
func thresholdsFrom(cfg config.Interface) schemas.Thresholds {
	p := cfg.Correlation().Partition
	return schemas.Thresholds{Confidence: p.ConfidenceThreshold, FalsePositive: p.FPThreshold}
}
