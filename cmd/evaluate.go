// File: cmd/evaluate.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/evaluation"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type evaluateOptions struct {
	inputs    []string
	unitRoots []string
	labels    string
	tolerance int
	asJSON    bool
}

// evaluationDocument is the --json output of the evaluate command.
type evaluationDocument struct {
	Current evaluation.OperatingPoint `json:"current"`
	Sweep   evaluation.SweepResult    `json:"sweep"`
}

// newEvaluateCmd creates and configures the `evaluate` command.
func newEvaluateCmd() *cobra.Command {
	var opts evaluateOptions

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score correlation against labeled ground truth",
		Long:  `Correlates the given analyzer output and compares the actionable clusters with a
labeled dataset. Precision, recall and F1 are reported for the configured
operating point and for a sweep over a threshold grid.`,
		Example: `  scalpel-audit evaluate -i slither=slither.json -i mythril=mythril.json --labels labels.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runEvaluate(ctx, logger, cfg, opts, cmd.OutOrStdout())
		},
	}

	flags := evaluateCmd.Flags()
	flags.StringArrayVarP(&opts.inputs, "input", "i", nil, "Analyzer output as [unit:]tool=path (repeatable, required)")
	flags.StringArrayVar(&opts.unitRoots, "unit-root", nil, "Source root of one audit unit as unit=path (repeatable)")
	flags.StringVar(&opts.labels, "labels", "", "JSON array of labeled vulnerabilities (required)")
	flags.IntVar(&opts.tolerance, "tolerance", evaluation.DefaultLineTolerance, "Line distance within which a cluster matches a label")
	flags.BoolVar(&opts.asJSON, "json", false, "Print the evaluation as JSON")
	addCorrelationFlags(evaluateCmd)
	_ = evaluateCmd.MarkFlagRequired("input")
	_ = evaluateCmd.MarkFlagRequired("labels")
	return evaluateCmd
}

// runEvaluate contains the core, testable logic of the evaluate command.
func runEvaluate(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts evaluateOptions, out io.Writer) error {
	if opts.tolerance < 0 {
		return fmt.Errorf("tolerance must be non-negative, got %d", opts.tolerance)
	}
	labels, err := evaluation.LoadLabels(nil, opts.labels)
	if err != nil {
		return err
	}
	units, err := loadUnits(logger, opts.inputs, opts.unitRoots)
	if err != nil {
		return err
	}

	runResults, err := correlateUnits(ctx, logger, cfg, nil, "evaluation", units)
	if err != nil {
		return err
	}
	var clusters []*schemas.Cluster
	for _, r := range runResults {
		clusters = append(clusters, r.Clusters...)
	}

	current := thresholdsFrom(cfg)
	doc := evaluationDocument{
		Current: evaluation.OperatingPoint{
			Thresholds: current,
			Metrics:    evaluation.EvaluateAt(clusters, labels, current, opts.tolerance),
		},
	}
	doc.Sweep, err = evaluation.Sweep(clusters, labels, evaluation.DefaultGrid(), opts.tolerance)
	if err != nil {
		return err
	}

	logger.Info("Evaluation complete",
		zap.Int("labels", len(labels)),
		zap.Int("clusters", len(clusters)),
		zap.Float64("f1", doc.Current.Metrics.F1))

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return printEvaluation(out, doc)
}

func printEvaluation(out io.Writer, doc evaluationDocument) error {
	m := doc.Current.Metrics
	fmt.Fprintf(out, "Operating point confidence>=%.2f fp<=%.2f: precision %.3f, recall %.3f, F1 %.3f (TP %d, FP %d, FN %d)\n\n",
		doc.Current.Thresholds.Confidence, doc.Current.Thresholds.FalsePositive,
		m.Precision, m.Recall, m.F1, m.TruePositives, m.FalsePositives, m.FalseNegatives)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONFIDENCE\tFP\tPRECISION\tRECALL\tF1\t")
	for i, p := range doc.Sweep.Points {
		marker := ""
		if i == doc.Sweep.Best {
			marker = "*"
		}
		fmt.Fprintf(w, "%.2f\t%.2f\t%.3f\t%.3f\t%.3f\t%s\n",
			p.Thresholds.Confidence, p.Thresholds.FalsePositive,
			p.Metrics.Precision, p.Metrics.Recall, p.Metrics.F1, marker)
	}
	return w.Flush()
}
