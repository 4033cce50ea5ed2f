// File: internal/orchestrator/orchestrator.go
// Description: Runs correlation for a set of audit units. Each unit gets its
// own engine; units run in parallel up to the configured worker concurrency.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/static/codecontext"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/correlation"
	"github.com/xkilldash9x/scalpel-audit/internal/ingest"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
)

// Unit is one audit unit: a contract set and the adapter output every tool
// produced for it. An empty SourceRoot falls back to the configured one.
type Unit struct {
	ID         string
	SourceRoot string
	Batches    []ingest.Batch
}

// Result is the outcome of one unit. Report is nil when Err is set.
type Result struct {
	UnitID   string
	Findings []*schemas.RawFinding
	Clusters []*schemas.Cluster
	Report   *schemas.AuditReport
	Err      error
}

// Orchestrator fans audit units out to fresh correlation engines. Engines
// are never shared between units.
type Orchestrator struct {
	cfg      config.Interface
	logger   *zap.Logger
	pipeline *results.Pipeline
	fs       afero.Fs
	now      func() time.Time
	persist  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFs sets the file system the code-context extractor reads sources from.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) { o.fs = fs }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPersistence stores every unit's report through the pipeline.
func WithPersistence() Option {
	return func(o *Orchestrator) { o.persist = true }
}

// New creates a new Orchestrator with its dependencies provided.
func New(cfg config.Interface, pipeline *results.Pipeline, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || pipeline == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		pipeline: pipeline,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fs == nil {
		o.fs = afero.NewReadOnlyFs(afero.NewOsFs())
	}
	return o, nil
}

// RunAll correlates every unit and returns the results in unit order. A
// failing unit does not stop the others; unit errors are combined into the
// returned error. Cancelling ctx stops units that have not started yet.
func (o *Orchestrator) RunAll(ctx context.Context, runID string, units []Unit) ([]Result, error) {
	out := make([]Result, len(units))
	o.logger.Info("Starting correlation run",
		zap.String("run_id", runID),
		zap.Int("units", len(units)),
		zap.Int("concurrency", o.cfg.Engine().WorkerConcurrency))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Engine().WorkerConcurrency)
	for i := range units {
		g.Go(func() error {
			out[i] = o.runUnit(gctx, runID, units[i])
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, r := range out {
		if r.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unit %s: %w", r.UnitID, r.Err))
		}
	}
	o.logger.Info("Correlation run finished", zap.String("run_id", runID), zap.Error(errs))
	return out, errs
}

func (o *Orchestrator) runUnit(ctx context.Context, runID string, u Unit) Result {
	res := Result{UnitID: u.ID}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	logger := o.logger.With(zap.String("audit_id", u.ID))

	features := o.cfg.Features()
	if u.SourceRoot != "" {
		features.SourceRoot = u.SourceRoot
	}
	extractor, err := codecontext.NewExtractor(features, o.fs, logger)
	if err != nil {
		res.Err = err
		return res
	}
	engine, err := correlation.New(o.cfg.Correlation(),
		correlation.WithLogger(logger),
		correlation.WithExtractor(extractor),
	)
	if err != nil {
		res.Err = err
		return res
	}

	for _, b := range u.Batches {
		engine.AddFindings(b.Tool, b.Records)
	}
	res.Clusters = engine.Correlate()
	res.Findings = engine.Findings()
	res.Report = o.pipeline.BuildReport(runID, u.ID, res.Findings, res.Clusters, o.now())

	if o.persist {
		if err := o.pipeline.Persist(ctx, res.Report); err != nil {
			res.Err = err
			res.Report = nil
		}
	}
	return res
}
