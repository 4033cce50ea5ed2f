// File: internal/results/pipeline.go
package results

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"go.uber.org/zap"
)

// Pipeline turns correlated clusters into audit reports and reads persisted
// runs back for export.
type Pipeline struct {
	cfg      PipelineConfig
	store    schemas.Store
	enricher *Enricher
	logger   *zap.Logger
}

// NewPipeline creates a new results pipeline. store may be nil when
// persistence is disabled.
func NewPipeline(cfg PipelineConfig, store schemas.Store, logger *zap.Logger) (*Pipeline, error) {
	if err := ValidateThresholds(cfg.Thresholds); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		enricher: NewEnricher(cfg.Weaknesses, logger),
		logger:   logger.Named("results_pipeline"),
	}, nil
}

// BuildReport partitions clusters under the configured operating point,
// computes statistics, orders the actionable set and enriches every record.
func (p *Pipeline) BuildReport(runID, auditID string, findings []*schemas.RawFinding, clusters []*schemas.Cluster, now time.Time) *schemas.AuditReport {
	part := Partition(clusters, p.cfg.Thresholds)
	stats := ComputeStatistics(findings, part)
	part.Actionable = Prioritize(part.Actionable)

	report := schemas.NewAuditReport(runID, auditID, now, p.cfg.Thresholds, part, stats)
	for i := range report.Actionable {
		p.enricher.EnrichRecord(&report.Actionable[i])
	}
	for i := range report.LikelyFalsePositive {
		p.enricher.EnrichRecord(&report.LikelyFalsePositive[i])
	}

	p.logger.Info("Built audit report",
		zap.String("run_id", runID),
		zap.String("audit_id", auditID),
		zap.Int("actionable", stats.Actionable),
		zap.Int("likely_false_positive", stats.LikelyFalsePositive))
	return report
}

// Persist stores the report when a store is configured.
func (p *Pipeline) Persist(ctx context.Context, report *schemas.AuditReport) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.PersistRun(ctx, report); err != nil {
		return fmt.Errorf("failed to persist run %s: %w", report.RunID, err)
	}
	return nil
}

// LoadRun retrieves the clusters of a persisted run and enriches them.
func (p *Pipeline) LoadRun(ctx context.Context, runID string) ([]schemas.ClusterRecord, error) {
	if p.store == nil {
		return nil, fmt.Errorf("no store configured")
	}
	p.logger.Info("Loading persisted run", zap.String("run_id", runID))

	records, err := p.store.GetClustersByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		p.enricher.EnrichRecord(&records[i])
	}
	p.logger.Info("Retrieved clusters", zap.Int("count", len(records)))
	return records, nil
}

// LoadReport rebuilds the report of a persisted run at the configured
// operating point.
func (p *Pipeline) LoadReport(ctx context.Context, runID string, now time.Time) (*schemas.AuditReport, error) {
	records, err := p.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return ReportFromRecords(runID, records, p.cfg.Thresholds, now), nil
}

// Summary renders a one line human summary of a report.
func Summary(report *schemas.AuditReport) string {
	s := report.Statistics
	return fmt.Sprintf("%d findings -> %d clusters (%d cross-validated): %d actionable, %d likely false positive, dedup %.1f%%",
		s.RawFindings, s.Clusters, s.CrossValidated, s.Actionable, s.LikelyFalsePositive, s.DeduplicationRate*100)
}
