// internal/correlation/engine.go
package correlation

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/static/codecontext"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
	"github.com/xkilldash9x/scalpel-audit/internal/results/providers"
)

// ErrInvalidConfig is returned by New when the correlation configuration is
// out of range. Values are never clamped.
var ErrInvalidConfig = errors.New("invalid correlation configuration")

// unknownTool names findings ingested without a tool name.
const unknownTool = "unknown"

// Engine owns the snapshot of one audit unit: every finding ingested since the
// last Reset plus the clusters of the last Correlate call. Ingestion and
// correlation are separate phases; all findings are added first, then
// Correlate runs once over the whole snapshot.
//
// An Engine is not safe for concurrent use. Run one instance per audit unit
// and ingest adapter results sequentially.
type Engine struct {
	cfg        config.CorrelationConfig
	logger     *zap.Logger
	normalizer *Normalizer
	clusterer  *Clusterer
	fuser      *Fuser
	estimator  *Estimator
	extractor  *codecontext.Extractor

	findings []*schemas.RawFinding
	perTool  map[string]int
	clusters []*schemas.Cluster
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithExtractor sets the code-context extractor. Without one, only path
// conventions are evaluated.
func WithExtractor(x *codecontext.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithWeaknessProvider replaces the built in weakness registry.
func WithWeaknessProvider(p providers.WeaknessProvider) Option {
	return func(e *Engine) { e.normalizer = NewNormalizer(p) }
}

// New creates an engine after validating cfg.
func New(cfg config.CorrelationConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    zap.NewNop(),
		clusterer: NewClusterer(cfg.Clustering),
		fuser:     NewFuser(cfg.Fusion),
		estimator: NewEstimator(cfg.Estimator),
		perTool:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = NewNormalizer(nil)
	}
	if e.extractor == nil {
		x, err := codecontext.NewExtractor(config.FeaturesConfig{Enabled: false}, nil, e.logger)
		if err != nil {
			return nil, err
		}
		e.extractor = x
	}
	e.logger = e.logger.Named("correlation")
	return e, nil
}

// AddFindings normalizes and ingests records reported by tool and returns how
// many were ingested. No record is rejected: unmappable types become "other",
// missing confidences take the category default and unknown fields are kept
// in the metadata bag.
func (e *Engine) AddFindings(tool string, records []schemas.AdapterRecord) int {
	tool = strings.ToLower(strings.TrimSpace(tool))
	if tool == "" {
		tool = unknownTool
	}

	for _, rec := range records {
		n := e.normalizer.Normalize(rec)
		seq := e.perTool[tool]
		e.perTool[tool]++

		f := &schemas.RawFinding{
			ID:                  fmt.Sprintf("%s#%d", tool, seq),
			Seq:                 len(e.findings),
			Tool:                tool,
			RawType:             rec.Type,
			CanonicalType:       n.CanonicalType,
			Severity:            n.Severity,
			MatchedBy:           n.MatchedBy,
			Confidence:          n.Confidence,
			ConfidenceDefaulted: n.ConfidenceDefaulted,
			Location:            rec.Location(),
			WeaknessID:          n.WeaknessID,
			Message:             rec.Message,
			Metadata:            copyMetadata(rec.Metadata),
		}
		if n.MatchedBy == MatchedByFallback {
			e.logger.Debug("Unmapped finding type, using category other.",
				zap.String("tool", tool), zap.String("raw_type", rec.Type))
		}
		e.findings = append(e.findings, f)
	}

	e.logger.Debug("Ingested findings", zap.String("tool", tool), zap.Int("count", len(records)))
	return len(records)
}

// Reset discards every ingested finding and computed cluster.
func (e *Engine) Reset() {
	e.findings = nil
	e.clusters = nil
	e.perTool = make(map[string]int)
}

// Correlate clusters the snapshot, fuses confidences and estimates false
// positive probabilities. It is a pure function of the snapshot: repeated
// calls without new ingestion yield identical results.
func (e *Engine) Correlate() []*schemas.Cluster {
	clusters := e.clusterer.Cluster(e.findings)
	session := e.extractor.NewSession()

	for _, c := range clusters {
		e.fuser.Fuse(c)
		e.estimator.Estimate(c, session.Extract(c.CanonicalType, contextLocation(c)))
	}
	e.clusters = clusters

	e.logger.Info("Correlation complete",
		zap.Int("findings", len(e.findings)),
		zap.Int("clusters", len(clusters)))
	return clusters
}

// Clusters returns the clusters of the last Correlate call.
func (e *Engine) Clusters() []*schemas.Cluster { return e.clusters }

// Findings returns the ingested findings in ingestion order.
func (e *Engine) Findings() []*schemas.RawFinding {
	return append([]*schemas.RawFinding(nil), e.findings...)
}

// Thresholds returns the configured default operating point.
func (e *Engine) Thresholds() schemas.Thresholds {
	return schemas.Thresholds{
		Confidence:    e.cfg.Partition.ConfidenceThreshold,
		FalsePositive: e.cfg.Partition.FPThreshold,
	}
}

// Partition splits the last correlation result at the configured operating point.
func (e *Engine) Partition() schemas.Partition {
	return results.Partition(e.clusters, e.Thresholds())
}

// PartitionAt splits the last correlation result at th.
func (e *Engine) PartitionAt(th schemas.Thresholds) (schemas.Partition, error) {
	if err := results.ValidateThresholds(th); err != nil {
		return schemas.Partition{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return results.Partition(e.clusters, th), nil
}

// Statistics returns the aggregate counters for the current snapshot at the
// configured operating point.
func (e *Engine) Statistics() schemas.Statistics {
	return results.ComputeStatistics(e.findings, e.Partition())
}

// contextLocation is the representative location, borrowing the first member
// snippet when the representative has none.
func contextLocation(c *schemas.Cluster) schemas.Location {
	loc := c.Location
	if loc.Snippet != "" {
		return loc
	}
	for _, m := range c.Members {
		if m.Location.Snippet != "" {
			loc.Snippet = m.Location.Snippet
			break
		}
	}
	return loc
}

func copyMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
