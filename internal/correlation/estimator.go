// internal/correlation/estimator.go
package correlation

import (
	"fmt"
	"math"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/analysis/static/codecontext"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
)

// Estimator turns fusion output and code-context signals into a bounded
// false positive probability.
type Estimator struct {
	cfg config.EstimatorConfig
}

// NewEstimator creates an Estimator. cfg is assumed validated.
func NewEstimator(cfg config.EstimatorConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate sets c.FalsePositiveProbability and c.Signals. c must already be
// fused.
func (e *Estimator) Estimate(c *schemas.Cluster, features codecontext.Features) {
	p := 1 - c.FusedConfidence
	c.AddTrace(fmt.Sprintf("fp_base=%.4f", p))

	discount := 0.0
	c.Signals = make([]string, 0, len(features.Signals))
	for _, s := range features.Signals {
		discount += s.Weight
		c.Signals = append(c.Signals, s.Name)
		c.AddTrace(fmt.Sprintf("signal:%s(+%.2f)", s.Name, s.Weight))
	}
	if discount > e.cfg.DiscountCap {
		c.AddTrace(fmt.Sprintf("discount_cap(%.2f->%.2f)", discount, e.cfg.DiscountCap))
		discount = e.cfg.DiscountCap
	}
	p += discount

	clamped := math.Max(e.cfg.MinProbability, math.Min(e.cfg.MaxProbability, p))
	if clamped != p {
		c.AddTrace(fmt.Sprintf("clamp(%.4f->%.4f)", p, clamped))
	}
	p = clamped

	// Validation keeps the floor at or below max_probability.
	if features.TestPath && p < e.cfg.TestPathFloor {
		c.AddTrace(fmt.Sprintf("test_path_floor(%.4f->%.4f)", p, e.cfg.TestPathFloor))
		p = e.cfg.TestPathFloor
	}
	c.FalsePositiveProbability = p
}
