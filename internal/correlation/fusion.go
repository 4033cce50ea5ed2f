// internal/correlation/fusion.go
package correlation

import (
	"fmt"
	"math"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
)

// Fuser computes the fused confidence, the cross validation flag and the
// cluster severity.
type Fuser struct {
	cfg config.FusionConfig
}

// NewFuser creates a Fuser. cfg is assumed validated.
func NewFuser(cfg config.FusionConfig) *Fuser {
	return &Fuser{cfg: cfg}
}

// Fuse enriches c in place. Each distinct tool contributes exactly one
// confidence, its highest, so duplicate reports from one tool never count as
// independent evidence.
func (fu *Fuser) Fuse(c *schemas.Cluster) {
	perTool := make(map[string]float64, len(c.Members))
	c.Tools = c.Tools[:0]
	c.Severity = ""
	for _, m := range c.Members {
		c.Severity = schemas.MaxSeverity(c.Severity, m.Severity)
		best, seen := perTool[m.Tool]
		if !seen {
			c.Tools = append(c.Tools, m.Tool)
			perTool[m.Tool] = m.Confidence
			continue
		}
		if m.Confidence > best {
			perTool[m.Tool] = m.Confidence
		}
	}

	confidences := make([]float64, len(c.Tools))
	for i, tool := range c.Tools {
		confidences[i] = perTool[tool]
	}
	fused := NoisyOR(confidences)
	c.AddTrace(fmt.Sprintf("noisy_or(tools=%d)=%.4f", len(confidences), fused))

	c.IsCrossValidated = len(c.Tools) >= fu.cfg.MinToolsForValidation
	if c.IsCrossValidated {
		boosted := math.Min(1, fused+fu.cfg.CrossValidationBonus)
		c.AddTrace(fmt.Sprintf("cross_validation_bonus(+%.2f)=%.4f", fu.cfg.CrossValidationBonus, boosted))
		fused = boosted
	}
	c.FusedConfidence = fused
}

// NoisyOR combines independent confidences as 1 - prod(1 - c). A single
// confidence is returned unchanged and an empty input yields 0.
func NoisyOR(confidences []float64) float64 {
	switch len(confidences) {
	case 0:
		return 0
	case 1:
		return clampUnit(confidences[0])
	}
	miss := 1.0
	for _, c := range confidences {
		miss *= 1 - clampUnit(c)
	}
	return clampUnit(1 - miss)
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
