package results

import (
	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/results/providers"
)

// Holds all configuration required for the results pipeline.
type PipelineConfig struct {
	// Thresholds is the operating point used to split clusters.
	Thresholds schemas.Thresholds
	// Weaknesses is optional. If nil, enrichment will be skipped.
	Weaknesses providers.WeaknessProvider
}
