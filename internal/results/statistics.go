// File: internal/results/statistics.go
package results

import (
	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// ComputeStatistics aggregates one correlation run. Every rate with a zero
// denominator is 0.
func ComputeStatistics(findings []*schemas.RawFinding, p schemas.Partition) schemas.Statistics {
	stats := schemas.Statistics{
		RawFindings:         len(findings),
		Clusters:            len(p.All),
		Actionable:          len(p.Actionable),
		LikelyFalsePositive: len(p.LikelyFalsePositive),
		ByCategory:          make(map[schemas.CanonicalType]*schemas.CategoryStats),
		ByTool:              make(map[string]int),
	}

	category := func(t schemas.CanonicalType) *schemas.CategoryStats {
		cs, ok := stats.ByCategory[t]
		if !ok {
			cs = &schemas.CategoryStats{}
			stats.ByCategory[t] = cs
		}
		return cs
	}

	for _, f := range findings {
		category(f.CanonicalType).Findings++
		stats.ByTool[f.Tool]++
	}
	for _, c := range p.All {
		category(c.CanonicalType).Clusters++
		if c.IsCrossValidated {
			stats.CrossValidated++
		}
	}
	for _, c := range p.Actionable {
		category(c.CanonicalType).Actionable++
	}
	for _, c := range p.LikelyFalsePositive {
		category(c.CanonicalType).LikelyFalsePositive++
	}

	setRates(&stats)
	return stats
}

// setRates derives the rates from the counts already in stats.
func setRates(stats *schemas.Statistics) {
	if stats.RawFindings > 0 {
		stats.DeduplicationRate = 1 - float64(stats.Clusters)/float64(stats.RawFindings)
	}
	if stats.Clusters > 0 {
		stats.FalsePositiveRate = float64(stats.LikelyFalsePositive) / float64(stats.Clusters)
	}
}
