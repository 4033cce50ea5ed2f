// File: internal/results/records.go
package results

import (
	"strings"
	"time"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// ReportFromRecords rebuilds an audit report from stored cluster records,
// partitioned at th. Statistics are derived from the records alone; the
// per tool counts come from the finding ids.
func ReportFromRecords(runID string, records []schemas.ClusterRecord, th schemas.Thresholds, now time.Time) *schemas.AuditReport {
	report := &schemas.AuditReport{
		RunID:               runID,
		GeneratedAt:         now.UTC(),
		Thresholds:          th,
		Actionable:          make([]schemas.ClusterRecord, 0),
		LikelyFalsePositive: make([]schemas.ClusterRecord, 0),
	}
	stats := schemas.Statistics{
		Clusters:   len(records),
		ByCategory: make(map[schemas.CanonicalType]*schemas.CategoryStats),
		ByTool:     make(map[string]int),
	}

	for _, r := range records {
		cs, ok := stats.ByCategory[r.Type]
		if !ok {
			cs = &schemas.CategoryStats{}
			stats.ByCategory[r.Type] = cs
		}
		cs.Clusters++
		cs.Findings += r.FindingCount
		stats.RawFindings += r.FindingCount
		for _, id := range r.FindingIDs {
			tool, _, _ := strings.Cut(id, "#")
			stats.ByTool[tool]++
		}
		if r.IsCrossValidated {
			stats.CrossValidated++
		}

		if IsActionableRecord(r, th) {
			report.Actionable = append(report.Actionable, r)
			cs.Actionable++
		} else {
			report.LikelyFalsePositive = append(report.LikelyFalsePositive, r)
			cs.LikelyFalsePositive++
		}
	}

	report.Actionable = PrioritizeRecords(report.Actionable)

	stats.Actionable = len(report.Actionable)
	stats.LikelyFalsePositive = len(report.LikelyFalsePositive)
	setRates(&stats)
	report.Statistics = stats
	return report
}
