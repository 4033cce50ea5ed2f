package results

import (
	"sort"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// Prioritize returns a copy of clusters ordered by severity, then fused
// confidence, both descending. The sort is stable so equal clusters keep
// correlation order.
func Prioritize(clusters []*schemas.Cluster) []*schemas.Cluster {
	out := append(make([]*schemas.Cluster, 0, len(clusters)), clusters...)
	sort.SliceStable(out, func(i, j int) bool {
		return ranksAbove(out[i].Severity, out[i].FusedConfidence, out[j].Severity, out[j].FusedConfidence)
	})
	return out
}

// PrioritizeRecords orders stored records the way Prioritize orders clusters.
func PrioritizeRecords(records []schemas.ClusterRecord) []schemas.ClusterRecord {
	out := append(make([]schemas.ClusterRecord, 0, len(records)), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return ranksAbove(out[i].Severity, out[i].Confidence.Final, out[j].Severity, out[j].Confidence.Final)
	})
	return out
}

func ranksAbove(sevA schemas.Severity, confA float64, sevB schemas.Severity, confB float64) bool {
	if ra, rb := sevA.Rank(), sevB.Rank(); ra != rb {
		return ra > rb
	}
	return confA > confB
}
