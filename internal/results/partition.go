// File: internal/results/partition.go
package results

import (
	"fmt"
	"math"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// ValidateThresholds rejects operating points outside [0,1].
func ValidateThresholds(th schemas.Thresholds) error {
	if math.IsNaN(th.Confidence) || th.Confidence < 0 || th.Confidence > 1 {
		return fmt.Errorf("confidence threshold must be between 0.0 and 1.0, got %v", th.Confidence)
	}
	if math.IsNaN(th.FalsePositive) || th.FalsePositive < 0 || th.FalsePositive > 1 {
		return fmt.Errorf("false positive threshold must be between 0.0 and 1.0, got %v", th.FalsePositive)
	}
	return nil
}

// IsActionable reports whether c passes the operating point.
func IsActionable(c *schemas.Cluster, th schemas.Thresholds) bool {
	return passes(c.FusedConfidence, c.FalsePositiveProbability, th)
}

// IsActionableRecord is IsActionable for a stored cluster record.
func IsActionableRecord(r schemas.ClusterRecord, th schemas.Thresholds) bool {
	return passes(r.Confidence.Final, r.Confidence.FalsePositiveProbability, th)
}

func passes(confidence, falsePositive float64, th schemas.Thresholds) bool {
	return confidence >= th.Confidence && falsePositive <= th.FalsePositive
}

// Partition splits clusters into actionable and likely false positive sets.
// Both sets and All keep the input order.
func Partition(clusters []*schemas.Cluster, th schemas.Thresholds) schemas.Partition {
	p := schemas.Partition{
		Actionable:          make([]*schemas.Cluster, 0),
		LikelyFalsePositive: make([]*schemas.Cluster, 0),
		All:                 append(make([]*schemas.Cluster, 0, len(clusters)), clusters...),
	}
	for _, c := range clusters {
		if IsActionable(c, th) {
			p.Actionable = append(p.Actionable, c)
		} else {
			p.LikelyFalsePositive = append(p.LikelyFalsePositive, c)
		}
	}
	return p
}
