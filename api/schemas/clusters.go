package schemas

import (
	"time"
)

// -- Cluster Schemas --

// Cluster is the deduplicated output unit: every member is believed to describe
// the same vulnerability instance. The cluster owns the grouping but never
// mutates its members.
type Cluster struct {
	ID      string
	Members []*RawFinding

	CanonicalType CanonicalType
	WeaknessID    string
	Severity      Severity
	// Location is the first member's location and is never replaced.
	Location Location
	// Tools holds the distinct contributing tool names in first-seen order.
	Tools []string

	FusedConfidence          float64
	IsCrossValidated         bool
	FalsePositiveProbability float64
	Signals                  []string
	// Trace records every heuristic adjustment in the order it was applied.
	Trace []string
}

// ToolCount returns the number of distinct contributing tools.
func (c *Cluster) ToolCount() int { return len(c.Tools) }

// AddTrace appends an explainability entry.
func (c *Cluster) AddTrace(entry string) { c.Trace = append(c.Trace, entry) }

// Record converts the cluster into its stable serialized form.
func (c *Cluster) Record() ClusterRecord {
	tools := append([]string(nil), c.Tools...)
	trace := append([]string(nil), c.Trace...)
	signals := append([]string(nil), c.Signals...)
	members := make([]string, len(c.Members))
	for i, m := range c.Members {
		members[i] = m.ID
	}
	return ClusterRecord{
		ID:         c.ID,
		Type:       c.CanonicalType,
		WeaknessID: c.WeaknessID,
		Severity:   c.Severity,
		Confidence: ConfidenceRecord{
			Final:                    c.FusedConfidence,
			FalsePositiveProbability: c.FalsePositiveProbability,
		},
		IsCrossValidated: c.IsCrossValidated,
		Location:         c.Location,
		ToolCount:        len(c.Tools),
		Tools:            tools,
		FindingCount:     len(c.Members),
		FindingIDs:       members,
		Signals:          signals,
		Trace:            trace,
	}
}

// ClusterRecord is the wire contract consumed by report exporters and
// dashboards. Field names must remain stable.
type ClusterRecord struct {
	ID               string           `json:"id"`
	Type             CanonicalType    `json:"type"`
	WeaknessID       string           `json:"weakness_id,omitempty"`
	WeaknessTitle    string           `json:"weakness_title,omitempty"`
	Severity         Severity         `json:"severity"`
	Confidence       ConfidenceRecord `json:"confidence"`
	IsCrossValidated bool             `json:"is_cross_validated"`
	Location         Location         `json:"location"`
	ToolCount        int              `json:"tool_count"`
	Tools            []string         `json:"tools"`
	FindingCount     int              `json:"finding_count"`
	FindingIDs       []string         `json:"finding_ids,omitempty"`
	Signals          []string         `json:"signals,omitempty"`
	Trace            []string         `json:"trace,omitempty"`
}

// ConfidenceRecord groups the two calibrated numbers of a cluster.
type ConfidenceRecord struct {
	Final                    float64 `json:"final"`
	FalsePositiveProbability float64 `json:"false_positive_probability"`
}

// -- Partition & Statistics --

// Thresholds is an operating point for the actionable/likely-false-positive split.
type Thresholds struct {
	Confidence    float64 `json:"confidence_threshold"`
	FalsePositive float64 `json:"fp_threshold"`
}

// Partition splits a correlation result. All keeps correlation order.
type Partition struct {
	Actionable          []*Cluster
	LikelyFalsePositive []*Cluster
	All                 []*Cluster
}

// CategoryStats is the per category breakdown of a correlation run.
type CategoryStats struct {
	Findings            int `json:"findings"`
	Clusters            int `json:"clusters"`
	Actionable          int `json:"actionable"`
	LikelyFalsePositive int `json:"likely_false_positive"`
}

// Statistics are the aggregate counters of one correlation run.
type Statistics struct {
	RawFindings         int                              `json:"raw_findings"`
	Clusters            int                              `json:"clusters"`
	CrossValidated      int                              `json:"cross_validated"`
	Actionable          int                              `json:"actionable"`
	LikelyFalsePositive int                              `json:"likely_false_positive"`
	DeduplicationRate   float64                          `json:"deduplication_rate"`
	FalsePositiveRate   float64                          `json:"false_positive_filter_rate"`
	ByCategory          map[CanonicalType]*CategoryStats `json:"by_category"`
	ByTool              map[string]int                   `json:"by_tool"`
}

// -- Audit Reports --

// AuditReport is what exporters and the store receive for one audit unit.
type AuditReport struct {
	RunID               string          `json:"run_id"`
	AuditID             string          `json:"audit_id"`
	GeneratedAt         time.Time       `json:"generated_at"`
	Thresholds          Thresholds      `json:"thresholds"`
	Actionable          []ClusterRecord `json:"actionable"`
	LikelyFalsePositive []ClusterRecord `json:"likely_false_positive"`
	Statistics          Statistics      `json:"statistics"`
}

// NewAuditReport builds a report from a partition and its statistics.
func NewAuditReport(runID, auditID string, generatedAt time.Time, th Thresholds, p Partition, stats Statistics) *AuditReport {
	report := &AuditReport{
		RunID:               runID,
		AuditID:             auditID,
		GeneratedAt:         generatedAt.UTC(),
		Thresholds:          th,
		Actionable:          make([]ClusterRecord, 0, len(p.Actionable)),
		LikelyFalsePositive: make([]ClusterRecord, 0, len(p.LikelyFalsePositive)),
		Statistics:          stats,
	}
	for _, c := range p.Actionable {
		report.Actionable = append(report.Actionable, c.Record())
	}
	for _, c := range p.LikelyFalsePositive {
		report.LikelyFalsePositive = append(report.LikelyFalsePositive, c.Record())
	}
	return report
}
