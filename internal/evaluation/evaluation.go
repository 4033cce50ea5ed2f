// Package evaluation scores correlation output against labeled benchmark
// datasets and sweeps operating points.
package evaluation

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultLineTolerance is how far a member line may be from a labeled line
// and still count as the same instance.
const DefaultLineTolerance = 3

// Label is one known vulnerability in a benchmark dataset. A zero Line
// matches any line in the file.
type Label struct {
	File string                `json:"file"`
	Line int                   `json:"line"`
	Type schemas.CanonicalType `json:"type"`
}

// Metrics is the confusion summary of one evaluation.
type Metrics struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// OperatingPoint pairs thresholds with the metrics they produce.
type OperatingPoint struct {
	Thresholds schemas.Thresholds `json:"thresholds"`
	Metrics    Metrics            `json:"metrics"`
}

// SweepResult holds every evaluated point in grid order and the index of the
// best one by F1. Ties keep the earlier point.
type SweepResult struct {
	Points []OperatingPoint `json:"points"`
	Best   int              `json:"best"`
}

// BestPoint returns the highest scoring operating point.
func (r SweepResult) BestPoint() OperatingPoint {
	return r.Points[r.Best]
}

// LoadLabels reads a JSON array of labels.
func LoadLabels(fs afero.Fs, path string) ([]Label, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve labels path %s: %w", path, err)
	}
	data, err := afero.ReadFile(fs, expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	var labels []Label
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels %s: %w", path, err)
	}
	for i, l := range labels {
		if !l.Type.Valid() {
			return nil, fmt.Errorf("label %d: unknown vulnerability type %q", i, l.Type)
		}
	}
	return labels, nil
}

// Evaluate scores predicted clusters against labels. A cluster is a true
// positive when it shares the label's file and type and any member line is
// within tolerance of the label line. Every label and every cluster is
// matched at most once, clusters in input order.
func Evaluate(predicted []*schemas.Cluster, labels []Label, tolerance int) Metrics {
	used := make([]bool, len(labels))
	var m Metrics
	for _, c := range predicted {
		matched := false
		for i, l := range labels {
			if used[i] || !matches(c, l, tolerance) {
				continue
			}
			used[i] = true
			matched = true
			break
		}
		if matched {
			m.TruePositives++
		} else {
			m.FalsePositives++
		}
	}
	m.FalseNegatives = len(labels) - m.TruePositives
	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// EvaluateAt scores the actionable partition of clusters under th.
func EvaluateAt(clusters []*schemas.Cluster, labels []Label, th schemas.Thresholds, tolerance int) Metrics {
	return Evaluate(results.Partition(clusters, th).Actionable, labels, tolerance)
}

// Sweep evaluates every operating point in grid. The grid must not be empty.
func Sweep(clusters []*schemas.Cluster, labels []Label, grid []schemas.Thresholds, tolerance int) (SweepResult, error) {
	if len(grid) == 0 {
		return SweepResult{}, fmt.Errorf("empty threshold grid")
	}
	res := SweepResult{Points: make([]OperatingPoint, 0, len(grid))}
	for i, th := range grid {
		if err := results.ValidateThresholds(th); err != nil {
			return SweepResult{}, fmt.Errorf("grid point %d: %w", i, err)
		}
		m := EvaluateAt(clusters, labels, th, tolerance)
		res.Points = append(res.Points, OperatingPoint{Thresholds: th, Metrics: m})
		if m.F1 > res.Points[res.Best].Metrics.F1 {
			res.Best = i
		}
	}
	return res, nil
}

// DefaultGrid is confidence 0.3 to 0.8 crossed with false positive
// probability 0.4 to 0.8, both in steps of 0.1.
func DefaultGrid() []schemas.Thresholds {
	var grid []schemas.Thresholds
	for c := 3; c <= 8; c++ {
		for fp := 4; fp <= 8; fp++ {
			grid = append(grid, schemas.Thresholds{
				Confidence:    float64(c) / 10,
				FalsePositive: float64(fp) / 10,
			})
		}
	}
	return grid
}

func matches(c *schemas.Cluster, l Label, tolerance int) bool {
	if c.CanonicalType != l.Type {
		return false
	}
	file := schemas.Location{File: l.File}.NormalizedFile()
	for _, m := range c.Members {
		if m.Location.NormalizedFile() != file {
			continue
		}
		if l.Line <= 0 {
			return true
		}
		if m.Location.HasLine() && abs(m.Location.Line-l.Line) <= tolerance {
			return true
		}
	}
	return false
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
