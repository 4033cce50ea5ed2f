// internal/correlation/cluster.go
package correlation

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
)

// bucketKey is the coarse locality key. Findings in different buckets are
// never compared.
type bucketKey struct {
	file string
	typ  schemas.CanonicalType
}

// Clusterer groups normalized findings with a bucketed greedy merge.
//
// Merge policy: findings are visited in ingestion order. Each one is scored
// against the representative (first member) of every cluster already in its
// bucket. It joins the highest scoring cluster whose score meets the
// threshold; equal scores go to the cluster created first. Otherwise it seeds
// a new cluster. Representatives are never replaced, so the result depends on
// ingestion order but is fully determined by it.
type Clusterer struct {
	cfg config.ClusteringConfig
}

// NewClusterer creates a Clusterer. cfg is assumed validated.
func NewClusterer(cfg config.ClusteringConfig) *Clusterer {
	return &Clusterer{cfg: cfg}
}

// Cluster partitions findings. Every finding ends up in exactly one cluster;
// clusters are returned in creation order.
func (c *Clusterer) Cluster(findings []*schemas.RawFinding) []*schemas.Cluster {
	buckets := make(map[bucketKey][]*schemas.Cluster)
	var clusters []*schemas.Cluster

	for _, f := range findings {
		key := bucketKey{file: f.Location.NormalizedFile(), typ: f.CanonicalType}

		var best *schemas.Cluster
		var bestScore Score
		for _, candidate := range buckets[key] {
			s := Similarity(c.cfg, candidate.Members[0], f)
			if s.Total < c.cfg.SimilarityThreshold {
				continue
			}
			if best == nil || s.Total > bestScore.Total {
				best, bestScore = candidate, s
			}
		}

		if best != nil {
			best.Members = append(best.Members, f)
			best.AddTrace(fmt.Sprintf("merge:%s score=%.3f (type=%.2f location=%.2f text=%.2f)",
				f.ID, bestScore.Total, bestScore.Type, bestScore.Location, bestScore.Text))
			continue
		}

		nc := &schemas.Cluster{
			ID:            clusterID(key, f),
			Members:       []*schemas.RawFinding{f},
			CanonicalType: f.CanonicalType,
			WeaknessID:    f.WeaknessID,
			Severity:      f.Severity,
			Location:      f.Location,
		}
		nc.AddTrace("seed:" + f.ID)
		buckets[key] = append(buckets[key], nc)
		clusters = append(clusters, nc)
	}

	for _, cl := range clusters {
		cl.CanonicalType = majorityType(cl.Members)
		cl.WeaknessID = majorityWeakness(cl.Members)
	}
	return clusters
}

// clusterID derives a stable id from the bucket and the seeding finding, so
// repeated correlation of the same snapshot yields the same ids.
func clusterID(key bucketKey, seed *schemas.RawFinding) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s", key.file, key.typ, seed.ID)
	return "CL-" + hex.EncodeToString(h.Sum(nil))[:12]
}

// majorityType picks the most common canonical type; ties go to the type of
// the earliest inserted member.
func majorityType(members []*schemas.RawFinding) schemas.CanonicalType {
	votes := make([]string, len(members))
	for i, m := range members {
		votes[i] = string(m.CanonicalType)
	}
	return schemas.CanonicalType(majority(votes))
}

// majorityWeakness votes over members that carry a weakness id.
func majorityWeakness(members []*schemas.RawFinding) string {
	votes := make([]string, 0, len(members))
	for _, m := range members {
		if m.WeaknessID != "" {
			votes = append(votes, m.WeaknessID)
		}
	}
	return majority(votes)
}

// majority returns the most frequent value, breaking ties by first
// occurrence. An empty input yields "".
func majority(votes []string) string {
	counts := make(map[string]int, len(votes))
	winner, best := "", 0
	for _, v := range votes {
		counts[v]++
	}
	for _, v := range votes {
		if counts[v] > best {
			winner, best = v, counts[v]
		}
	}
	return winner
}
