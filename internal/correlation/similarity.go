// internal/correlation/similarity.go
package correlation

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
)

// fileOnlyProximity is the location score when either side lacks a line.
const fileOnlyProximity = 0.5

// stopwords are dropped from message tokens; they carry no signal about which
// vulnerability a message describes.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "to": {}, "is": {}, "be": {},
	"and": {}, "or": {}, "on": {}, "at": {}, "by": {}, "for": {}, "this": {}, "that": {},
	"it": {}, "may": {}, "can": {}, "with": {}, "from": {}, "are": {}, "was": {},
}

// Score breaks a similarity score into its weighted components.
type Score struct {
	Type     float64
	Location float64
	Text     float64
	Total    float64
}

// Similarity scores how likely a and b describe the same vulnerability
// instance. Components are weighted by cfg and the total lies in [0,1].
func Similarity(cfg config.ClusteringConfig, a, b *schemas.RawFinding) Score {
	s := Score{
		Location: LocationProximity(a.Location, b.Location, cfg.LineWindow),
		Text:     TokenOverlap(tokenize(a.Message), tokenize(b.Message)),
	}
	if a.CanonicalType == b.CanonicalType {
		s.Type = 1
	}
	s.Total = cfg.TypeWeight*s.Type + cfg.LocationWeight*s.Location + cfg.TextWeight*s.Text
	return s
}

// LocationProximity is 1 within window lines of each other in the same file,
// decays linearly to 0 at twice the window, and is 0.5 when either side only
// knows the file.
func LocationProximity(a, b schemas.Location, window int) float64 {
	if a.NormalizedFile() != b.NormalizedFile() {
		return 0
	}
	if !a.HasLine() || !b.HasLine() {
		return fileOnlyProximity
	}
	d := a.Line - b.Line
	if d < 0 {
		d = -d
	}
	switch {
	case d <= window:
		return 1
	case d >= 2*window:
		return 0
	default:
		return 1 - float64(d-window)/float64(window)
	}
}

// TokenOverlap is the Jaccard ratio of two token sets. Two empty sets score 0.
func TokenOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokenize(msg string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}
