// internal/correlation/normalize.go
package correlation

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/results/providers"
)

// Normalization methods recorded on RawFinding.MatchedBy, in decreasing certainty.
const (
	MatchedByAlias    = "alias"
	MatchedByWeakness = "weakness_id"
	MatchedByPartial  = "partial"
	MatchedByFallback = "fallback"
)

// minPartialKeyLen keeps short aliases like "dos" or "tod" out of substring
// matching, where they would hit unrelated words.
const minPartialKeyLen = 6

// typeAliases maps folded raw type strings onto the canonical taxonomy. Keys
// are lower-case with every non alphanumeric rune removed.
var typeAliases = map[string]schemas.CanonicalType{
	// reentrancy
	"reentrancy":                        schemas.TypeReentrancy,
	"reentrancyeth":                     schemas.TypeReentrancy,
	"reentrancynoeth":                   schemas.TypeReentrancy,
	"reentrancybenign":                  schemas.TypeReentrancy,
	"reentrancyevents":                  schemas.TypeReentrancy,
	"reentrancyunlimitedgas":            schemas.TypeReentrancy,
	"reentrancybalance":                 schemas.TypeReentrancy,
	"reentrancyvulnerability":           schemas.TypeReentrancy,
	"dao":                               schemas.TypeReentrancy,
	"stateaccessafterexternalcall":      schemas.TypeReentrancy,
	"statechangeafterexternalcall":      schemas.TypeReentrancy,
	"externalcalltouserprovidedaddress": schemas.TypeReentrancy,

	// access control
	"accesscontrol":                   schemas.TypeAccessControl,
	"missingaccesscontrol":            schemas.TypeAccessControl,
	"suicidal":                        schemas.TypeAccessControl,
	"unprotectedselfdestruct":         schemas.TypeAccessControl,
	"unprotectedupgrade":              schemas.TypeAccessControl,
	"unprotectedetherwithdrawal":      schemas.TypeAccessControl,
	"arbitrarysend":                   schemas.TypeAccessControl,
	"arbitrarysendeth":                schemas.TypeAccessControl,
	"arbitrarysenderc20":              schemas.TypeAccessControl,
	"txorigin":                        schemas.TypeAccessControl,
	"authorizationthroughtxorigin":    schemas.TypeAccessControl,
	"controlleddelegatecall":          schemas.TypeAccessControl,
	"delegatecalltountrustedcallee":   schemas.TypeAccessControl,
	"defaultvisibility":               schemas.TypeAccessControl,
	"functiondefaultvisibility":       schemas.TypeAccessControl,
	"unprotectedinitializer":          schemas.TypeAccessControl,
	"writetoarbitrarystoragelocation": schemas.TypeAccessControl,

	// arithmetic
	"arithmetic":                   schemas.TypeArithmetic,
	"overflow":                     schemas.TypeArithmetic,
	"underflow":                    schemas.TypeArithmetic,
	"integeroverflow":              schemas.TypeArithmetic,
	"integerunderflow":             schemas.TypeArithmetic,
	"integeroverflowandunderflow":  schemas.TypeArithmetic,
	"integerarithmeticbugs":        schemas.TypeArithmetic,
	"dividebeforemultiply":         schemas.TypeArithmetic,
	"divisionbeforemultiplication": schemas.TypeArithmetic,

	// unchecked low level calls
	"uncheckedlowlevel":        schemas.TypeUncheckedLowLevelCalls,
	"uncheckedlowlevelcalls":   schemas.TypeUncheckedLowLevelCalls,
	"uncheckedsend":            schemas.TypeUncheckedLowLevelCalls,
	"uncheckedtransfer":        schemas.TypeUncheckedLowLevelCalls,
	"uncheckedcall":            schemas.TypeUncheckedLowLevelCalls,
	"uncheckedcallreturnvalue": schemas.TypeUncheckedLowLevelCalls,
	"uncheckedreturnvalue":     schemas.TypeUncheckedLowLevelCalls,
	"uncheckedretval":          schemas.TypeUncheckedLowLevelCalls,
	"lowlevelcalls":            schemas.TypeUncheckedLowLevelCalls,
	"unusedreturn":             schemas.TypeUncheckedLowLevelCalls,

	// bad randomness
	"badrandomness":                              schemas.TypeBadRandomness,
	"weakprng":                                   schemas.TypeBadRandomness,
	"weakrandomness":                             schemas.TypeBadRandomness,
	"predictablerandomness":                      schemas.TypeBadRandomness,
	"randomness":                                 schemas.TypeBadRandomness,
	"weaksourcesofrandomnessfromchainattributes": schemas.TypeBadRandomness,

	// time manipulation
	"timestamp":                                  schemas.TypeTimeManipulation,
	"blocktimestamp":                             schemas.TypeTimeManipulation,
	"timemanipulation":                           schemas.TypeTimeManipulation,
	"timestampdependence":                        schemas.TypeTimeManipulation,
	"timestampdependency":                        schemas.TypeTimeManipulation,
	"blockvaluesasaproxyfortime":                 schemas.TypeTimeManipulation,
	"dependenceonpredictableenvironmentvariable": schemas.TypeTimeManipulation,

	// denial of service
	"dos":                  schemas.TypeDenialOfService,
	"denialofservice":      schemas.TypeDenialOfService,
	"callsloop":            schemas.TypeDenialOfService,
	"costlyloop":           schemas.TypeDenialOfService,
	"dosgaslimit":          schemas.TypeDenialOfService,
	"doswithfailedcall":    schemas.TypeDenialOfService,
	"doswithblockgaslimit": schemas.TypeDenialOfService,
	"multiplesends":        schemas.TypeDenialOfService,
	"unboundedloop":        schemas.TypeDenialOfService,

	// front running
	"frontrunning":                  schemas.TypeFrontRunning,
	"tod":                           schemas.TypeFrontRunning,
	"transactionorderdependence":    schemas.TypeFrontRunning,
	"transactionorderingdependence": schemas.TypeFrontRunning,
	"racecondition":                 schemas.TypeFrontRunning,

	// short addresses
	"shortaddress":       schemas.TypeShortAddresses,
	"shortaddresses":     schemas.TypeShortAddresses,
	"shortaddressattack": schemas.TypeShortAddresses,
}

// severityAliases maps lower-cased tool severities onto the ordinal scale.
var severityAliases = map[string]schemas.Severity{
	"critical":      schemas.SeverityCritical,
	"fatal":         schemas.SeverityCritical,
	"blocker":       schemas.SeverityCritical,
	"high":          schemas.SeverityHigh,
	"error":         schemas.SeverityHigh,
	"major":         schemas.SeverityHigh,
	"important":     schemas.SeverityHigh,
	"medium":        schemas.SeverityMedium,
	"moderate":      schemas.SeverityMedium,
	"warning":       schemas.SeverityMedium,
	"warn":          schemas.SeverityMedium,
	"low":           schemas.SeverityLow,
	"minor":         schemas.SeverityLow,
	"note":          schemas.SeverityLow,
	"informational": schemas.SeverityInformational,
	"information":   schemas.SeverityInformational,
	"info":          schemas.SeverityInformational,
	"optimization":  schemas.SeverityInformational,
	"gas":           schemas.SeverityInformational,
	"none":          schemas.SeverityInformational,
}

type categoryDefault struct {
	severity   schemas.Severity
	confidence float64
}

// categoryDefaults supplies severity and confidence when a tool omits them.
// Unmapped findings land in "other" with a deliberately low confidence.
var categoryDefaults = map[schemas.CanonicalType]categoryDefault{
	schemas.TypeReentrancy:             {schemas.SeverityHigh, 0.7},
	schemas.TypeAccessControl:          {schemas.SeverityHigh, 0.6},
	schemas.TypeArithmetic:             {schemas.SeverityHigh, 0.5},
	schemas.TypeUncheckedLowLevelCalls: {schemas.SeverityMedium, 0.6},
	schemas.TypeBadRandomness:          {schemas.SeverityMedium, 0.6},
	schemas.TypeTimeManipulation:       {schemas.SeverityMedium, 0.5},
	schemas.TypeDenialOfService:        {schemas.SeverityMedium, 0.5},
	schemas.TypeFrontRunning:           {schemas.SeverityMedium, 0.4},
	schemas.TypeShortAddresses:         {schemas.SeverityLow, 0.3},
	schemas.TypeOther:                  {schemas.SeverityLow, 0.3},
}

// Normalized is the result of mapping one adapter record.
type Normalized struct {
	CanonicalType       schemas.CanonicalType
	Severity            schemas.Severity
	WeaknessID          string
	Confidence          float64
	ConfidenceDefaulted bool
	MatchedBy           string
}

// Normalizer maps tool specific vocabulary onto the canonical taxonomy. It is
// stateless after construction and never rejects a record.
type Normalizer struct {
	weaknesses  providers.WeaknessProvider
	partialKeys []string
}

// NewNormalizer builds a Normalizer. A nil provider uses the built in registry.
func NewNormalizer(weaknesses providers.WeaknessProvider) *Normalizer {
	if weaknesses == nil {
		weaknesses = providers.NewRegistry()
	}

	keys := make([]string, 0, len(typeAliases))
	for k := range typeAliases {
		if len(k) >= minPartialKeyLen {
			keys = append(keys, k)
		}
	}
	// Longest key first so "reentrancyeth" beats "reentrancy"; ties are
	// alphabetical to keep the result independent of map iteration order.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	return &Normalizer{weaknesses: weaknesses, partialKeys: keys}
}

// Normalize maps a record. Lookup order is exact alias, weakness id, substring
// alias, then "other".
func (n *Normalizer) Normalize(rec schemas.AdapterRecord) Normalized {
	out := Normalized{}
	out.CanonicalType, out.MatchedBy = n.classify(rec.Type, rec.WeaknessID)

	if id := providers.CanonicalWeaknessID(rec.WeaknessID); id != "" {
		out.WeaknessID = id
	} else if strings.TrimSpace(rec.WeaknessID) != "" {
		out.WeaknessID = strings.TrimSpace(rec.WeaknessID)
	} else {
		out.WeaknessID = n.weaknesses.DefaultFor(out.CanonicalType)
	}

	defaults := categoryDefaults[out.CanonicalType]
	out.Severity = NormalizeSeverity(rec.Severity, defaults.severity)

	if rec.Confidence == nil || math.IsNaN(*rec.Confidence) {
		out.Confidence = defaults.confidence
		out.ConfidenceDefaulted = true
	} else {
		out.Confidence = normalizeConfidence(*rec.Confidence)
	}
	return out
}

func (n *Normalizer) classify(rawType, weaknessID string) (schemas.CanonicalType, string) {
	folded := FoldType(rawType)
	if t, ok := typeAliases[folded]; ok {
		return t, MatchedByAlias
	}
	if weaknessID != "" {
		if entry, ok := n.weaknesses.Lookup(weaknessID); ok && entry.Category != schemas.TypeOther && entry.Category != "" {
			return entry.Category, MatchedByWeakness
		}
	}
	// The raw type itself is sometimes a weakness id ("SWC-107").
	if entry, ok := n.weaknesses.Lookup(rawType); ok && entry.Category != schemas.TypeOther && entry.Category != "" {
		return entry.Category, MatchedByWeakness
	}
	if folded != "" {
		for _, key := range n.partialKeys {
			if strings.Contains(folded, key) {
				return typeAliases[key], MatchedByPartial
			}
		}
	}
	return schemas.TypeOther, MatchedByFallback
}

// FoldType lower-cases s and drops every rune that is not a letter or digit,
// so "Reentrancy-ETH", "reentrancy_eth" and "ReentrancyEth" all agree.
func FoldType(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeSeverity maps a tool severity onto the ordinal scale, returning
// fallback for empty or unknown values.
func NormalizeSeverity(raw string, fallback schemas.Severity) schemas.Severity {
	if s, ok := severityAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return fallback
}

// normalizeConfidence accepts [0,1] or percentage scale input and clamps it.
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		c /= 100
	}
	return math.Max(0, math.Min(1, c))
}
