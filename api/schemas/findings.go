package schemas

import (
	"strings"
)

// -- Finding Schemas --

// Severity is the standardized five level ordinal scale every tool severity is
// mapped onto. Values are lowercase to align with the database columns.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
)

// Rank returns the ordinal position of the severity, higher is worse.
// Unknown values rank below informational.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInformational:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CanonicalType is the tool independent vulnerability category.
type CanonicalType string

// The closed taxonomy of canonical vulnerability categories.
const (
	TypeReentrancy             CanonicalType = "reentrancy"
	TypeAccessControl          CanonicalType = "access_control"
	TypeArithmetic             CanonicalType = "arithmetic"
	TypeUncheckedLowLevelCalls CanonicalType = "unchecked_low_level_calls"
	TypeBadRandomness          CanonicalType = "bad_randomness"
	TypeTimeManipulation       CanonicalType = "time_manipulation"
	TypeDenialOfService        CanonicalType = "denial_of_service"
	TypeFrontRunning           CanonicalType = "front_running"
	TypeShortAddresses         CanonicalType = "short_addresses"
	TypeOther                  CanonicalType = "other"
)

// CanonicalTypes lists the taxonomy in its declared order.
var CanonicalTypes = []CanonicalType{
	TypeReentrancy,
	TypeAccessControl,
	TypeArithmetic,
	TypeUncheckedLowLevelCalls,
	TypeBadRandomness,
	TypeTimeManipulation,
	TypeDenialOfService,
	TypeFrontRunning,
	TypeShortAddresses,
	TypeOther,
}

// Valid reports whether t is a member of the closed taxonomy.
func (t CanonicalType) Valid() bool {
	for _, c := range CanonicalTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Location identifies where a finding was reported. Only File is expected from
// most tools; Line and Function are optional and zero when unknown.
type Location struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

// HasLine reports whether a line number is known.
func (l Location) HasLine() bool { return l.Line > 0 }

// NormalizedFile returns the file path with separators and leading "./" folded
// so that two tools reporting the same file produce the same bucket key.
func (l Location) NormalizedFile() string {
	f := strings.ReplaceAll(strings.TrimSpace(l.File), "\\", "/")
	for strings.HasPrefix(f, "./") {
		f = strings.TrimPrefix(f, "./")
	}
	return f
}

// RawFinding is one normalized report from one tool. It is immutable once the
// engine has ingested it; clusters hold pointers to it but never modify it.
type RawFinding struct {
	// ID is "<tool>#<seq>", unique within a snapshot.
	ID string `json:"id"`
	// Seq is the global ingestion order inside the snapshot.
	Seq  int    `json:"seq"`
	Tool string `json:"tool"`

	RawType       string        `json:"raw_type"`
	CanonicalType CanonicalType `json:"canonical_type"`
	Severity      Severity      `json:"severity"`
	// MatchedBy records which normalization step produced CanonicalType.
	MatchedBy string `json:"matched_by"`

	Confidence float64 `json:"confidence"`
	// ConfidenceDefaulted is set when the tool reported no confidence and the
	// category default was used instead.
	ConfidenceDefaulted bool `json:"confidence_defaulted,omitempty"`

	Location   Location       `json:"location"`
	WeaknessID string         `json:"weakness_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
