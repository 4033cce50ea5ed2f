// internal/results/providers/weakness.go
package providers

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// WeaknessEntry holds details about a standard weakness identifier.
type WeaknessEntry struct {
	ID       string
	Title    string
	Category schemas.CanonicalType
}

// WeaknessProvider resolves weakness identifiers (SWC and CWE) to entries.
type WeaknessProvider interface {
	Lookup(id string) (WeaknessEntry, bool)
	DefaultFor(category schemas.CanonicalType) string
}

// Registry is an immutable, in-memory WeaknessProvider preloaded with the SWC
// registry and the CWE ids smart-contract tools most commonly emit.
type Registry struct {
	entries  map[string]WeaknessEntry
	defaults map[schemas.CanonicalType]string
}

// NewRegistry creates a Registry with the built in data set.
func NewRegistry() *Registry {
	entries := make(map[string]WeaknessEntry, len(swcEntries)+len(cweEntries))
	for _, e := range swcEntries {
		entries[e.ID] = e
	}
	for _, e := range cweEntries {
		entries[e.ID] = e
	}
	return &Registry{
		entries: entries,
		defaults: map[schemas.CanonicalType]string{
			schemas.TypeReentrancy:             "SWC-107",
			schemas.TypeAccessControl:          "SWC-105",
			schemas.TypeArithmetic:             "SWC-101",
			schemas.TypeUncheckedLowLevelCalls: "SWC-104",
			schemas.TypeBadRandomness:          "SWC-120",
			schemas.TypeTimeManipulation:       "SWC-116",
			schemas.TypeDenialOfService:        "SWC-113",
			schemas.TypeFrontRunning:           "SWC-114",
		},
	}
}

// Lookup returns the entry for id. The id may be written in any common form
// ("SWC-107", "swc_107", "CWE 841").
func (r *Registry) Lookup(id string) (WeaknessEntry, bool) {
	canonical := CanonicalWeaknessID(id)
	if canonical == "" {
		return WeaknessEntry{}, false
	}
	e, ok := r.entries[canonical]
	return e, ok
}

// DefaultFor returns the representative SWC id for a category, or "" when the
// category has none (short_addresses, other).
func (r *Registry) DefaultFor(category schemas.CanonicalType) string {
	return r.defaults[category]
}

var weaknessIDPattern = regexp.MustCompile(`(?i)^\s*(swc|cwe)[\s_\-:]*0*(\d+)\s*$`)

// CanonicalWeaknessID folds an identifier into "SWC-<n>" or "CWE-<n>".
// Unrecognised input yields "".
func CanonicalWeaknessID(id string) string {
	m := weaknessIDPattern.FindStringSubmatch(id)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1]) + "-" + m[2]
}

var swcEntries = []WeaknessEntry{
	{"SWC-100", "Function Default Visibility", schemas.TypeAccessControl},
	{"SWC-101", "Integer Overflow and Underflow", schemas.TypeArithmetic},
	{"SWC-102", "Outdated Compiler Version", schemas.TypeOther},
	{"SWC-103", "Floating Pragma", schemas.TypeOther},
	{"SWC-104", "Unchecked Call Return Value", schemas.TypeUncheckedLowLevelCalls},
	{"SWC-105", "Unprotected Ether Withdrawal", schemas.TypeAccessControl},
	{"SWC-106", "Unprotected SELFDESTRUCT Instruction", schemas.TypeAccessControl},
	{"SWC-107", "Reentrancy", schemas.TypeReentrancy},
	{"SWC-108", "State Variable Default Visibility", schemas.TypeOther},
	{"SWC-109", "Uninitialized Storage Pointer", schemas.TypeOther},
	{"SWC-110", "Assert Violation", schemas.TypeOther},
	{"SWC-111", "Use of Deprecated Solidity Functions", schemas.TypeOther},
	{"SWC-112", "Delegatecall to Untrusted Callee", schemas.TypeAccessControl},
	{"SWC-113", "DoS with Failed Call", schemas.TypeDenialOfService},
	{"SWC-114", "Transaction Order Dependence", schemas.TypeFrontRunning},
	{"SWC-115", "Authorization through tx.origin", schemas.TypeAccessControl},
	{"SWC-116", "Block values as a proxy for time", schemas.TypeTimeManipulation},
	{"SWC-117", "Signature Malleability", schemas.TypeOther},
	{"SWC-118", "Incorrect Constructor Name", schemas.TypeAccessControl},
	{"SWC-119", "Shadowing State Variables", schemas.TypeOther},
	{"SWC-120", "Weak Sources of Randomness from Chain Attributes", schemas.TypeBadRandomness},
	{"SWC-121", "Missing Protection against Signature Replay Attacks", schemas.TypeOther},
	{"SWC-122", "Lack of Proper Signature Verification", schemas.TypeAccessControl},
	{"SWC-123", "Requirement Violation", schemas.TypeOther},
	{"SWC-124", "Write to Arbitrary Storage Location", schemas.TypeAccessControl},
	{"SWC-125", "Incorrect Inheritance Order", schemas.TypeOther},
	{"SWC-126", "Insufficient Gas Griefing", schemas.TypeDenialOfService},
	{"SWC-127", "Arbitrary Jump with Function Type Variable", schemas.TypeOther},
	{"SWC-128", "DoS With Block Gas Limit", schemas.TypeDenialOfService},
	{"SWC-129", "Typographical Error", schemas.TypeOther},
	{"SWC-130", "Right-To-Left-Override control character (U+202E)", schemas.TypeOther},
	{"SWC-131", "Presence of unused variables", schemas.TypeOther},
	{"SWC-132", "Unexpected Ether balance", schemas.TypeOther},
	{"SWC-133", "Hash Collisions With Multiple Variable Length Arguments", schemas.TypeOther},
	{"SWC-134", "Message call with hardcoded gas amount", schemas.TypeOther},
	{"SWC-135", "Code With No Effects", schemas.TypeOther},
	{"SWC-136", "Unencrypted Private Data On-Chain", schemas.TypeOther},
}

var cweEntries = []WeaknessEntry{
	{"CWE-841", "Improper Enforcement of Behavioral Workflow", schemas.TypeReentrancy},
	{"CWE-1265", "Unintended Reentrant Invocation of Non-reentrant Code", schemas.TypeReentrancy},
	{"CWE-284", "Improper Access Control", schemas.TypeAccessControl},
	{"CWE-285", "Improper Authorization", schemas.TypeAccessControl},
	{"CWE-862", "Missing Authorization", schemas.TypeAccessControl},
	{"CWE-190", "Integer Overflow or Wraparound", schemas.TypeArithmetic},
	{"CWE-191", "Integer Underflow (Wrap or Wraparound)", schemas.TypeArithmetic},
	{"CWE-682", "Incorrect Calculation", schemas.TypeArithmetic},
	{"CWE-252", "Unchecked Return Value", schemas.TypeUncheckedLowLevelCalls},
	{"CWE-330", "Use of Insufficiently Random Values", schemas.TypeBadRandomness},
	{"CWE-338", "Use of Cryptographically Weak Pseudo-Random Number Generator (PRNG)", schemas.TypeBadRandomness},
	{"CWE-829", "Inclusion of Functionality from Untrusted Control Sphere", schemas.TypeTimeManipulation},
	{"CWE-400", "Uncontrolled Resource Consumption", schemas.TypeDenialOfService},
	{"CWE-703", "Improper Check or Handling of Exceptional Conditions", schemas.TypeDenialOfService},
	{"CWE-362", "Concurrent Execution using Shared Resource with Improper Synchronization ('Race Condition')", schemas.TypeFrontRunning},
}
