// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/reporting"
	"github.com/xkilldash9x/scalpel-audit/internal/reporting/sarif"
)

func decodeSARIF(t *testing.T, w *MockWriteCloser) *sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &log), "output must be valid JSON")
	require.Len(t, log.Runs, 1)
	return &log
}

func TestSARIFReporter_Initialization(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, testToolVersion)
	require.NoError(t, r.Close())
	assert.True(t, w.Closed)

	log := decodeSARIF(t, w)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	assert.Equal(t, reporting.SARIFSchema, log.Schema)

	driver := log.Runs[0].Tool.Driver
	assert.Equal(t, reporting.ToolName, driver.Name)
	require.NotNil(t, driver.Version)
	assert.Equal(t, testToolVersion, *driver.Version)
	assert.Empty(t, log.Runs[0].Results)
}

func TestSARIFReporter_ClustersBecomeResults(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, testToolVersion)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	log := decodeSARIF(t, w)
	run := log.Runs[0]
	require.NotNil(t, run.AutomationDetails)
	assert.Equal(t, "scalpel-audit/run-1", run.AutomationDetails.ID)

	// One rule per canonical type, in first-seen order.
	rules := run.Tool.Driver.Rules
	require.Len(t, rules, 2)
	assert.Equal(t, "SCALPEL-REENTRANCY", rules[0].ID)
	assert.Equal(t, "SCALPEL-TIME_MANIPULATION", rules[1].ID)
	require.NotNil(t, rules[0].Help)
	assert.Contains(t, *rules[0].Help.Markdown, "SWC-107 Reentrancy")

	require.Len(t, run.Results, 3)
	first, auction, weak := run.Results[0], run.Results[1], run.Results[2]

	assert.Equal(t, "SCALPEL-REENTRANCY", first.RuleID)
	assert.Equal(t, 0, first.RuleIndex)
	assert.Equal(t, sarif.LevelError, first.Level)
	assert.Empty(t, first.Suppressions)
	assert.Equal(t, "Reentrancy reported by slither, mythril (cross-validated). Confidence 0.97, false positive probability 0.03.", *first.Message.Text)
	require.Len(t, first.Locations, 1)
	physical := first.Locations[0].PhysicalLocation
	assert.Equal(t, "contracts/Bank.sol", *physical.ArtifactLocation.URI)
	require.NotNil(t, physical.Region)
	assert.Equal(t, 42, physical.Region.StartLine)
	require.Len(t, first.Locations[0].LogicalLocations, 1)
	assert.Equal(t, "Bank.withdraw", *first.Locations[0].LogicalLocations[0].FullyQualifiedName)
	assert.Equal(t, "CL-aaaaaaaaaaaa", first.PartialFingerprints["clusterId/v1"])
	assert.Equal(t, true, (*first.Properties)["crossValidated"])
	assert.Equal(t, "SWC-107", (*first.Properties)["weaknessId"])

	assert.Equal(t, 1, auction.RuleIndex)
	assert.Equal(t, sarif.LevelNote, auction.Level)
	require.Len(t, auction.Suppressions, 1)
	assert.Equal(t, sarif.SuppressionExternal, auction.Suppressions[0].Kind)
	assert.Contains(t, *auction.Suppressions[0].Justification, "false positive probability 0.80")
	assert.Nil(t, auction.Locations[0].PhysicalLocation.Region, "no line means no region")

	assert.Equal(t, 0, weak.RuleIndex, "rules are reused across partitions")
	assert.Equal(t, sarif.LevelWarning, weak.Level)
	assert.Empty(t, weak.Locations)
}

func TestSARIFReporter_LocationFingerprintIgnoresLine(t *testing.T) {
	report := sampleReport()
	moved := sampleReport()
	moved.Actionable[0].Location.Line = 57

	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, testToolVersion)
	require.NoError(t, r.Write(report))
	require.NoError(t, r.Write(moved))
	require.NoError(t, r.Close())

	results := decodeSARIF(t, w).Runs[0].Results
	require.Len(t, results, 6)
	assert.Equal(t, results[0].PartialFingerprints["locationHash/v1"], results[3].PartialFingerprints["locationHash/v1"])

	sum := sha1.Sum([]byte("contracts/Bank.sol|reentrancy|Bank.withdraw"))
	assert.Equal(t, hex.EncodeToString(sum[:]), results[0].PartialFingerprints["locationHash/v1"])
	assert.NotEqual(t, results[0].PartialFingerprints["locationHash/v1"], results[2].PartialFingerprints["locationHash/v1"])
}

func TestSARIFReporter_ConcurrentWrites(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewSARIFReporter(w, testToolVersion)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report := sampleReport()
			report.AuditID = fmt.Sprintf("unit-%d", i)
			assert.NoError(t, r.Write(report))
		}(i)
	}
	wg.Wait()
	require.NoError(t, r.Close())

	run := decodeSARIF(t, w).Runs[0]
	assert.Len(t, run.Results, writers*3)
	assert.Len(t, run.Tool.Driver.Rules, 2)
}

func TestSARIFReporter_Errors(t *testing.T) {
	r := reporting.NewSARIFReporter(newMockWriter(), testToolVersion)
	assert.Error(t, r.Write(nil))

	w := newMockWriter()
	w.FailWrite = true
	r = reporting.NewSARIFReporter(w, testToolVersion)
	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode SARIF output")
	assert.True(t, w.Closed)

	w = newMockWriter()
	w.FailClose = true
	r = reporting.NewSARIFReporter(w, testToolVersion)
	err = r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close output writer")
}

func TestRuleID(t *testing.T) {
	assert.Equal(t, "SCALPEL-UNCHECKED_LOW_LEVEL_CALLS", reporting.RuleID(schemas.TypeUncheckedLowLevelCalls))
	assert.Equal(t, "SCALPEL-WEIRD-TYPE", reporting.RuleID("weird type!"))
	assert.Equal(t, "SCALPEL-OTHER", reporting.RuleID(""))
}
