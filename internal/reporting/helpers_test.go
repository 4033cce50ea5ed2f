// internal/reporting/helpers_test.go
package reporting_test

import (
	"bytes"
	"errors"
	"time"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

const testToolVersion = "v1.0.0-test"

// MockWriteCloser allows capturing output and simulating I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	Closed    bool
}

func newMockWriter() *MockWriteCloser {
	return &MockWriteCloser{Buffer: new(bytes.Buffer)}
}

// Write writes to the internal buffer, simulating a write error if configured.
func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

// Close simulates a closing error if configured.
func (m *MockWriteCloser) Close() error {
	m.Closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func sampleReport() *schemas.AuditReport {
	return &schemas.AuditReport{
		RunID:       "run-1",
		AuditID:     "bank",
		GeneratedAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		Thresholds:  schemas.Thresholds{Confidence: 0.5, FalsePositive: 0.6},
		Actionable: []schemas.ClusterRecord{
			{
				ID:               "CL-aaaaaaaaaaaa",
				Type:             schemas.TypeReentrancy,
				WeaknessID:       "SWC-107",
				WeaknessTitle:    "Reentrancy",
				Severity:         schemas.SeverityHigh,
				Confidence:       schemas.ConfidenceRecord{Final: 0.97, FalsePositiveProbability: 0.03},
				IsCrossValidated: true,
				Location:         schemas.Location{File: "./contracts/Bank.sol", Line: 42, Function: "Bank.withdraw", Snippet: "msg.sender.call{value: bal}(\"\");"},
				ToolCount:        2,
				Tools:            []string{"slither", "mythril"},
				FindingCount:     2,
				FindingIDs:       []string{"slither#1", "mythril#1"},
				Trace:            []string{"noisy_or(tools=2)=0.8200", "cross_validation_bonus(+0.15)=0.9700"},
			},
		},
		LikelyFalsePositive: []schemas.ClusterRecord{
			{
				ID:         "CL-bbbbbbbbbbbb",
				Type:       schemas.TypeTimeManipulation,
				Severity:   schemas.SeverityLow,
				Confidence: schemas.ConfidenceRecord{Final: 0.4, FalsePositiveProbability: 0.8},
				Location:   schemas.Location{File: "contracts/Auction.sol"},
				ToolCount:  1,
				Tools:      []string{"slither"},
				Signals:    []string{"test_path"},
			},
			{
				ID:         "CL-cccccccccccc",
				Type:       schemas.TypeReentrancy,
				Severity:   schemas.SeverityMedium,
				Confidence: schemas.ConfidenceRecord{Final: 0.3, FalsePositiveProbability: 0.7},
				ToolCount:  1,
				Tools:      []string{"smartcheck"},
			},
		},
		Statistics: schemas.Statistics{RawFindings: 4, Clusters: 3, CrossValidated: 1, Actionable: 1, LikelyFalsePositive: 2},
	}
}
