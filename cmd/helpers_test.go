// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/config"
)

// -- Mock Implementations for Testing --

type mockStore struct {
	mock.Mock
}

func (m *mockStore) PersistRun(ctx context.Context, report *schemas.AuditReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *mockStore) GetClustersByRunID(ctx context.Context, runID string) ([]schemas.ClusterRecord, error) {
	args := m.Called(ctx, runID)
	records, _ := args.Get(0).([]schemas.ClusterRecord)
	return records, args.Error(1)
}

// mockStoreProvider hands out a fixed store and records whether cleanup ran.
type mockStoreProvider struct {
	store   schemas.Store
	err     error
	created int
	cleaned int
}

func (p *mockStoreProvider) Create(ctx context.Context, cfg config.Interface) (schemas.Store, func(), error) {
	p.created++
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned++ }, nil
}

// executeCommand runs a fresh command tree and captures its output streams.
func executeCommand(t *testing.T, provider storeProvider, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := newRootCmd(provider)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// slitherOutput reports one reentrancy and one timestamp issue.
const slitherOutput = `[
  {"check": "reentrancy-eth", "impact": "High", "confidence": 0.8,
   "filename": "contracts/Bank.sol", "lineno": 42, "function": "Bank.withdraw",
   "description": "Reentrancy in Bank.withdraw"},
  {"check": "timestamp", "impact": "Low", "confidence": 0.2,
   "filename": "contracts/Auction.sol", "lineno": 10,
   "description": "Dangerous comparison using block.timestamp"}
]`

// mythrilOutput confirms the reentrancy one line below.
const mythrilOutput = `{"title": "reentrancy", "severity": "Medium", "confidence": 0.7, "file": "contracts/Bank.sol", "line": 43, "swc_id": "SWC-107", "message": "External call followed by state change"}
`

// analyzerInputs writes both tool outputs and returns their paths.
func analyzerInputs(t *testing.T) (dir, slither, mythril string) {
	t.Helper()
	dir = t.TempDir()
	return dir, writeFile(t, dir, "slither.json", slitherOutput), writeFile(t, dir, "mythril.jsonl", mythrilOutput)
}
