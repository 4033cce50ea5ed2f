// internal/ingest/ingest_test.go
package ingest

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

func TestParseInput(t *testing.T) {
	in, err := ParseInput(" slither = out/slither.json ")
	require.NoError(t, err)
	assert.Equal(t, Input{Tool: "slither", Path: "out/slither.json"}, in)

	for _, bad := range []string{"slither", "=path", "slither=", ""} {
		_, err := ParseInput(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecode_Array(t *testing.T) {
	input := `
	[
	  {"check": "reentrancy-eth", "impact": "High", "confidence": "Medium",
	   "filename": "contracts/Bank.sol", "lineno": "42:8", "swc_id": "SWC-107",
	   "description": "Reentrancy in Bank.withdraw", "detector_version": 3},
	  {"type": "integer-overflow", "confidence": 87, "file": "Token.sol", "line": 7}
	]`

	records, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "reentrancy-eth", first.Type)
	assert.Equal(t, "High", first.Severity)
	require.NotNil(t, first.Confidence)
	assert.Equal(t, 0.5, *first.Confidence)
	assert.Equal(t, "contracts/Bank.sol", first.File)
	assert.Equal(t, 42, first.Line)
	assert.Equal(t, "SWC-107", first.WeaknessID)
	assert.Equal(t, "Reentrancy in Bank.withdraw", first.Message)
	assert.Equal(t, float64(3), first.Metadata["detector_version"])

	require.NotNil(t, records[1].Confidence)
	assert.Equal(t, 87.0, *records[1].Confidence)
	assert.Nil(t, records[1].Metadata)
}

func TestDecode_ArrayKeepsValidElements(t *testing.T) {
	input := `[
	  {"type": "reentrancy", "file": "Bank.sol", "line": 10},
	  "garbage",
	  {"type": "tx-origin", "file": "Wallet.sol"},
	  42
	]`

	records, err := Decode(strings.NewReader(input))
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "element 1")
	assert.Contains(t, errs[1].Error(), "element 3")

	require.Len(t, records, 2, "one malformed element never drops the others")
	assert.Equal(t, "reentrancy", records[0].Type)
	assert.Equal(t, "tx-origin", records[1].Type)
}

func TestLoader_KeepsPartialArray(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/slither.json", []byte(`[{"check": "reentrancy-eth"}, "oops", [1]]`), 0o644))

	batches, err := NewLoader(fs, zaptest.NewLogger(t)).Load([]Input{{Tool: "slither", Path: "/out/slither.json"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool slither")
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Records, 1)
}

func TestDecode_JSONLines(t *testing.T) {
	input := "\xEF\xBB\xBF" + `{"type": "tx-origin", "file": "A.sol"}

{"type": "timestamp", "confidence": "80%"}
not json at all
{"type": "unchecked-send"}
`
	records, err := Decode(strings.NewReader(input))
	require.Error(t, err, "the garbled line is reported")
	assert.Contains(t, err.Error(), "line 4")
	require.Len(t, records, 3, "lines around the garbled one survive")
	assert.Equal(t, "tx-origin", records[0].Type)
	require.NotNil(t, records[1].Confidence)
	assert.InDelta(t, 0.8, *records[1].Confidence, 1e-12)
	assert.Nil(t, records[2].Confidence)
}

func TestDecode_EmptyAndUnsupported(t *testing.T) {
	records, err := Decode(strings.NewReader("  \n\t "))
	assert.NoError(t, err)
	assert.Empty(t, records)

	_, err = Decode(strings.NewReader("<xml/>"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode(strings.NewReader(`[{"type": "a"},`))
	assert.Error(t, err)
}

func TestLoader_PerToolContainment(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/slither.json", []byte(`[{"check": "reentrancy-eth"}]`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/mythril.jsonl", []byte("{\"title\": \"SWC-107\"}\n{\"title\": \"SWC-101\"}\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/broken.json", []byte(`%%%`), 0o644))

	loader := NewLoader(fs, zaptest.NewLogger(t))
	batches, err := loader.Load([]Input{
		{Tool: "slither", Path: "/out/slither.json"},
		{Tool: "broken", Path: "/out/broken.json"},
		{Tool: "missing", Path: "/out/missing.json"},
		{Tool: "mythril", Path: "/out/mythril.jsonl"},
	})

	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "tool broken")
	assert.Contains(t, err.Error(), "tool missing")

	require.Len(t, batches, 2)
	assert.Equal(t, "slither", batches[0].Tool)
	assert.Len(t, batches[0].Records, 1)
	assert.Equal(t, "mythril", batches[1].Tool)
	assert.Len(t, batches[1].Records, 2)
}
