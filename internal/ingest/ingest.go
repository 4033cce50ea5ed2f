// internal/ingest/ingest.go
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsupportedFormat is returned when an adapter file is neither a JSON
// array nor JSON Lines.
var ErrUnsupportedFormat = errors.New("unsupported adapter output format")

// maxLineBytes bounds a single JSON Lines record.
const maxLineBytes = 4 << 20

// Input names one adapter output file.
type Input struct {
	Tool string
	Path string
}

// Batch is the decoded output of one tool.
type Batch struct {
	Tool    string
	Path    string
	Records []schemas.AdapterRecord
}

// ParseInput parses a "tool=path" flag value.
func ParseInput(spec string) (Input, error) {
	tool, path, ok := strings.Cut(spec, "=")
	tool, path = strings.TrimSpace(tool), strings.TrimSpace(path)
	if !ok || tool == "" || path == "" {
		return Input{}, fmt.Errorf("invalid input %q, expected tool=path", spec)
	}
	return Input{Tool: tool, Path: path}, nil
}

// Decode reads adapter records from r, either a JSON array or JSON Lines. A
// garbled element or line is reported but does not discard the records around
// it. The returned records are valid even when err is non-nil.
func Decode(r io.Reader) ([]schemas.AdapterRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read adapter output: %w", err)
	}

	switch first {
	case '[':
		return decodeArray(br)
	case '{':
		return decodeLines(br)
	default:
		return nil, fmt.Errorf("%w: unexpected leading byte %q", ErrUnsupportedFormat, first)
	}
}

func decodeArray(r io.Reader) ([]schemas.AdapterRecord, error) {
	var elements []jsoniter.RawMessage
	if err := json.NewDecoder(r).Decode(&elements); err != nil {
		return nil, fmt.Errorf("failed to decode adapter array: %w", err)
	}

	records := make([]schemas.AdapterRecord, 0, len(elements))
	var errs error
	for i, raw := range elements {
		var rec schemas.AdapterRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func decodeLines(r io.Reader) ([]schemas.AdapterRecord, error) {
	var records []schemas.AdapterRecord
	var errs error

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec schemas.AdapterRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to scan adapter output: %w", err))
	}
	return records, errs
}

// peekNonSpace returns the first significant byte without consuming it,
// skipping whitespace and a UTF-8 byte order mark.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.Discard(1)
			continue
		}
		return b[0], nil
	}
}

// Loader reads adapter output files from a file system.
type Loader struct {
	fs     afero.Fs
	logger *zap.Logger
}

// NewLoader creates a Loader. A nil fs reads the OS file system.
func NewLoader(fs afero.Fs, logger *zap.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fs: fs, logger: logger.Named("ingest")}
}

// Load decodes every input independently and returns the batches that
// produced records, in input order. Failures are aggregated into the returned
// error; one tool's garbled output never prevents loading the others.
func (l *Loader) Load(inputs []Input) ([]Batch, error) {
	var batches []Batch
	var errs error

	for _, in := range inputs {
		records, err := l.loadOne(in)
		if err != nil {
			l.logger.Warn("Adapter output partially or fully unreadable.",
				zap.String("tool", in.Tool), zap.String("path", in.Path), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("tool %s (%s): %w", in.Tool, in.Path, err))
		}
		if len(records) == 0 && err != nil {
			continue
		}
		batches = append(batches, Batch{Tool: in.Tool, Path: in.Path, Records: records})
		l.logger.Debug("Loaded adapter output", zap.String("tool", in.Tool), zap.Int("records", len(records)))
	}
	return batches, errs
}

func (l *Loader) loadOne(in Input) ([]schemas.AdapterRecord, error) {
	path, err := homedir.Expand(in.Path)
	if err != nil {
		return nil, err
	}
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
