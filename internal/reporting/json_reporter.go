// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
	"github.com/xkilldash9x/scalpel-audit/internal/observability"
)

// JSONDocument is the top level object the JSON reporter emits. Reports keep
// the order they were written in.
type JSONDocument struct {
	Tool    string                 `json:"tool"`
	Version string                 `json:"version"`
	Reports []*schemas.AuditReport `json:"reports"`
}

// JSONReporter buffers audit reports and writes them as one document on
// Close. It is thread safe.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
	doc    JSONDocument
}

// NewJSONReporter creates a reporter that owns writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		doc: JSONDocument{
			Tool:    ToolName,
			Version: toolVersion,
			Reports: []*schemas.AuditReport{},
		},
	}
}

// Write buffers one report.
func (r *JSONReporter) Write(report *schemas.AuditReport) error {
	if report == nil {
		return fmt.Errorf("cannot write a nil report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Reports = append(r.doc.Reports, report)
	return nil
}

// Close encodes the buffered document and closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(r.doc)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Wrote JSON report", zap.Int("reports", len(r.doc.Reports)))
	return nil
}
