package schemas

import (
	"context"
)

// -- Store Interface --

// Store persists correlation runs. The PostgreSQL implementation lives in
// internal/store; tests substitute their own.
type Store interface {
	// PersistRun saves a report and all of its clusters atomically.
	PersistRun(ctx context.Context, report *AuditReport) error
	// GetClustersByRunID returns the clusters of a run in their stored order.
	GetClustersByRunID(ctx context.Context, runID string) ([]ClusterRecord, error)
}

// -- Reporter Interface --

// Reporter writes audit reports to an output.
type Reporter interface {
	// Write adds a single audit report.
	Write(report *AuditReport) error
	// Close finalizes the output and releases the underlying writer.
	Close() error
}
