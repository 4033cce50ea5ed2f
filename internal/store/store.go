package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrRunNotFound is returned when a run id has no stored clusters.
var ErrRunNotFound = errors.New("run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides a PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Schema creates the tables PersistRun writes to.
const Schema = `
        CREATE TABLE IF NOT EXISTS audit_runs (
            run_id TEXT NOT NULL,
            audit_id TEXT NOT NULL,
            generated_at TIMESTAMPTZ NOT NULL,
            confidence_threshold DOUBLE PRECISION NOT NULL,
            fp_threshold DOUBLE PRECISION NOT NULL,
            statistics JSONB NOT NULL,
            PRIMARY KEY (run_id, audit_id)
        );
        CREATE TABLE IF NOT EXISTS clusters (
            run_id TEXT NOT NULL,
            audit_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            actionable BOOLEAN NOT NULL,
            id TEXT NOT NULL,
            type TEXT NOT NULL,
            weakness_id TEXT NOT NULL,
            severity TEXT NOT NULL,
            confidence DOUBLE PRECISION NOT NULL,
            false_positive_probability DOUBLE PRECISION NOT NULL,
            is_cross_validated BOOLEAN NOT NULL,
            file TEXT NOT NULL,
            line INTEGER NOT NULL,
            function TEXT NOT NULL,
            snippet TEXT NOT NULL,
            tools TEXT[] NOT NULL,
            finding_ids TEXT[] NOT NULL,
            signals TEXT[] NOT NULL,
            trace TEXT[] NOT NULL,
            PRIMARY KEY (run_id, audit_id, position),
            FOREIGN KEY (run_id, audit_id) REFERENCES audit_runs (run_id, audit_id) ON DELETE CASCADE
        );
    `

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const sqlInsertRun = `
        INSERT INTO audit_runs (run_id, audit_id, generated_at, confidence_threshold, fp_threshold, statistics)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (run_id, audit_id) DO UPDATE SET
            generated_at = EXCLUDED.generated_at,
            confidence_threshold = EXCLUDED.confidence_threshold,
            fp_threshold = EXCLUDED.fp_threshold,
            statistics = EXCLUDED.statistics;
    `

const sqlDeleteClusters = `DELETE FROM clusters WHERE run_id = $1 AND audit_id = $2;`

const sqlSelectClusters = `
        SELECT id, type, weakness_id, severity, confidence, false_positive_probability, is_cross_validated,
               file, line, function, snippet, tools, finding_ids, signals, trace
        FROM clusters
        WHERE run_id = $1
        ORDER BY audit_id ASC, position ASC;
    `

// clusterColumns is the CopyFrom column order for the clusters table.
var clusterColumns = []string{
	"run_id", "audit_id", "position", "actionable",
	"id", "type", "weakness_id", "severity", "confidence", "false_positive_probability", "is_cross_validated",
	"file", "line", "function", "snippet", "tools", "finding_ids", "signals", "trace",
}

// PersistRun writes the run row and all of its clusters in one transaction.
// Persisting the same run and audit unit again replaces the earlier rows.
func (s *Store) PersistRun(ctx context.Context, report *schemas.AuditReport) error {
	stats, err := json.Marshal(report.Statistics)
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.AuditID, report.GeneratedAt.UTC(),
		report.Thresholds.Confidence, report.Thresholds.FalsePositive, stats,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteClusters, report.RunID, report.AuditID); err != nil {
		return fmt.Errorf("failed to clear previous clusters: %w", err)
	}

	if err := s.persistClusters(ctx, tx, report); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted run",
		zap.String("run_id", report.RunID),
		zap.String("audit_id", report.AuditID),
		zap.Int("clusters", len(report.Actionable)+len(report.LikelyFalsePositive)))
	return nil
}

func (s *Store) persistClusters(ctx context.Context, tx pgx.Tx, report *schemas.AuditReport) error {
	total := len(report.Actionable) + len(report.LikelyFalsePositive)
	if total == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, total)
	appendRows := func(records []schemas.ClusterRecord, actionable bool) {
		for _, c := range records {
			rows = append(rows, []interface{}{
				report.RunID, report.AuditID, len(rows), actionable,
				c.ID, string(c.Type), c.WeaknessID, string(c.Severity),
				c.Confidence.Final, c.Confidence.FalsePositiveProbability, c.IsCrossValidated,
				c.Location.File, c.Location.Line, c.Location.Function, c.Location.Snippet,
				nonNil(c.Tools), nonNil(c.FindingIDs), nonNil(c.Signals), nonNil(c.Trace),
			})
		}
	}
	appendRows(report.Actionable, true)
	appendRows(report.LikelyFalsePositive, false)

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"clusters"}, clusterColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy clusters: %w", err)
	}
	if int(copyCount) != total {
		return fmt.Errorf("mismatch in copied clusters count: expected %d, got %d", total, copyCount)
	}
	return nil
}

// GetClustersByRunID returns every cluster of a run: audit units in id order,
// each in the order it was persisted.
func (s *Store) GetClustersByRunID(ctx context.Context, runID string) ([]schemas.ClusterRecord, error) {
	rows, err := s.pool.Query(ctx, sqlSelectClusters, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []schemas.ClusterRecord
	for rows.Next() {
		var c schemas.ClusterRecord
		var typ, severity string

		err := rows.Scan(
			&c.ID, &typ, &c.WeaknessID, &severity,
			&c.Confidence.Final, &c.Confidence.FalsePositiveProbability, &c.IsCrossValidated,
			&c.Location.File, &c.Location.Line, &c.Location.Function, &c.Location.Snippet,
			&c.Tools, &c.FindingIDs, &c.Signals, &c.Trace,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster row: %w", err)
		}

		c.Type = schemas.CanonicalType(typ)
		c.Severity = schemas.Severity(severity)
		c.ToolCount = len(c.Tools)
		c.FindingCount = len(c.FindingIDs)
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	if len(clusters) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return clusters, nil
}

// nonNil keeps text[] columns from being written as NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
