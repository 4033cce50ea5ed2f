package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-audit/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return &Store{pool: mockPool, log: logger}, mockPool
}

func testReport(runID string) *schemas.AuditReport {
	return &schemas.AuditReport{
		RunID:       runID,
		AuditID:     "bank",
		GeneratedAt: time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
		Thresholds:  schemas.Thresholds{Confidence: 0.5, FalsePositive: 0.6},
		Actionable: []schemas.ClusterRecord{{
			ID:         "CL-0123456789ab",
			Type:       schemas.TypeReentrancy,
			Severity:   schemas.SeverityHigh,
			Confidence: schemas.ConfidenceRecord{Final: 0.97, FalsePositiveProbability: 0.03},
			Location:   schemas.Location{File: "Bank.sol", Line: 42},
			Tools:      []string{"slither", "mythril"},
			FindingIDs: []string{"slither#1", "mythril#1"},
		}},
		LikelyFalsePositive: []schemas.ClusterRecord{{
			ID:         "CL-ba9876543210",
			Type:       schemas.TypeTimeManipulation,
			Severity:   schemas.SeverityLow,
			Confidence: schemas.ConfidenceRecord{Final: 0.4, FalsePositiveProbability: 0.8},
			Tools:      []string{"slither"},
		}},
		Statistics: schemas.Statistics{RawFindings: 3, Clusters: 2},
	}
}

func expectRunInsert(mockPool pgxmock.PgxPoolIface, report *schemas.AuditReport) {
	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(report.RunID, report.AuditID, report.GeneratedAt, 0.5, 0.6, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteClusters)).
		WithArgs(report.RunID, report.AuditID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
}

func TestNew(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should accept a nil logger", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(context.Background(), mockPool, nil)
		require.NoError(t, err)
		assert.NotNil(t, s.log)
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS audit_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist the run and its clusters without rollback errors", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(core))
		report := testReport(uuid.NewString())

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report)
		mockPool.ExpectCopyFrom(pgx.Identifier{"clusters"}, clusterColumns).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistRun(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.Len(), "a rollback after commit must not be logged")
	})

	t.Run("should skip the copy when there are no clusters", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := testReport("run-empty")
		report.Actionable, report.LikelyFalsePositive = nil, nil

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistRun(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return error when begin fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		beginErr := errors.New("connection reset")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.PersistRun(ctx, testReport("run-1"))
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the copy fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := testReport("run-2")
		copyErr := errors.New("copy failed")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report)
		mockPool.ExpectCopyFrom(pgx.Identifier{"clusters"}, clusterColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.PersistRun(ctx, report)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.Contains(t, err.Error(), "failed to copy clusters")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a short copy", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := testReport("run-3")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report)
		mockPool.ExpectCopyFrom(pgx.Identifier{"clusters"}, clusterColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.PersistRun(ctx, report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the run insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := testReport("run-4")
		insertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(report.RunID, report.AuditID, report.GeneratedAt, 0.5, 0.6, pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.PersistRun(ctx, report)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetClustersByRunID(t *testing.T) {
	ctx := context.Background()
	columns := []string{
		"id", "type", "weakness_id", "severity", "confidence", "false_positive_probability", "is_cross_validated",
		"file", "line", "function", "snippet", "tools", "finding_ids", "signals", "trace",
	}

	t.Run("should map rows back to records", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rows := pgxmock.NewRows(columns).
			AddRow("CL-0123456789ab", "reentrancy", "SWC-107", "high", 0.97, 0.03, true,
				"Bank.sol", 42, "withdraw", "", []string{"slither", "mythril"}, []string{"slither#1", "mythril#1"},
				[]string{}, []string{"noisy_or(tools=2)=0.8200"}).
			AddRow("CL-ba9876543210", "time_manipulation", "", "low", 0.4, 0.8, false,
				"", 0, "", "", []string{"slither"}, []string{"slither#2"}, []string{"test_path"}, []string{})
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectClusters)).WithArgs("run-1").WillReturnRows(rows)

		records, err := s.GetClustersByRunID(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, records, 2)

		first := records[0]
		assert.Equal(t, schemas.TypeReentrancy, first.Type)
		assert.Equal(t, schemas.SeverityHigh, first.Severity)
		assert.Equal(t, 0.97, first.Confidence.Final)
		assert.True(t, first.IsCrossValidated)
		assert.Equal(t, schemas.Location{File: "Bank.sol", Line: 42, Function: "withdraw"}, first.Location)
		assert.Equal(t, 2, first.ToolCount)
		assert.Equal(t, 2, first.FindingCount)
		assert.Equal(t, []string{"test_path"}, records[1].Signals)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return ErrRunNotFound for an unknown run", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectClusters)).WithArgs("nope").WillReturnRows(pgxmock.NewRows(columns))

		_, err := s.GetClustersByRunID(ctx, "nope")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("should wrap query errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectClusters)).WithArgs("run-1").WillReturnError(queryErr)

		_, err := s.GetClustersByRunID(ctx, "run-1")
		assert.ErrorIs(t, err, queryErr)
		assert.Contains(t, err.Error(), "failed to query clusters")
	})
}
