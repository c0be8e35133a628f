// File: internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/engine"
	"github.com/knowledgepa3/warden/internal/evidence"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	pool := newMockPool(t)
	pool.ExpectPing()
	s, err := New(context.Background(), pool, zap.NewNop())
	require.NoError(t, err)
	return s, pool
}

func sampleResult(t *testing.T) *engine.Result {
	t.Helper()
	bundle := evidence.New("price-check", "exec-1")
	_, err := bundle.AddArtifact(evidence.ArtifactScreenshot, "initial.png", "", []byte("png"))
	require.NoError(t, err)
	sealed, err := bundle.Seal()
	require.NoError(t, err)

	return &engine.Result{
		ExecutionID:     "exec-1",
		PackID:          "price-check",
		PackVersion:     "1.2.0",
		ProfileID:       "balanced",
		TargetURL:       "https://shop.example.com",
		Success:         true,
		Status:          schemas.StatusCompleted,
		StartedAt:       time.Now().UTC(),
		CompletedAt:     time.Now().UTC(),
		ActionsExecuted: 5,
		Log: []schemas.ActionLogEntry{
			{ID: "e1", StepID: "s1", ActionType: "screenshot", Status: schemas.ActionExecuted},
		},
		Evidence: sealed,
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		pool := newMockPool(t)
		pingErr := errors.New("database unavailable")
		pool.ExpectPing().WillReturnError(pingErr)

		_, err := New(context.Background(), pool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

func TestInitSchema(t *testing.T) {
	s, pool := newMockStore(t)
	pool.ExpectExec("CREATE TABLE IF NOT EXISTS executions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestPersistResult(t *testing.T) {
	t.Run("commits execution, bundle and attestation together", func(t *testing.T) {
		s, pool := newMockStore(t)
		result := sampleResult(t)

		pool.ExpectBegin()
		pool.ExpectExec("INSERT INTO executions").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		pool.ExpectExec("INSERT INTO evidence_bundles").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		pool.ExpectCommit()
		pool.ExpectRollback() // deferred rollback on a committed tx is a no-op

		require.NoError(t, s.PersistResult(context.Background(), result))
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("rolls back when the execution insert fails", func(t *testing.T) {
		s, pool := newMockStore(t)
		result := sampleResult(t)

		insertErr := errors.New("constraint violation")
		pool.ExpectBegin()
		pool.ExpectExec("INSERT INTO executions").WillReturnError(insertErr)
		pool.ExpectRollback()

		err := s.PersistResult(context.Background(), result)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("rejects nil result", func(t *testing.T) {
		s, _ := newMockStore(t)
		assert.Error(t, s.PersistResult(context.Background(), nil))
	})
}

func TestUpdateBundleArtifacts(t *testing.T) {
	artifacts := []evidence.Artifact{{ID: "a1", ContentHash: evidence.HashPayload([]byte("x"))}}

	t.Run("updates a collecting bundle", func(t *testing.T) {
		s, pool := newMockStore(t)
		pool.ExpectExec("UPDATE evidence_bundles").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.UpdateBundleArtifacts(context.Background(), "b1", artifacts))
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("refuses a sealed bundle", func(t *testing.T) {
		s, pool := newMockStore(t)
		pool.ExpectExec("UPDATE evidence_bundles").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		pool.ExpectQuery("SELECT status FROM evidence_bundles").
			WithArgs("b1").
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("SEALED"))

		err := s.UpdateBundleArtifacts(context.Background(), "b1", artifacts)
		assert.ErrorIs(t, err, ErrBundleSealed)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

func TestGetExecution(t *testing.T) {
	s, pool := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "pack_id", "profile_id", "target_url", "status", "success",
		"actions_executed", "actions_blocked", "escalation_reason",
	}).AddRow("exec-1", "price-check", "balanced", "https://shop.example.com",
		"COMPLETED", true, 5, 0, "")

	pool.ExpectQuery("SELECT id, pack_id, profile_id").
		WithArgs("exec-1").
		WillReturnRows(rows)

	summary, err := s.GetExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", summary.ID)
	assert.Equal(t, "COMPLETED", summary.Status)
	assert.True(t, summary.Success)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestListExecutionsByPack(t *testing.T) {
	s, pool := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "pack_id", "profile_id", "target_url", "status", "success",
		"actions_executed", "actions_blocked", "escalation_reason",
	}).
		AddRow("exec-2", "price-check", "balanced", "https://shop.example.com", "COMPLETED", true, 5, 0, "").
		AddRow("exec-1", "price-check", "strict", "https://shop.example.com", "ESCALATED", false, 2, 1, "approval denied")

	pool.ExpectQuery("SELECT id, pack_id, profile_id").
		WithArgs("price-check", 10).
		WillReturnRows(rows)

	summaries, err := s.ListExecutionsByPack(context.Background(), "price-check", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "ESCALATED", summaries[1].Status)
	assert.NoError(t, pool.ExpectationsWereMet())
}
