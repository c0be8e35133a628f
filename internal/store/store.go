// File: internal/store/store.go
// Description: PostgreSQL audit store. Every finished run lands here as three
// records: the execution summary, the sealed evidence bundle and the policy
// attestation. Sealed bundle rows are write-protected at the SQL level.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/internal/engine"
	"github.com/knowledgepa3/warden/internal/evidence"
)

// ErrBundleSealed is returned by updates that target a SEALED bundle row.
var ErrBundleSealed = errors.New("store: evidence bundle is sealed")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL implementation of the engine's Store interface.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS executions (
    id                TEXT PRIMARY KEY,
    pack_id           TEXT NOT NULL,
    pack_version      TEXT NOT NULL,
    profile_id        TEXT NOT NULL,
    target_url        TEXT NOT NULL,
    status            TEXT NOT NULL,
    success           BOOLEAN NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ NOT NULL,
    actions_executed  INTEGER NOT NULL,
    actions_blocked   INTEGER NOT NULL,
    actions_escalated INTEGER NOT NULL,
    escalation_reason TEXT,
    error             TEXT,
    gate_results      JSONB NOT NULL DEFAULT '[]',
    action_log        JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS evidence_bundles (
    id            TEXT PRIMARY KEY,
    execution_id  TEXT NOT NULL REFERENCES executions(id),
    pack_id       TEXT NOT NULL,
    status        TEXT NOT NULL,
    manifest_hash TEXT NOT NULL,
    seal_hash     TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    completed_at  TIMESTAMPTZ NOT NULL,
    artifacts     JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS attestations (
    id           TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL REFERENCES executions(id),
    attested_by  TEXT NOT NULL,
    attested_at  TIMESTAMPTZ NOT NULL,
    content_hash TEXT NOT NULL,
    snapshot     JSONB NOT NULL
);
`

// InitSchema creates the audit tables when they do not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return nil
}

// PersistResult writes one finished run atomically: execution summary,
// sealed evidence bundle and attestation commit together or not at all.
func (s *Store) PersistResult(ctx context.Context, result *engine.Result) error {
	if result == nil {
		return errors.New("store: result cannot be nil")
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

	if err := s.insertExecution(ctx, tx, result); err != nil {
		return err
	}
	if result.Evidence != nil {
		if err := s.insertBundle(ctx, tx, result.ExecutionID, result.Evidence); err != nil {
			return err
		}
	}
	if result.Attestation != nil {
		if err := s.insertAttestation(ctx, tx, result); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run result persisted",
		zap.String("execution_id", result.ExecutionID),
		zap.String("status", string(result.Status)))
	return nil
}

func (s *Store) insertExecution(ctx context.Context, tx pgx.Tx, result *engine.Result) error {
	gateResults, err := json.Marshal(result.GateResults)
	if err != nil {
		return fmt.Errorf("failed to encode gate results: %w", err)
	}
	actionLog, err := json.Marshal(result.Log)
	if err != nil {
		return fmt.Errorf("failed to encode action log: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO executions (
            id, pack_id, pack_version, profile_id, target_url, status, success,
            started_at, completed_at, actions_executed, actions_blocked,
            actions_escalated, escalation_reason, error, gate_results, action_log
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);`,
		result.ExecutionID, result.PackID, result.PackVersion, result.ProfileID,
		result.TargetURL, string(result.Status), result.Success,
		result.StartedAt.UTC(), result.CompletedAt.UTC(), result.ActionsExecuted,
		result.ActionsBlocked, result.ActionsEscalated, result.EscalationReason,
		result.Error, gateResults, actionLog,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (s *Store) insertBundle(ctx context.Context, tx pgx.Tx, executionID string, bundle *evidence.SealedBundle) error {
	artifacts, err := json.Marshal(bundle.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO evidence_bundles (
            id, execution_id, pack_id, status, manifest_hash, seal_hash,
            created_at, completed_at, artifacts
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`,
		bundle.ID, executionID, bundle.PackID, string(bundle.Status),
		bundle.ManifestHash, bundle.SealHash,
		bundle.CreatedAt.UTC(), bundle.CompletedAt.UTC(), artifacts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evidence bundle: %w", err)
	}
	return nil
}

func (s *Store) insertAttestation(ctx context.Context, tx pgx.Tx, result *engine.Result) error {
	snapshot, err := json.Marshal(result.Attestation.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode attestation snapshot: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO attestations (
            id, execution_id, attested_by, attested_at, content_hash, snapshot
        ) VALUES ($1, $2, $3, $4, $5, $6);`,
		result.Attestation.ID, result.ExecutionID, result.Attestation.AttestedBy,
		result.Attestation.AttestedAt.UTC(), result.Attestation.ContentHash, snapshot,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}

// UpdateBundleArtifacts replaces the artifact list of a bundle that is still
// collecting. The WHERE clause refuses SEALED rows outright, so tampering
// with a sealed bundle fails at the database even if every caller forgets
// the check.
func (s *Store) UpdateBundleArtifacts(ctx context.Context, bundleID string, artifacts []evidence.Artifact) error {
	encoded, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
        UPDATE evidence_bundles
        SET artifacts = $2
        WHERE id = $1 AND status <> 'SEALED';`,
		bundleID, encoded,
	)
	if err != nil {
		return fmt.Errorf("failed to update bundle artifacts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM evidence_bundles WHERE id = $1;`, bundleID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: bundle %s not found", bundleID)
		}
		if err != nil {
			return fmt.Errorf("failed to check bundle status: %w", err)
		}
		if status == string(evidence.StatusSealed) {
			return fmt.Errorf("%w: %s", ErrBundleSealed, bundleID)
		}
		return fmt.Errorf("store: bundle %s not updated", bundleID)
	}
	return nil
}

// ExecutionSummary is the audit view of one stored run.
type ExecutionSummary struct {
	ID               string `json:"id"`
	PackID           string `json:"pack_id"`
	ProfileID        string `json:"profile_id"`
	TargetURL        string `json:"target_url"`
	Status           string `json:"status"`
	Success          bool   `json:"success"`
	ActionsExecuted  int    `json:"actions_executed"`
	ActionsBlocked   int    `json:"actions_blocked"`
	EscalationReason string `json:"escalation_reason,omitempty"`
}

// GetExecution loads the summary row for one execution.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*ExecutionSummary, error) {
	var summary ExecutionSummary
	err := s.pool.QueryRow(ctx, `
        SELECT id, pack_id, profile_id, target_url, status, success,
               actions_executed, actions_blocked, escalation_reason
        FROM executions
        WHERE id = $1;`, executionID).Scan(
		&summary.ID, &summary.PackID, &summary.ProfileID, &summary.TargetURL,
		&summary.Status, &summary.Success, &summary.ActionsExecuted,
		&summary.ActionsBlocked, &summary.EscalationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("store: execution %s not found", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	return &summary, nil
}

// ListExecutionsByPack returns summaries for a pack, newest first.
func (s *Store) ListExecutionsByPack(ctx context.Context, packID string, limit int) ([]ExecutionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
        SELECT id, pack_id, profile_id, target_url, status, success,
               actions_executed, actions_blocked, escalation_reason
        FROM executions
        WHERE pack_id = $1
        ORDER BY started_at DESC
        LIMIT $2;`, packID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var summaries []ExecutionSummary
	for rows.Next() {
		var summary ExecutionSummary
		if err := rows.Scan(
			&summary.ID, &summary.PackID, &summary.ProfileID, &summary.TargetURL,
			&summary.Status, &summary.Success, &summary.ActionsExecuted,
			&summary.ActionsBlocked, &summary.EscalationReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return summaries, nil
}
