package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/STRATINT/streamdump/internal/models"
	"github.com/google/uuid"
)

// ReplicaRunRepository stores replica outcomes.
type ReplicaRunRepository struct {
	db *sql.DB
}

// NewReplicaRunRepository creates a new replica run repository.
func NewReplicaRunRepository(db *sql.DB) *ReplicaRunRepository {
	return &ReplicaRunRepository{db: db}
}

// Record stores one replica outcome.
func (r *ReplicaRunRepository) Record(ctx context.Context, run models.ReplicaRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	query := `
		INSERT INTO replica_runs (id, run_id, replica, endpoint, output, status, stage, http_status, bytes, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.RunID,
		run.Replica,
		run.Endpoint,
		run.Output,
		run.Status,
		nullString(run.Stage),
		run.HTTPStatus,
		run.Bytes,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert replica run: %w", err)
	}
	return nil
}

// ListByRun returns the replicas of one run ordered by index.
func (r *ReplicaRunRepository) ListByRun(ctx context.Context, runID string) ([]models.ReplicaRun, error) {
	query := `
		SELECT id, run_id, replica, endpoint, output, status, stage, http_status, bytes, error, started_at, finished_at
		FROM replica_runs
		WHERE run_id = $1
		ORDER BY replica ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.ReplicaRun{}
	for rows.Next() {
		var run models.ReplicaRun
		var stage, errMsg sql.NullString
		var httpStatus sql.NullInt64

		err := rows.Scan(
			&run.ID,
			&run.RunID,
			&run.Replica,
			&run.Endpoint,
			&run.Output,
			&run.Status,
			&stage,
			&httpStatus,
			&run.Bytes,
			&errMsg,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, err
		}

		run.Stage = stage.String
		run.Error = errMsg.String
		if httpStatus.Valid {
			code := int(httpStatus.Int64)
			run.HTTPStatus = &code
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// DeleteOlderThan deletes replica runs that started before now minus age.
func (r *ReplicaRunRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := `DELETE FROM replica_runs WHERE started_at < $1`
	cutoff := time.Now().Add(-age)

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
