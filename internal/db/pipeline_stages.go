package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Pipeline Stage Methods
// -----------------------------------------------------------------------------

const stageColumns = `id, job_posting_id, teamtailor_id, name, position, kind, canonical_stage,
	created_at, updated_at`

func scanStage(row pgx.Row) (*PipelineStage, error) {
	var s PipelineStage
	err := row.Scan(&s.ID, &s.JobPostingID, &s.TeamtailorID, &s.Name, &s.Position,
		&s.Kind, &s.CanonicalStage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStageByID retrieves a stage by ID
func (db *DB) GetStageByID(ctx context.Context, id uuid.UUID) (*PipelineStage, error) {
	s, err := scanStage(db.pool.QueryRow(ctx,
		`SELECT `+stageColumns+` FROM pipeline_stages WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}
	return s, nil
}

// GetStageByTeamtailorID retrieves a stage by external ID within one scope
func (db *DB) GetStageByTeamtailorID(ctx context.Context, jobID *uuid.UUID, teamtailorID string) (*PipelineStage, error) {
	s, err := scanStage(db.pool.QueryRow(ctx,
		`SELECT `+stageColumns+` FROM pipeline_stages
		 WHERE job_posting_id IS NOT DISTINCT FROM $1 AND teamtailor_id = $2`,
		jobID, teamtailorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stage by teamtailor id: %w", err)
	}
	return s, nil
}

// ListStages lists the stages of one scope in pipeline order
func (db *DB) ListStages(ctx context.Context, jobID *uuid.UUID) ([]PipelineStage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+stageColumns+` FROM pipeline_stages
		 WHERE job_posting_id IS NOT DISTINCT FROM $1
		 ORDER BY position, created_at`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []PipelineStage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, *s)
	}
	return stages, rows.Err()
}

// NextStagePosition returns one past the highest position in the scope
func (db *DB) NextStagePosition(ctx context.Context, jobID *uuid.UUID) (int, error) {
	var next int
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM pipeline_stages
		 WHERE job_posting_id IS NOT DISTINCT FROM $1`,
		jobID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to get next stage position: %w", err)
	}
	return next, nil
}

// SaveStage inserts a new stage (zero ID) or updates an existing one
func (db *DB) SaveStage(ctx context.Context, s *PipelineStage) error {
	if s.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO pipeline_stages (job_posting_id, teamtailor_id, name, position, kind, canonical_stage)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at, updated_at`,
			s.JobPostingID, s.TeamtailorID, s.Name, s.Position, s.Kind, s.CanonicalStage,
		).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create stage", err)
		}
		return nil
	}

	err := db.pool.QueryRow(ctx,
		`UPDATE pipeline_stages
		 SET job_posting_id = $2, teamtailor_id = $3, name = $4, position = $5,
		     kind = $6, canonical_stage = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		s.ID, s.JobPostingID, s.TeamtailorID, s.Name, s.Position, s.Kind, s.CanonicalStage,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update stage", err)
	}
	return nil
}

// PruneStages deletes stale externally identified stages of one scope in a
// single transaction.
func (db *DB) PruneStages(ctx context.Context, jobID *uuid.UUID, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id FROM pipeline_stages
		 WHERE job_posting_id IS NOT DISTINCT FROM $1
		   AND teamtailor_id IS NOT NULL
		   AND NOT (teamtailor_id = ANY($2))
		 FOR UPDATE`,
		jobID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to select stale stages: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, fmt.Errorf("failed to scan stale stages: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE applications SET current_stage_id = NULL, updated_at = NOW()
		 WHERE current_stage_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("failed to clear current stage references: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM application_stage_transitions
		 WHERE to_stage_id = ANY($1) OR from_stage_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("failed to delete stage transitions: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM pipeline_stages WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit stage prune: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
