package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Stage Transition Methods
// -----------------------------------------------------------------------------

const transitionColumns = `id, application_id, from_stage_id, to_stage_id, teamtailor_id,
	transitioned_at, created_at`

func scanTransition(row pgx.Row) (*StageTransition, error) {
	var t StageTransition
	err := row.Scan(&t.ID, &t.ApplicationID, &t.FromStageID, &t.ToStageID, &t.TeamtailorID,
		&t.TransitionedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// HasTransitionTo reports whether any transition into the stage is logged
func (db *DB) HasTransitionTo(ctx context.Context, applicationID, toStageID uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM application_stage_transitions
		 WHERE application_id = $1 AND to_stage_id = $2)`,
		applicationID, toStageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check stage transition: %w", err)
	}
	return exists, nil
}

// FindTransitionNear returns the closest transition into the stage within window of at
func (db *DB) FindTransitionNear(ctx context.Context, applicationID, toStageID uuid.UUID, at time.Time, window time.Duration) (*StageTransition, error) {
	t, err := scanTransition(db.pool.QueryRow(ctx,
		`SELECT `+transitionColumns+` FROM application_stage_transitions
		 WHERE application_id = $1 AND to_stage_id = $2
		   AND transitioned_at BETWEEN $3::timestamptz - $4::interval AND $3::timestamptz + $4::interval
		 ORDER BY abs(extract(epoch FROM transitioned_at - $3::timestamptz))
		 LIMIT 1`,
		applicationID, toStageID, at, window))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find stage transition: %w", err)
	}
	return t, nil
}

// ListTransitions lists an application's transitions in time order
func (db *DB) ListTransitions(ctx context.Context, applicationID uuid.UUID) ([]StageTransition, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+transitionColumns+` FROM application_stage_transitions
		 WHERE application_id = $1 ORDER BY transitioned_at, created_at`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage transitions: %w", err)
	}
	defer rows.Close()

	var transitions []StageTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage transition: %w", err)
		}
		transitions = append(transitions, *t)
	}
	return transitions, rows.Err()
}

// SaveTransition inserts a new transition (zero ID). An existing transition
// only has its from-stage and external ID filled in.
func (db *DB) SaveTransition(ctx context.Context, t *StageTransition) error {
	if t.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO application_stage_transitions (application_id, from_stage_id, to_stage_id,
			        teamtailor_id, transitioned_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			t.ApplicationID, t.FromStageID, t.ToStageID, t.TeamtailorID, t.TransitionedAt,
		).Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return wrapWriteErr("create stage transition", err)
		}
		return nil
	}

	_, err := db.pool.Exec(ctx,
		`UPDATE application_stage_transitions
		 SET from_stage_id = COALESCE(from_stage_id, $2),
		     teamtailor_id = COALESCE(teamtailor_id, $3)
		 WHERE id = $1`,
		t.ID, t.FromStageID, t.TeamtailorID)
	if err != nil {
		return wrapWriteErr("update stage transition", err)
	}
	return nil
}
