package db

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Job Question Methods
// -----------------------------------------------------------------------------

const jobQuestionColumns = `id, job_posting_id, teamtailor_id, label, kind, required, position,
	options, created_at, updated_at`

func scanJobQuestion(row pgx.Row) (*JobQuestion, error) {
	var q JobQuestion
	var optionsJSON []byte
	err := row.Scan(&q.ID, &q.JobPostingID, &q.TeamtailorID, &q.Label, &q.Kind, &q.Required,
		&q.Position, &optionsJSON, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if optionsJSON != nil {
		_ = json.Unmarshal(optionsJSON, &q.Options)
	}
	return &q, nil
}

func (db *DB) getJobQuestion(ctx context.Context, where string, args ...any) (*JobQuestion, error) {
	q, err := scanJobQuestion(db.pool.QueryRow(ctx,
		`SELECT `+jobQuestionColumns+` FROM job_questions WHERE `+where, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job question: %w", err)
	}
	return q, nil
}

// GetJobQuestionByTeamtailorID retrieves a job's question by external ID
func (db *DB) GetJobQuestionByTeamtailorID(ctx context.Context, jobID uuid.UUID, teamtailorID string) (*JobQuestion, error) {
	return db.getJobQuestion(ctx, "job_posting_id = $1 AND teamtailor_id = $2", jobID, teamtailorID)
}

// GetJobQuestionByLabel retrieves a job's question by label, case-insensitively
func (db *DB) GetJobQuestionByLabel(ctx context.Context, jobID uuid.UUID, label string) (*JobQuestion, error) {
	return db.getJobQuestion(ctx,
		"job_posting_id = $1 AND lower(label) = lower($2) ORDER BY position LIMIT 1", jobID, label)
}

// ListJobQuestions lists a job's questions in display order
func (db *DB) ListJobQuestions(ctx context.Context, jobID uuid.UUID) ([]JobQuestion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobQuestionColumns+` FROM job_questions
		 WHERE job_posting_id = $1 ORDER BY position, created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job questions: %w", err)
	}
	defer rows.Close()

	var questions []JobQuestion
	for rows.Next() {
		q, err := scanJobQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job question: %w", err)
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// NextJobQuestionPosition returns one past the job's highest question position
func (db *DB) NextJobQuestionPosition(ctx context.Context, jobID uuid.UUID) (int, error) {
	var next int
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM job_questions WHERE job_posting_id = $1`,
		jobID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to get next question position: %w", err)
	}
	return next, nil
}

// SaveJobQuestion inserts a new question (zero ID) or updates an existing one
func (db *DB) SaveJobQuestion(ctx context.Context, q *JobQuestion) error {
	if q.Options == nil {
		q.Options = []string{}
	}
	optionsJSON, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal question options: %w", err)
	}

	if q.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO job_questions (job_posting_id, teamtailor_id, label, kind, required, position, options)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at, updated_at`,
			q.JobPostingID, q.TeamtailorID, q.Label, q.Kind, q.Required, q.Position, optionsJSON,
		).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create job question", err)
		}
		return nil
	}

	err = db.pool.QueryRow(ctx,
		`UPDATE job_questions
		 SET teamtailor_id = $2, label = $3, kind = $4, required = $5, position = $6,
		     options = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		q.ID, q.TeamtailorID, q.Label, q.Kind, q.Required, q.Position, optionsJSON,
	).Scan(&q.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update job question", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Global Question Methods
// -----------------------------------------------------------------------------

// GetGlobalQuestionByLabel retrieves a global question by label, case-insensitively
func (db *DB) GetGlobalQuestionByLabel(ctx context.Context, label string) (*GlobalQuestion, error) {
	var q GlobalQuestion
	err := db.pool.QueryRow(ctx,
		`SELECT id, label, kind, position, created_at, updated_at
		 FROM global_questions WHERE lower(label) = lower($1)`, label,
	).Scan(&q.ID, &q.Label, &q.Kind, &q.Position, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get global question: %w", err)
	}
	return &q, nil
}

// NextGlobalQuestionPosition returns one past the highest global question position
func (db *DB) NextGlobalQuestionPosition(ctx context.Context) (int, error) {
	var next int
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM global_questions`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to get next global question position: %w", err)
	}
	return next, nil
}

// SaveGlobalQuestion inserts a new global question (zero ID) or updates an existing one
func (db *DB) SaveGlobalQuestion(ctx context.Context, q *GlobalQuestion) error {
	if q.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO global_questions (label, kind, position)
			 VALUES ($1, $2, $3)
			 RETURNING id, created_at, updated_at`,
			q.Label, q.Kind, q.Position,
		).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create global question", err)
		}
		return nil
	}

	err := db.pool.QueryRow(ctx,
		`UPDATE global_questions SET label = $2, kind = $3, position = $4, updated_at = NOW()
		 WHERE id = $1 RETURNING updated_at`,
		q.ID, q.Label, q.Kind, q.Position,
	).Scan(&q.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update global question", err)
	}
	return nil
}
