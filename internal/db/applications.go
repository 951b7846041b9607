package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Application Methods
// -----------------------------------------------------------------------------

const applicationColumns = `id, teamtailor_id, job_posting_id, candidate_id, current_stage_id,
	source, utm_source, utm_medium, utm_campaign, applied_at, state_synced_at,
	full_sync_at, answers_checked_at, created_at, updated_at`

func scanApplication(row pgx.Row) (*Application, error) {
	var a Application
	err := row.Scan(&a.ID, &a.TeamtailorID, &a.JobPostingID, &a.CandidateID, &a.CurrentStageID,
		&a.Source, &a.UTMSource, &a.UTMMedium, &a.UTMCampaign, &a.AppliedAt, &a.StateSyncedAt,
		&a.FullSyncAt, &a.AnswersCheckedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) getApplication(ctx context.Context, where string, args ...any) (*Application, error) {
	a, err := scanApplication(db.pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE `+where, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return a, nil
}

// GetApplicationByID retrieves an application by ID
func (db *DB) GetApplicationByID(ctx context.Context, id uuid.UUID) (*Application, error) {
	return db.getApplication(ctx, "id = $1", id)
}

// GetApplicationByTeamtailorID retrieves an application by external ID
func (db *DB) GetApplicationByTeamtailorID(ctx context.Context, teamtailorID string) (*Application, error) {
	return db.getApplication(ctx, "teamtailor_id = $1", teamtailorID)
}

// GetApplicationByJobAndCandidate retrieves the application joining a job and a candidate
func (db *DB) GetApplicationByJobAndCandidate(ctx context.Context, jobID, candidateID uuid.UUID) (*Application, error) {
	return db.getApplication(ctx, "job_posting_id = $1 AND candidate_id = $2", jobID, candidateID)
}

// SaveApplication inserts a new application (zero ID) or updates its mutable
// fields. Sync gates are only written through the Mark* methods.
func (db *DB) SaveApplication(ctx context.Context, a *Application) error {
	if a.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO applications (teamtailor_id, job_posting_id, candidate_id, current_stage_id,
			        source, utm_source, utm_medium, utm_campaign, applied_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, created_at, updated_at`,
			a.TeamtailorID, a.JobPostingID, a.CandidateID, a.CurrentStageID,
			a.Source, a.UTMSource, a.UTMMedium, a.UTMCampaign, a.AppliedAt,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create application", err)
		}
		return nil
	}

	err := db.pool.QueryRow(ctx,
		`UPDATE applications
		 SET teamtailor_id = $2, job_posting_id = $3, candidate_id = $4, current_stage_id = $5,
		     source = $6, utm_source = $7, utm_medium = $8, utm_campaign = $9,
		     applied_at = $10, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		a.ID, a.TeamtailorID, a.JobPostingID, a.CandidateID, a.CurrentStageID,
		a.Source, a.UTMSource, a.UTMMedium, a.UTMCampaign, a.AppliedAt,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update application", err)
	}
	return nil
}

// ListApplicationsMissingFullSync returns externally identified applications
// whose full-sync gate is still open, least recently checked first
func (db *DB) ListApplicationsMissingFullSync(ctx context.Context, filter ApplicationFilter) ([]Application, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := `SELECT ` + applicationColumns + ` FROM applications a
		WHERE a.full_sync_at IS NULL AND a.teamtailor_id IS NOT NULL`
	if filter.MissingAnswers {
		query += ` AND EXISTS (
			SELECT 1 FROM job_questions q
			WHERE q.job_posting_id = a.job_posting_id
			  AND q.teamtailor_id IS NOT NULL
			  AND NOT EXISTS (
				SELECT 1 FROM application_answers aa
				WHERE aa.application_id = a.id AND aa.job_question_id = q.id))`
	}
	query += ` ORDER BY a.answers_checked_at ASC NULLS FIRST, a.created_at DESC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications missing full sync: %w", err)
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

// MarkApplicationStateSynced records that core fields are current
func (db *DB) MarkApplicationStateSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE applications SET state_synced_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark application state synced: %w", err)
	}
	return nil
}

// MarkApplicationFullSynced closes the full-sync gate. An already set
// timestamp is kept.
func (db *DB) MarkApplicationFullSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE applications SET full_sync_at = $2, updated_at = NOW()
		 WHERE id = $1 AND full_sync_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark application full synced: %w", err)
	}
	return nil
}

// MarkAnswersChecked records a backfill attempt
func (db *DB) MarkAnswersChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE applications SET answers_checked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark answers checked: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Answer Methods
// -----------------------------------------------------------------------------

// SaveAnswer upserts the answer for (application, question)
func (db *DB) SaveAnswer(ctx context.Context, a *ApplicationAnswer) error {
	if err := a.Validate(); err != nil {
		return err
	}

	conflict := `(application_id, job_question_id) WHERE job_question_id IS NOT NULL`
	if a.GlobalQuestionID != nil {
		conflict = `(application_id, global_question_id) WHERE global_question_id IS NOT NULL`
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO application_answers (application_id, job_question_id, global_question_id, teamtailor_id, value)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT `+conflict+` DO UPDATE
		 SET value = EXCLUDED.value,
		     teamtailor_id = COALESCE(EXCLUDED.teamtailor_id, application_answers.teamtailor_id),
		     updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		a.ApplicationID, a.JobQuestionID, a.GlobalQuestionID, a.TeamtailorID, a.Value,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return wrapWriteErr("save answer", err)
	}
	return nil
}

// ListAnswers lists every answer stored for an application
func (db *DB) ListAnswers(ctx context.Context, applicationID uuid.UUID) ([]ApplicationAnswer, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, application_id, job_question_id, global_question_id, teamtailor_id, value,
		        created_at, updated_at
		 FROM application_answers WHERE application_id = $1 ORDER BY created_at`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var answers []ApplicationAnswer
	for rows.Next() {
		var a ApplicationAnswer
		if err := rows.Scan(&a.ID, &a.ApplicationID, &a.JobQuestionID, &a.GlobalQuestionID,
			&a.TeamtailorID, &a.Value, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ListUnansweredJobQuestions returns the job's external questions that have
// no answer for the application
func (db *DB) ListUnansweredJobQuestions(ctx context.Context, applicationID, jobID uuid.UUID) ([]JobQuestion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobQuestionColumns+` FROM job_questions q
		 WHERE q.job_posting_id = $2
		   AND q.teamtailor_id IS NOT NULL
		   AND NOT EXISTS (
			SELECT 1 FROM application_answers aa
			WHERE aa.application_id = $1 AND aa.job_question_id = q.id)
		 ORDER BY q.position`,
		applicationID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unanswered questions: %w", err)
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
