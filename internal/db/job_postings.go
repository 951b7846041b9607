package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Job Posting Methods
// -----------------------------------------------------------------------------

const jobPostingColumns = `id, teamtailor_id, title, description, department, location, status,
	published_at, archived_at, created_at, updated_at`

func scanJobPosting(row pgx.Row) (*JobPosting, error) {
	var p JobPosting
	err := row.Scan(&p.ID, &p.TeamtailorID, &p.Title, &p.Description, &p.Department,
		&p.Location, &p.Status, &p.PublishedAt, &p.ArchivedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetJobPostingByID retrieves a job posting by its ID
func (db *DB) GetJobPostingByID(ctx context.Context, id uuid.UUID) (*JobPosting, error) {
	p, err := scanJobPosting(db.pool.QueryRow(ctx,
		`SELECT `+jobPostingColumns+` FROM job_postings WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job posting: %w", err)
	}
	return p, nil
}

// GetJobPostingByTeamtailorID retrieves a job posting by its external ID
func (db *DB) GetJobPostingByTeamtailorID(ctx context.Context, teamtailorID string) (*JobPosting, error) {
	p, err := scanJobPosting(db.pool.QueryRow(ctx,
		`SELECT `+jobPostingColumns+` FROM job_postings WHERE teamtailor_id = $1`, teamtailorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job posting by teamtailor id: %w", err)
	}
	return p, nil
}

// SaveJobPosting inserts a new job posting (zero ID) or updates an existing one
func (db *DB) SaveJobPosting(ctx context.Context, p *JobPosting) error {
	if p.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO job_postings (teamtailor_id, title, description, department, location,
			        status, published_at, archived_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id, created_at, updated_at`,
			p.TeamtailorID, p.Title, p.Description, p.Department, p.Location,
			p.Status, p.PublishedAt, p.ArchivedAt,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create job posting", err)
		}
		return nil
	}

	err := db.pool.QueryRow(ctx,
		`UPDATE job_postings
		 SET teamtailor_id = $2, title = $3, description = $4, department = $5,
		     location = $6, status = $7, published_at = $8, archived_at = $9,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		p.ID, p.TeamtailorID, p.Title, p.Description, p.Department,
		p.Location, p.Status, p.PublishedAt, p.ArchivedAt,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update job posting", err)
	}
	return nil
}
