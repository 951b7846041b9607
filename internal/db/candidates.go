package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Candidate Methods
// -----------------------------------------------------------------------------

const candidateColumns = `id, teamtailor_id, first_name, last_name, email, phone, profile_url,
	created_at, updated_at`

func scanCandidate(row pgx.Row) (*Candidate, error) {
	var c Candidate
	err := row.Scan(&c.ID, &c.TeamtailorID, &c.FirstName, &c.LastName, &c.Email,
		&c.Phone, &c.ProfileURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) getCandidate(ctx context.Context, where string, arg any) (*Candidate, error) {
	c, err := scanCandidate(db.pool.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE `+where, arg))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	return c, nil
}

// GetCandidateByID retrieves a candidate by ID
func (db *DB) GetCandidateByID(ctx context.Context, id uuid.UUID) (*Candidate, error) {
	return db.getCandidate(ctx, "id = $1", id)
}

// GetCandidateByTeamtailorID retrieves a candidate by external ID
func (db *DB) GetCandidateByTeamtailorID(ctx context.Context, teamtailorID string) (*Candidate, error) {
	return db.getCandidate(ctx, "teamtailor_id = $1", teamtailorID)
}

// GetCandidateByEmail retrieves a candidate by email, case-insensitively
func (db *DB) GetCandidateByEmail(ctx context.Context, email string) (*Candidate, error) {
	return db.getCandidate(ctx, "lower(email) = $1", NormalizeEmail(email))
}

// SaveCandidate inserts a new candidate (zero ID) or updates an existing one
func (db *DB) SaveCandidate(ctx context.Context, c *Candidate) error {
	c.Email = NormalizeEmail(c.Email)

	if c.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO candidates (teamtailor_id, first_name, last_name, email, phone, profile_url)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at, updated_at`,
			c.TeamtailorID, c.FirstName, c.LastName, c.Email, c.Phone, c.ProfileURL,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create candidate", err)
		}
		return nil
	}

	err := db.pool.QueryRow(ctx,
		`UPDATE candidates
		 SET teamtailor_id = $2, first_name = $3, last_name = $4, email = $5,
		     phone = $6, profile_url = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		c.ID, c.TeamtailorID, c.FirstName, c.LastName, c.Email, c.Phone, c.ProfileURL,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update candidate", err)
	}
	return nil
}
