package db

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Placeholders used when the provider omits candidate identity fields.
const (
	PlaceholderFirstName   = "Unknown"
	PlaceholderLastName    = "Candidate"
	PlaceholderEmailDomain = "teamtailor.invalid"
)

// Candidate is a person who applied to one or more jobs
type Candidate struct {
	ID           uuid.UUID `json:"id"`
	TeamtailorID *string   `json:"teamtailor_id,omitempty"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Phone        *string   `json:"phone,omitempty"`
	ProfileURL   *string   `json:"profile_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FullName joins first and last name
func (c *Candidate) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// HasPlaceholderEmail reports whether the email was synthesized locally.
func (c *Candidate) HasPlaceholderEmail() bool {
	return strings.HasSuffix(c.Email, "@"+PlaceholderEmailDomain)
}

// PlaceholderEmail builds the stand-in address for a candidate without one.
func PlaceholderEmail(teamtailorID string) string {
	return "unknown-" + teamtailorID + "@" + PlaceholderEmailDomain
}

// NormalizeEmail lower-cases and trims an address for deduplication.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
