package db

import (
	"time"

	"github.com/google/uuid"
)

// Placeholders used when the provider omits required job fields.
const (
	PlaceholderJobTitlePrefix = "Imported job "
	PlaceholderJobDescription = "Imported from Teamtailor."
)

// Question kinds
const (
	QuestionKindShortText = "short_text"
	QuestionKindLongText  = "long_text"
	QuestionKindSelect    = "select"
	QuestionKindCheckbox  = "checkbox"
	QuestionKindNumber    = "number"
)

// CoverLetterQuestionLabel is the global question that stores cover letters.
const CoverLetterQuestionLabel = "Cover Letter (Teamtailor)"

// JobPosting is a job synced from the provider
type JobPosting struct {
	ID           uuid.UUID  `json:"id"`
	TeamtailorID *string    `json:"teamtailor_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Department   *string    `json:"department,omitempty"`
	Location     *string    `json:"location,omitempty"`
	Status       *string    `json:"status,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsArchived returns true if the job has an archive timestamp in the past
func (p *JobPosting) IsArchived(now time.Time) bool {
	return p.ArchivedAt != nil && !p.ArchivedAt.After(now)
}

// JobQuestion is a custom question attached to one job
type JobQuestion struct {
	ID           uuid.UUID `json:"id"`
	JobPostingID uuid.UUID `json:"job_posting_id"`
	TeamtailorID *string   `json:"teamtailor_id,omitempty"`
	Label        string    `json:"label"`
	Kind         string    `json:"kind"`
	Required     bool      `json:"required"`
	Position     int       `json:"position"`
	Options      []string  `json:"options"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsExternal reports whether the question is identified upstream. Only these
// count towards an application's full-sync gate.
func (q *JobQuestion) IsExternal() bool {
	return q.TeamtailorID != nil && *q.TeamtailorID != ""
}

// GlobalQuestion is a question shared by all jobs (e.g. the cover letter)
type GlobalQuestion struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	Kind      string    `json:"kind"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
