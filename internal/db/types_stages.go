package db

import (
	"time"

	"github.com/google/uuid"
)

// Stage kinds
const (
	StageKindActive   = "active"
	StageKindHired    = "hired"
	StageKindRejected = "rejected"
)

// Canonical stages classify a stage's purpose independent of its name.
const (
	CanonicalInbox      = "inbox"
	CanonicalReviewing  = "reviewing"
	CanonicalInterview  = "interview"
	CanonicalTechnical  = "technical"
	CanonicalCultural   = "cultural"
	CanonicalReferences = "references"
	CanonicalOffer      = "offer"
	CanonicalHired      = "hired"
	CanonicalRejected   = "rejected"
)

// CanonicalStages lists every canonical classification.
var CanonicalStages = []string{
	CanonicalInbox, CanonicalReviewing, CanonicalInterview, CanonicalTechnical,
	CanonicalCultural, CanonicalReferences, CanonicalOffer, CanonicalHired,
	CanonicalRejected,
}

// PipelineStage is a step in a hiring pipeline. A nil JobPostingID is a
// global stage shared by all jobs.
type PipelineStage struct {
	ID             uuid.UUID  `json:"id"`
	JobPostingID   *uuid.UUID `json:"job_posting_id,omitempty"`
	TeamtailorID   *string    `json:"teamtailor_id,omitempty"`
	Name           string     `json:"name"`
	Position       int        `json:"position"`
	Kind           string     `json:"kind"`
	CanonicalStage *string    `json:"canonical_stage,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsTerminal returns true for hired and rejected stages
func (s *PipelineStage) IsTerminal() bool {
	return s.Kind == StageKindHired || s.Kind == StageKindRejected
}

// SameScope reports whether the stage belongs to the given job scope.
func (s *PipelineStage) SameScope(jobID *uuid.UUID) bool {
	if s.JobPostingID == nil || jobID == nil {
		return s.JobPostingID == nil && jobID == nil
	}
	return *s.JobPostingID == *jobID
}
