package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TransitionWindow is how close two transitions to the same stage must be to
// count as one event.
const TransitionWindow = 5 * time.Second

// Application joins one job posting and one candidate
type Application struct {
	ID             uuid.UUID  `json:"id"`
	TeamtailorID   *string    `json:"teamtailor_id,omitempty"`
	JobPostingID   uuid.UUID  `json:"job_posting_id"`
	CandidateID    uuid.UUID  `json:"candidate_id"`
	CurrentStageID *uuid.UUID `json:"current_stage_id,omitempty"`
	Source         *string    `json:"source,omitempty"`
	UTMSource      *string    `json:"utm_source,omitempty"`
	UTMMedium      *string    `json:"utm_medium,omitempty"`
	UTMCampaign    *string    `json:"utm_campaign,omitempty"`
	AppliedAt      *time.Time `json:"applied_at,omitempty"`
	// StateSyncedAt marks the core mutable fields as current.
	StateSyncedAt *time.Time `json:"state_synced_at,omitempty"`
	// FullSyncAt is set once every external job question has an answer.
	// It is never cleared.
	FullSyncAt *time.Time `json:"full_sync_at,omitempty"`
	// AnswersCheckedAt records the last backfill attempt so repeated
	// failures rotate to the back of the queue.
	AnswersCheckedAt *time.Time `json:"answers_checked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsFullySynced returns true once the full-sync gate has been passed
func (a *Application) IsFullySynced() bool {
	return a.FullSyncAt != nil
}

// ApplicationFilter selects applications for backfill passes
type ApplicationFilter struct {
	// MissingAnswers restricts to applications with at least one external
	// job question lacking an answer.
	MissingAnswers bool
	Limit          int
}

// ErrAnswerQuestion is returned when an answer references neither or both
// question kinds.
var ErrAnswerQuestion = errors.New("answer must reference exactly one of job question or global question")

// ApplicationAnswer is one answer to a job or global question
type ApplicationAnswer struct {
	ID               uuid.UUID  `json:"id"`
	ApplicationID    uuid.UUID  `json:"application_id"`
	JobQuestionID    *uuid.UUID `json:"job_question_id,omitempty"`
	GlobalQuestionID *uuid.UUID `json:"global_question_id,omitempty"`
	TeamtailorID     *string    `json:"teamtailor_id,omitempty"`
	Value            string     `json:"value"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Validate checks the exactly-one-question invariant
func (a *ApplicationAnswer) Validate() error {
	if (a.JobQuestionID == nil) == (a.GlobalQuestionID == nil) {
		return ErrAnswerQuestion
	}
	return nil
}

// StageTransition is an append-only record of a stage change
type StageTransition struct {
	ID             uuid.UUID  `json:"id"`
	ApplicationID  uuid.UUID  `json:"application_id"`
	FromStageID    *uuid.UUID `json:"from_stage_id,omitempty"`
	ToStageID      uuid.UUID  `json:"to_stage_id"`
	TeamtailorID   *string    `json:"teamtailor_id,omitempty"`
	TransitionedAt time.Time  `json:"transitioned_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Within reports whether the transition happened within window of at.
func (t *StageTransition) Within(at time.Time, window time.Duration) bool {
	d := t.TransitionedAt.Sub(at)
	if d < 0 {
		d = -d
	}
	return d <= window
}
