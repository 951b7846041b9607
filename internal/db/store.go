package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Getters return (nil, nil) when no row matches.

// JobPostingStore persists job postings.
type JobPostingStore interface {
	GetJobPostingByID(ctx context.Context, id uuid.UUID) (*JobPosting, error)
	GetJobPostingByTeamtailorID(ctx context.Context, teamtailorID string) (*JobPosting, error)
	SaveJobPosting(ctx context.Context, p *JobPosting) error
}

// CandidateStore persists candidates.
type CandidateStore interface {
	GetCandidateByID(ctx context.Context, id uuid.UUID) (*Candidate, error)
	GetCandidateByTeamtailorID(ctx context.Context, teamtailorID string) (*Candidate, error)
	GetCandidateByEmail(ctx context.Context, email string) (*Candidate, error)
	SaveCandidate(ctx context.Context, c *Candidate) error
}

// StageStore persists pipeline stages. A nil jobID addresses the global scope.
type StageStore interface {
	GetStageByID(ctx context.Context, id uuid.UUID) (*PipelineStage, error)
	GetStageByTeamtailorID(ctx context.Context, jobID *uuid.UUID, teamtailorID string) (*PipelineStage, error)
	ListStages(ctx context.Context, jobID *uuid.UUID) ([]PipelineStage, error)
	NextStagePosition(ctx context.Context, jobID *uuid.UUID) (int, error)
	SaveStage(ctx context.Context, s *PipelineStage) error
	// PruneStages deletes externally identified stages in the scope whose
	// external id is not in keep, clearing application references and
	// deleting their transitions first. Stages without an external id are
	// kept.
	PruneStages(ctx context.Context, jobID *uuid.UUID, keep []string) (int, error)
}

// QuestionStore persists job and global questions.
type QuestionStore interface {
	GetJobQuestionByTeamtailorID(ctx context.Context, jobID uuid.UUID, teamtailorID string) (*JobQuestion, error)
	GetJobQuestionByLabel(ctx context.Context, jobID uuid.UUID, label string) (*JobQuestion, error)
	ListJobQuestions(ctx context.Context, jobID uuid.UUID) ([]JobQuestion, error)
	NextJobQuestionPosition(ctx context.Context, jobID uuid.UUID) (int, error)
	SaveJobQuestion(ctx context.Context, q *JobQuestion) error
	GetGlobalQuestionByLabel(ctx context.Context, label string) (*GlobalQuestion, error)
	NextGlobalQuestionPosition(ctx context.Context) (int, error)
	SaveGlobalQuestion(ctx context.Context, q *GlobalQuestion) error
}

// ApplicationStore persists applications and their sync gates.
type ApplicationStore interface {
	GetApplicationByID(ctx context.Context, id uuid.UUID) (*Application, error)
	GetApplicationByTeamtailorID(ctx context.Context, teamtailorID string) (*Application, error)
	GetApplicationByJobAndCandidate(ctx context.Context, jobID, candidateID uuid.UUID) (*Application, error)
	SaveApplication(ctx context.Context, a *Application) error
	// ListApplicationsMissingFullSync returns externally identified
	// applications without full_sync_at, least recently checked first.
	ListApplicationsMissingFullSync(ctx context.Context, filter ApplicationFilter) ([]Application, error)
	MarkApplicationStateSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkApplicationFullSynced sets full_sync_at if it is not already set.
	MarkApplicationFullSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkAnswersChecked(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AnswerStore persists application answers.
type AnswerStore interface {
	// SaveAnswer upserts on (application, question).
	SaveAnswer(ctx context.Context, a *ApplicationAnswer) error
	ListAnswers(ctx context.Context, applicationID uuid.UUID) ([]ApplicationAnswer, error)
	// ListUnansweredJobQuestions returns the job's external questions with no
	// answer stored for the application.
	ListUnansweredJobQuestions(ctx context.Context, applicationID, jobID uuid.UUID) ([]JobQuestion, error)
}

// TransitionStore persists stage transitions.
type TransitionStore interface {
	HasTransitionTo(ctx context.Context, applicationID, toStageID uuid.UUID) (bool, error)
	// FindTransitionNear returns a transition to toStageID within window of at.
	FindTransitionNear(ctx context.Context, applicationID, toStageID uuid.UUID, at time.Time, window time.Duration) (*StageTransition, error)
	ListTransitions(ctx context.Context, applicationID uuid.UUID) ([]StageTransition, error)
	SaveTransition(ctx context.Context, t *StageTransition) error
}

// MessageStore persists emails and timeline events.
type MessageStore interface {
	GetEmailMessageByTeamtailorID(ctx context.Context, teamtailorID string) (*EmailMessage, error)
	SaveEmailMessage(ctx context.Context, m *EmailMessage) error
	GetApplicationEventByTeamtailorID(ctx context.Context, teamtailorID string) (*ApplicationEvent, error)
	SaveApplicationEvent(ctx context.Context, e *ApplicationEvent) error
}

// SyncStateStore persists per-resource watermarks.
type SyncStateStore interface {
	GetSyncState(ctx context.Context, resource string) (*SyncState, error)
	// AdvanceSyncState moves the watermark to at unless it is already later.
	AdvanceSyncState(ctx context.Context, resource string, at time.Time) (*SyncState, error)
	ListSyncStates(ctx context.Context) ([]SyncState, error)
}

// SyncLockStore persists heartbeat-row locks. Every operation is a single
// conditional statement.
type SyncLockStore interface {
	AcquireSyncLock(ctx context.Context, key, owner string, ttl time.Duration) (LockResult, error)
	HeartbeatSyncLock(ctx context.Context, key, owner string) (bool, error)
	ReleaseSyncLock(ctx context.Context, key, owner string) (bool, error)
	GetSyncLock(ctx context.Context, key string) (*SyncLock, error)
}

// Store is everything the sync engine needs from persistence.
type Store interface {
	JobPostingStore
	CandidateStore
	StageStore
	QuestionStore
	ApplicationStore
	AnswerStore
	TransitionStore
	MessageStore
	SyncStateStore
	SyncLockStore
}

var _ Store = (*DB)(nil)
