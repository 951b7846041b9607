package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestApplicationAnswer_Validate(t *testing.T) {
	jq := uuid.New()
	gq := uuid.New()

	tests := []struct {
		name    string
		answer  ApplicationAnswer
		wantErr bool
	}{
		{"job question", ApplicationAnswer{JobQuestionID: &jq}, false},
		{"global question", ApplicationAnswer{GlobalQuestionID: &gq}, false},
		{"neither", ApplicationAnswer{}, true},
		{"both", ApplicationAnswer{JobQuestionID: &jq, GlobalQuestionID: &gq}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.answer.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrAnswerQuestion)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStageTransition_Within(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr := &StageTransition{TransitionedAt: at}

	assert.True(t, tr.Within(at, TransitionWindow))
	assert.True(t, tr.Within(at.Add(5*time.Second), TransitionWindow))
	assert.True(t, tr.Within(at.Add(-5*time.Second), TransitionWindow))
	assert.False(t, tr.Within(at.Add(5*time.Second+time.Millisecond), TransitionWindow))
}

func TestPipelineStage_SameScope(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	global := &PipelineStage{}
	scoped := &PipelineStage{JobPostingID: &a}

	assert.True(t, global.SameScope(nil))
	assert.False(t, global.SameScope(&a))
	assert.True(t, scoped.SameScope(&a))
	assert.False(t, scoped.SameScope(&b))
	assert.False(t, scoped.SameScope(nil))
}

func TestPipelineStage_IsTerminal(t *testing.T) {
	assert.True(t, (&PipelineStage{Kind: StageKindHired}).IsTerminal())
	assert.True(t, (&PipelineStage{Kind: StageKindRejected}).IsTerminal())
	assert.False(t, (&PipelineStage{Kind: StageKindActive}).IsTerminal())
}

func TestCandidate_Helpers(t *testing.T) {
	c := &Candidate{FirstName: "Ada", LastName: "Lovelace", Email: PlaceholderEmail("42")}
	assert.Equal(t, "Ada Lovelace", c.FullName())
	assert.Equal(t, "unknown-42@teamtailor.invalid", c.Email)
	assert.True(t, c.HasPlaceholderEmail())
	assert.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))
}

func TestJobQuestion_IsExternal(t *testing.T) {
	id := "q-1"
	empty := ""
	assert.True(t, (&JobQuestion{TeamtailorID: &id}).IsExternal())
	assert.False(t, (&JobQuestion{TeamtailorID: &empty}).IsExternal())
	assert.False(t, (&JobQuestion{}).IsExternal())
}

func TestSyncLock_IsHeld(t *testing.T) {
	now := time.Now()
	owner := "worker-1"
	recent := now.Add(-time.Minute)
	old := now.Add(-time.Hour)

	tests := []struct {
		name     string
		lock     SyncLock
		expected bool
	}{
		{"free", SyncLock{}, false},
		{"held", SyncLock{LockedBy: &owner, LockedAt: &recent}, true},
		{"stale", SyncLock{LockedBy: &owner, LockedAt: &old}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.lock.IsHeld(now, 30*time.Minute))
		})
	}
}

func TestLockResult_TookOver(t *testing.T) {
	other := "worker-2"
	self := "worker-1"
	assert.True(t, LockResult{Acquired: true, PreviousOwner: &other}.TookOver(self))
	assert.False(t, LockResult{Acquired: true, PreviousOwner: &self}.TookOver(self))
	assert.False(t, LockResult{Acquired: true}.TookOver(self))
	assert.False(t, LockResult{PreviousOwner: &other}.TookOver(self))
}

func TestIsConflict(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "candidates_teamtailor_id_key"}
	err := wrapWriteErr("create candidate", unique)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "candidates_teamtailor_id_key")

	notNull := &pgconn.PgError{Code: "23502"}
	assert.False(t, IsConflict(wrapWriteErr("create candidate", notNull)))
	assert.False(t, IsConflict(wrapWriteErr("x", errors.New("boom"))))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/db", migrateURL("postgres://u:p@localhost:5432/db"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL("postgresql://localhost/db"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL("pgx5://localhost/db"))
}
