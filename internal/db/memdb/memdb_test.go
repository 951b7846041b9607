package memdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ats-sync/internal/db"
)

func strPtr(s string) *string { return &s }

// clock is a settable fake for Store.Now.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func newStore(c *clock) *Store {
	s := New()
	s.Now = c.Now
	return s
}

func seedApplication(t *testing.T, s *Store) (*db.JobPosting, *db.Application) {
	t.Helper()
	ctx := context.Background()
	job := &db.JobPosting{TeamtailorID: strPtr("job-1"), Title: "Engineer", Description: "x"}
	require.NoError(t, s.SaveJobPosting(ctx, job))
	cand := &db.Candidate{TeamtailorID: strPtr("cand-1"), FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	require.NoError(t, s.SaveCandidate(ctx, cand))
	app := &db.Application{TeamtailorID: strPtr("app-1"), JobPostingID: job.ID, CandidateID: cand.ID}
	require.NoError(t, s.SaveApplication(ctx, app))
	return job, app
}

func TestStore_UniqueKeys(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveJobPosting(ctx, &db.JobPosting{TeamtailorID: strPtr("job-1"), Title: "a"}))
	err := s.SaveJobPosting(ctx, &db.JobPosting{TeamtailorID: strPtr("job-1"), Title: "b"})
	assert.True(t, db.IsConflict(err))

	require.NoError(t, s.SaveCandidate(ctx, &db.Candidate{TeamtailorID: strPtr("c-1"), Email: "Ada@Example.com"}))
	err = s.SaveCandidate(ctx, &db.Candidate{TeamtailorID: strPtr("c-2"), Email: " ada@example.com"})
	assert.True(t, db.IsConflict(err))

	got, err := s.GetCandidateByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ada@example.com", got.Email)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	job := &db.JobPosting{TeamtailorID: strPtr("job-1"), Title: "Engineer"}
	require.NoError(t, s.SaveJobPosting(ctx, job))

	got, err := s.GetJobPostingByID(ctx, job.ID)
	require.NoError(t, err)
	got.Title = "changed"

	again, err := s.GetJobPostingByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Engineer", again.Title)
}

func TestStore_StageScopeAndPrune(t *testing.T) {
	s := New()
	ctx := context.Background()
	job, app := seedApplication(t, s)

	global := &db.PipelineStage{TeamtailorID: strPtr("st-1"), Name: "Inbox", Kind: db.StageKindActive}
	scoped := &db.PipelineStage{JobPostingID: &job.ID, TeamtailorID: strPtr("st-1"), Name: "Inbox", Kind: db.StageKindActive}
	stale := &db.PipelineStage{JobPostingID: &job.ID, TeamtailorID: strPtr("st-2"), Name: "Old", Position: 1, Kind: db.StageKindActive}
	manual := &db.PipelineStage{JobPostingID: &job.ID, Name: "Manual", Position: 2, Kind: db.StageKindActive}
	for _, st := range []*db.PipelineStage{global, scoped, stale, manual} {
		require.NoError(t, s.SaveStage(ctx, st))
	}

	dup := &db.PipelineStage{JobPostingID: &job.ID, TeamtailorID: strPtr("st-1"), Name: "Dup"}
	assert.True(t, db.IsConflict(s.SaveStage(ctx, dup)))

	app.CurrentStageID = &stale.ID
	require.NoError(t, s.SaveApplication(ctx, app))
	require.NoError(t, s.SaveTransition(ctx, &db.StageTransition{ApplicationID: app.ID, ToStageID: stale.ID, TransitionedAt: time.Now()}))

	n, err := s.PruneStages(ctx, &job.ID, []string{"st-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stages, err := s.ListStages(ctx, &job.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "Inbox", stages[0].Name)
	assert.Equal(t, "Manual", stages[1].Name)

	globals, err := s.ListStages(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, globals, 1)

	got, err := s.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentStageID)

	transitions, err := s.ListTransitions(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestStore_FullSyncGate(t *testing.T) {
	c := newClock()
	s := newStore(c)
	ctx := context.Background()
	job, app := seedApplication(t, s)

	q := &db.JobQuestion{JobPostingID: job.ID, TeamtailorID: strPtr("q-1"), Label: "Why us?", Kind: db.QuestionKindLongText}
	require.NoError(t, s.SaveJobQuestion(ctx, q))
	internal := &db.JobQuestion{JobPostingID: job.ID, Label: "Internal", Kind: db.QuestionKindShortText, Position: 1}
	require.NoError(t, s.SaveJobQuestion(ctx, internal))

	missing, err := s.ListApplicationsMissingFullSync(ctx, db.ApplicationFilter{MissingAnswers: true})
	require.NoError(t, err)
	require.Len(t, missing, 1)

	unanswered, err := s.ListUnansweredJobQuestions(ctx, app.ID, job.ID)
	require.NoError(t, err)
	require.Len(t, unanswered, 1)
	assert.Equal(t, q.ID, unanswered[0].ID)

	ans := &db.ApplicationAnswer{ApplicationID: app.ID, JobQuestionID: &q.ID, Value: "first"}
	require.NoError(t, s.SaveAnswer(ctx, ans))
	again := &db.ApplicationAnswer{ApplicationID: app.ID, JobQuestionID: &q.ID, Value: "second"}
	require.NoError(t, s.SaveAnswer(ctx, again))
	assert.Equal(t, ans.ID, again.ID)

	answers, err := s.ListAnswers(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "second", answers[0].Value)

	missing, err = s.ListApplicationsMissingFullSync(ctx, db.ApplicationFilter{MissingAnswers: true})
	require.NoError(t, err)
	assert.Empty(t, missing)

	first := c.Now()
	require.NoError(t, s.MarkApplicationFullSynced(ctx, app.ID, first))
	c.Advance(time.Hour)
	require.NoError(t, s.MarkApplicationFullSynced(ctx, app.ID, c.Now()))

	// A later save carrying a nil gate must not clear it.
	app.FullSyncAt = nil
	require.NoError(t, s.SaveApplication(ctx, app))

	got, err := s.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FullSyncAt)
	assert.True(t, got.FullSyncAt.Equal(first))

	assert.ErrorIs(t, s.SaveAnswer(ctx, &db.ApplicationAnswer{ApplicationID: app.ID}), db.ErrAnswerQuestion)
}

func TestStore_BackfillOrder(t *testing.T) {
	c := newClock()
	s := newStore(c)
	ctx := context.Background()
	job, first := seedApplication(t, s)

	cand := &db.Candidate{TeamtailorID: strPtr("cand-2"), Email: "grace@example.com"}
	require.NoError(t, s.SaveCandidate(ctx, cand))
	c.Advance(time.Minute)
	second := &db.Application{TeamtailorID: strPtr("app-2"), JobPostingID: job.ID, CandidateID: cand.ID}
	require.NoError(t, s.SaveApplication(ctx, second))

	list, err := s.ListApplicationsMissingFullSync(ctx, db.ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first when never checked")

	require.NoError(t, s.MarkAnswersChecked(ctx, second.ID, c.Now()))
	list, err = s.ListApplicationsMissingFullSync(ctx, db.ApplicationFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID, "unchecked rows come first")
}

func TestStore_FindTransitionNear(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, app := seedApplication(t, s)
	stage := &db.PipelineStage{TeamtailorID: strPtr("st-1"), Name: "Inbox"}
	require.NoError(t, s.SaveStage(ctx, stage))

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := &db.StageTransition{ApplicationID: app.ID, ToStageID: stage.ID, TransitionedAt: at}
	require.NoError(t, s.SaveTransition(ctx, tr))

	near, err := s.FindTransitionNear(ctx, app.ID, stage.ID, at.Add(4*time.Second), db.TransitionWindow)
	require.NoError(t, err)
	require.NotNil(t, near)
	assert.Equal(t, tr.ID, near.ID)

	far, err := s.FindTransitionNear(ctx, app.ID, stage.ID, at.Add(6*time.Second), db.TransitionWindow)
	require.NoError(t, err)
	assert.Nil(t, far)

	near.TeamtailorID = strPtr("mv-1")
	require.NoError(t, s.SaveTransition(ctx, near))
	list, err := s.ListTransitions(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mv-1", *list[0].TeamtailorID)
}

func TestStore_SyncStateMonotone(t *testing.T) {
	s := New()
	ctx := context.Background()
	t1 := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := s.AdvanceSyncState(ctx, "jobs", t1)
	require.NoError(t, err)
	st, err := s.AdvanceSyncState(ctx, "jobs", t1.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, st.LastSyncedAt.Equal(t1))

	st, err = s.AdvanceSyncState(ctx, "jobs", t1.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, st.LastSyncedAt.Equal(t1.Add(time.Hour)))

	missing, err := s.GetSyncState(ctx, "candidates")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_SyncLock(t *testing.T) {
	c := newClock()
	s := newStore(c)
	ctx := context.Background()
	ttl := 10 * time.Minute

	res, err := s.AcquireSyncLock(ctx, "poll", "a", ttl)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Nil(t, res.PreviousOwner)

	res, err = s.AcquireSyncLock(ctx, "poll", "b", ttl)
	require.NoError(t, err)
	assert.False(t, res.Acquired)

	c.Advance(9 * time.Minute)
	ok, err := s.HeartbeatSyncLock(ctx, "poll", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	c.Advance(9 * time.Minute)
	res, err = s.AcquireSyncLock(ctx, "poll", "b", ttl)
	require.NoError(t, err)
	assert.False(t, res.Acquired, "heartbeat keeps the lock fresh")

	c.Advance(2 * time.Minute)
	res, err = s.AcquireSyncLock(ctx, "poll", "b", ttl)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.True(t, res.TookOver("b"))

	ok, err = s.ReleaseSyncLock(ctx, "poll", "a")
	require.NoError(t, err)
	assert.False(t, ok, "displaced owner cannot release")

	ok, err = s.ReleaseSyncLock(ctx, "poll", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	lock, err := s.GetSyncLock(ctx, "poll")
	require.NoError(t, err)
	assert.Nil(t, lock.LockedBy)
	assert.False(t, lock.IsHeld(c.Now(), ttl))
}

func TestStore_Counts(t *testing.T) {
	s := New()
	seedApplication(t, s)
	counts := s.Counts()
	assert.Equal(t, 1, counts["job_postings"])
	assert.Equal(t, 1, counts["candidates"])
	assert.Equal(t, 1, counts["applications"])
	assert.Equal(t, 0, counts["email_messages"])
}
