//go:build integration

package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func createJob(t *testing.T, db *DB, ttID string) *JobPosting {
	t.Helper()
	job := &JobPosting{TeamtailorID: strPtr(ttID), Title: "Backend Engineer", Description: "Build things"}
	require.NoError(t, db.SaveJobPosting(context.Background(), job))
	return job
}

func createCandidate(t *testing.T, db *DB, ttID, email string) *Candidate {
	t.Helper()
	c := &Candidate{TeamtailorID: strPtr(ttID), FirstName: "Ada", LastName: "Lovelace", Email: email}
	require.NoError(t, db.SaveCandidate(context.Background(), c))
	return c
}

func createApplication(t *testing.T, db *DB, jobID, candidateID uuid.UUID, ttID string) *Application {
	t.Helper()
	a := &Application{TeamtailorID: strPtr(ttID), JobPostingID: jobID, CandidateID: candidateID}
	require.NoError(t, db.SaveApplication(context.Background(), a))
	return a
}

func TestIntegration_JobPosting_CreateAndUpdate(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	job := createJob(t, db, "job-123")
	assert.NotEqual(t, uuid.Nil, job.ID)

	job.Title = "Senior Backend Engineer"
	require.NoError(t, db.SaveJobPosting(ctx, job))

	got, err := db.GetJobPostingByTeamtailorID(ctx, "job-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "Senior Backend Engineer", got.Title)

	missing, err := db.GetJobPostingByTeamtailorID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	dup := &JobPosting{TeamtailorID: strPtr("job-123"), Title: "x", Description: "y"}
	err = db.SaveJobPosting(ctx, dup)
	assert.True(t, IsConflict(err))
}

func TestIntegration_Candidate_EmailIsCaseInsensitive(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	c := createCandidate(t, db, "cand-1", "Ada@Example.com")
	assert.Equal(t, "ada@example.com", c.Email)

	got, err := db.GetCandidateByEmail(ctx, "ADA@example.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)

	err = db.SaveCandidate(ctx, &Candidate{FirstName: "A", LastName: "B", Email: "ada@EXAMPLE.com"})
	assert.True(t, IsConflict(err))
}

func TestIntegration_Stages_ScopeAndPrune(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	job := createJob(t, db, "job-1")
	cand := createCandidate(t, db, "cand-1", "ada@example.com")

	keep := &PipelineStage{JobPostingID: &job.ID, TeamtailorID: strPtr("s-keep"), Name: "Inbox", Kind: StageKindActive}
	stale := &PipelineStage{JobPostingID: &job.ID, TeamtailorID: strPtr("s-stale"), Name: "Old", Position: 1, Kind: StageKindActive}
	manual := &PipelineStage{JobPostingID: &job.ID, Name: "Manual", Position: 2, Kind: StageKindActive}
	global := &PipelineStage{TeamtailorID: strPtr("s-stale"), Name: "Global Old", Kind: StageKindActive}
	for _, s := range []*PipelineStage{keep, stale, manual, global} {
		require.NoError(t, db.SaveStage(ctx, s))
	}

	next, err := db.NextStagePosition(ctx, &job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	scoped, err := db.GetStageByTeamtailorID(ctx, &job.ID, "s-stale")
	require.NoError(t, err)
	assert.Equal(t, stale.ID, scoped.ID)
	g, err := db.GetStageByTeamtailorID(ctx, nil, "s-stale")
	require.NoError(t, err)
	assert.Equal(t, global.ID, g.ID)

	app := createApplication(t, db, job.ID, cand.ID, "app-1")
	app.CurrentStageID = &stale.ID
	require.NoError(t, db.SaveApplication(ctx, app))
	require.NoError(t, db.SaveTransition(ctx, &StageTransition{ApplicationID: app.ID, ToStageID: stale.ID, TransitionedAt: time.Now()}))

	removed, err := db.PruneStages(ctx, &job.ID, []string{"s-keep"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stages, err := db.ListStages(ctx, &job.ID)
	require.NoError(t, err)
	names := []string{}
	for _, s := range stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Inbox", "Manual"}, names)

	reloaded, err := db.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.CurrentStageID)

	transitions, err := db.ListTransitions(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	g, err = db.GetStageByTeamtailorID(ctx, nil, "s-stale")
	require.NoError(t, err)
	assert.NotNil(t, g, "other scopes are untouched")
}

func TestIntegration_Answers_FullSyncGate(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	job := createJob(t, db, "job-1")
	cand := createCandidate(t, db, "cand-1", "ada@example.com")
	app := createApplication(t, db, job.ID, cand.ID, "app-1")

	q1 := &JobQuestion{JobPostingID: job.ID, TeamtailorID: strPtr("q-1"), Label: "Years of Go?", Kind: QuestionKindNumber}
	q2 := &JobQuestion{JobPostingID: job.ID, TeamtailorID: strPtr("q-2"), Label: "Portfolio", Kind: QuestionKindShortText, Position: 1}
	local := &JobQuestion{JobPostingID: job.ID, Label: "Internal note", Kind: QuestionKindLongText, Position: 2}
	for _, q := range []*JobQuestion{q1, q2, local} {
		require.NoError(t, db.SaveJobQuestion(ctx, q))
	}

	missing, err := db.ListApplicationsMissingFullSync(ctx, ApplicationFilter{MissingAnswers: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, missing, 1)

	a1 := &ApplicationAnswer{ApplicationID: app.ID, JobQuestionID: &q1.ID, Value: "5"}
	require.NoError(t, db.SaveAnswer(ctx, a1))
	again := &ApplicationAnswer{ApplicationID: app.ID, JobQuestionID: &q1.ID, Value: "6"}
	require.NoError(t, db.SaveAnswer(ctx, again))
	assert.Equal(t, a1.ID, again.ID, "answer upserts per question")

	unanswered, err := db.ListUnansweredJobQuestions(ctx, app.ID, job.ID)
	require.NoError(t, err)
	require.Len(t, unanswered, 1)
	assert.Equal(t, q2.ID, unanswered[0].ID)

	require.NoError(t, db.SaveAnswer(ctx, &ApplicationAnswer{ApplicationID: app.ID, JobQuestionID: &q2.ID, Value: "https://ada.dev"}))
	missing, err = db.ListApplicationsMissingFullSync(ctx, ApplicationFilter{MissingAnswers: true, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, missing)

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.MarkApplicationFullSynced(ctx, app.ID, first))
	require.NoError(t, db.MarkApplicationFullSynced(ctx, app.ID, first.Add(time.Hour)))
	got, err := db.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FullSyncAt)
	assert.True(t, got.FullSyncAt.Equal(first), "full_sync_at is never overwritten")

	err = db.SaveAnswer(ctx, &ApplicationAnswer{ApplicationID: app.ID})
	assert.ErrorIs(t, err, ErrAnswerQuestion)
}

func TestIntegration_Transitions_FindNear(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	job := createJob(t, db, "job-1")
	cand := createCandidate(t, db, "cand-1", "ada@example.com")
	app := createApplication(t, db, job.ID, cand.ID, "app-1")
	stage := &PipelineStage{JobPostingID: &job.ID, Name: "Interview", Kind: StageKindActive}
	require.NoError(t, db.SaveStage(ctx, stage))

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr := &StageTransition{ApplicationID: app.ID, ToStageID: stage.ID, TransitionedAt: at}
	require.NoError(t, db.SaveTransition(ctx, tr))

	found, err := db.FindTransitionNear(ctx, app.ID, stage.ID, at.Add(4*time.Second), TransitionWindow)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tr.ID, found.ID)

	found, err = db.FindTransitionNear(ctx, app.ID, stage.ID, at.Add(6*time.Second), TransitionWindow)
	require.NoError(t, err)
	assert.Nil(t, found)

	has, err := db.HasTransitionTo(ctx, app.ID, stage.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestIntegration_SyncState_Monotone(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s, err := db.AdvanceSyncState(ctx, "applications", t1)
	require.NoError(t, err)
	assert.True(t, s.LastSyncedAt.Equal(t1))

	s, err = db.AdvanceSyncState(ctx, "applications", t1.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, s.LastSyncedAt.Equal(t1), "watermark never moves backwards")

	s, err = db.AdvanceSyncState(ctx, "applications", t1.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, s.LastSyncedAt.Equal(t1.Add(time.Hour)))

	states, err := db.ListSyncStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestIntegration_SyncLock_StateMachine(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	const key = "teamtailor_sync"

	res, err := db.AcquireSyncLock(ctx, key, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.Nil(t, res.PreviousOwner)

	res, err = db.AcquireSyncLock(ctx, key, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Acquired, "held by a different, fresh owner")

	res, err = db.AcquireSyncLock(ctx, key, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired, "re-acquire by the owner is idempotent")

	ok, err := db.HeartbeatSyncLock(ctx, key, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = db.ReleaseSyncLock(ctx, key, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.pool.Exec(ctx, `UPDATE teamtailor_sync_locks SET locked_at = NOW() - interval '2 minutes' WHERE key = $1`, key)
	require.NoError(t, err)

	res, err = db.AcquireSyncLock(ctx, key, "b", time.Minute)
	require.NoError(t, err)
	require.True(t, res.Acquired, "stale lock is taken over")
	assert.True(t, res.TookOver("b"))

	ok, err = db.HeartbeatSyncLock(ctx, key, "a")
	require.NoError(t, err)
	assert.False(t, ok, "displaced owner cannot refresh")

	ok, err = db.ReleaseSyncLock(ctx, key, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	lock, err := db.GetSyncLock(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, lock.LockedBy)
}

func TestIntegration_SyncLock_ConcurrentAcquire(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := db.AcquireSyncLock(ctx, "teamtailor_backfill", uuid.NewString(), time.Hour)
			assert.NoError(t, err)
			results[i] = res.Acquired
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestIntegration_Migrations_RoundTrip(t *testing.T) {
	dsn := testDSN(t)
	require.NoError(t, MigrateUp(dsn))
	require.NoError(t, MigrateDown(dsn, 1))
	require.NoError(t, MigrateUp(dsn))

	m, err := NewMigrator(dsn)
	require.NoError(t, err)
	defer func() { _, _ = m.Close() }()
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}
