package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/db/memdb"
)

type seeded struct {
	job *db.JobPosting
}

// seedJob stores a job with the given external questions.
func seedJob(t *testing.T, store *memdb.Store, jobTT string, questions ...string) seeded {
	t.Helper()
	ctx := context.Background()
	job := &db.JobPosting{TeamtailorID: &jobTT, Title: "Engineer", Description: "-"}
	require.NoError(t, store.SaveJobPosting(ctx, job))
	for _, qTT := range questions {
		require.NoError(t, store.SaveJobQuestion(ctx, &db.JobQuestion{
			JobPostingID: job.ID, TeamtailorID: &qTT, Label: "Question " + qTT, Kind: db.QuestionKindShortText,
		}))
	}
	return seeded{job: job}
}

func (s seeded) application(t *testing.T, store *memdb.Store, appTT string) *db.Application {
	t.Helper()
	ctx := context.Background()
	candTT := "cand-" + appTT
	cand := &db.Candidate{TeamtailorID: &candTT, FirstName: "A", LastName: "B", Email: candTT + "@example.com"}
	require.NoError(t, store.SaveCandidate(ctx, cand))
	app := &db.Application{TeamtailorID: &appTT, JobPostingID: s.job.ID, CandidateID: cand.ID}
	require.NoError(t, store.SaveApplication(ctx, app))
	return app
}

func TestDesyncCheck(t *testing.T) {
	src := newFakeSource()
	src.docs["/job-applications/app-1"] = `{"data":{"id":"app-1","type":"job-applications",
		"attributes":{"answers":[{"question_id":"q-1","value":"Yes"}]}}}`
	svc, store := newTestService(t, src, nil)
	ctx := context.Background()

	job := seedJob(t, store, "job-1", "q-1")
	answered := job.application(t, store, "app-1")
	gone := job.application(t, store, "app-2")

	res, err := svc.DesyncCheck(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.FullySynced)
	assert.Equal(t, 1, res.Answers)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)

	app, err := store.GetApplicationByID(ctx, answered.ID)
	require.NoError(t, err)
	assert.NotNil(t, app.FullSyncAt)

	app, err = store.GetApplicationByID(ctx, gone.ID)
	require.NoError(t, err)
	assert.Nil(t, app.FullSyncAt)
	require.NotNil(t, app.AnswersCheckedAt, "a failed lookup still rotates the application back")
	assert.Equal(t, testNow, *app.AnswersCheckedAt)

	res, err = svc.DesyncCheck(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
}

func TestBackfillAnswers_IncludesAppsWithoutQuestions(t *testing.T) {
	src := newFakeSource()
	src.docs["/job-applications/app-1"] = `{"data":{"id":"app-1","type":"job-applications","attributes":{}}}`
	svc, store := newTestService(t, src, nil)
	ctx := context.Background()

	job := seedJob(t, store, "job-1")
	job.application(t, store, "app-1")

	desync, err := svc.DesyncCheck(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, desync.Checked, "nothing unanswered")

	res, err := svc.BackfillAnswers(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.FullySynced)
}

func TestBackfillAnswers_RespectsLimit(t *testing.T) {
	src := newFakeSource()
	svc, store := newTestService(t, src, func(c *config.SyncConfig) { c.BatchSize = 3 })

	job := seedJob(t, store, "job-1", "q-1")
	for i := range 5 {
		job.application(t, store, fmt.Sprintf("app-%d", i))
	}

	res, err := svc.BackfillAnswers(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)

	res, err = svc.BackfillAnswers(context.Background(), BatchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
}

func TestBackfillAnswers_HeartbeatErrorAborts(t *testing.T) {
	src := newFakeSource()
	svc, store := newTestService(t, src, func(c *config.SyncConfig) { c.Workers = 1 })

	job := seedJob(t, store, "job-1", "q-1")
	for i := range heartbeatEvery + 5 {
		job.application(t, store, fmt.Sprintf("app-%d", i))
	}

	lost := errors.New("lock lost")
	res, err := svc.BackfillAnswers(context.Background(), BatchOptions{
		Heartbeat: func(context.Context) error { return lost },
	})
	require.ErrorIs(t, err, lost)
	assert.Equal(t, heartbeatEvery, res.Checked)
}

func TestBackfillAnswers_Empty(t *testing.T) {
	svc, _ := newTestService(t, newFakeSource(), nil)
	res, err := svc.BackfillAnswers(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

func TestBackfillAnswers_AppliesDeferredCoverLetter(t *testing.T) {
	src := newFakeSource()
	src.pages["/job-applications"] = []string{`{"data":[
		{"id":"app-1","type":"job-applications","attributes":{"updated-at":"2025-01-05T00:00:00Z","cover-letter":"Dear team"},
			"relationships":{"job":{"data":{"type":"jobs","id":"job-1"}},"candidate":{"data":{"type":"candidates","id":"cand-1"}}}}],
		"included":[
			{"id":"job-1","type":"jobs","attributes":{"title":"Engineer"}},
			{"id":"cand-1","type":"candidates","attributes":{"first-name":"Ada","email":"ada@example.com"}}]}`}
	src.docs["/job-applications/app-1"] = `{"data":{"id":"app-1","type":"job-applications",
		"attributes":{"cover-letter":"Dear team"}}}`
	svc, store := newTestService(t, src, func(c *config.SyncConfig) { c.AnswersInline = false })
	ctx := context.Background()

	res, err := svc.Sync(ctx, config.ResourceApplications, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	assert.Zero(t, store.Counts()["application_answers"])

	pending, err := store.ListApplicationsMissingFullSync(ctx, db.ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1, "deferred application stays queued for the answer backfill")

	batch, err := svc.BackfillAnswers(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Checked)
	assert.Equal(t, 1, batch.FullySynced)
	assert.Equal(t, 1, store.Counts()["application_answers"])
}
