package mappers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/events"
)

const applicationDoc = `{
	"data":{"id":"app-1","type":"job-applications",
		"attributes":{
			"created-at":"2025-01-10T10:00:00Z",
			"updated-at":"2025-01-12T10:00:00Z",
			"changed-stage-at":"%s",
			"source":"LinkedIn",
			"utm-source":"newsletter",
			"cover-letter":"Hello there",
			"answers":[{"question":{"id":"q-1","type":"questions","attributes":{"title":"Years of Go?","question-type":"Number"}},"value":5}]},
		"relationships":{
			"job":{"data":{"type":"jobs","id":"job-123"}},
			"candidate":{"data":{"type":"candidates","id":"cand-1"}},
			"stage":{"data":{"type":"stages","id":"%s"}}}},
	"included":[
		{"id":"job-123","type":"jobs","attributes":{"title":"Backend Engineer"},
			"relationships":{"questions":{"data":[{"type":"questions","id":"q-1"}]}}},
		{"id":"q-1","type":"questions","attributes":{"title":"Years of Go?","question-type":"Number"}},
		{"id":"cand-1","type":"candidates","attributes":{"first-name":"Ada","last-name":"Lovelace","email":"ada@example.com"}},
		{"id":"st-1","type":"stages","attributes":{"name":"Inbox"},"relationships":{"job":{"data":{"type":"jobs","id":"job-123"}}}},
		{"id":"st-2","type":"stages","attributes":{"name":"Phone Screen"},"relationships":{"job":{"data":{"type":"jobs","id":"job-123"}}}}]}`

// applyAt maps app-1 sitting in the given stage since changedAt.
func applyAt(t *testing.T, m *Mapper, stageID, changedAt string) (*ApplicationResult, error) {
	t.Helper()
	doc := mustDoc(t, fmt.Sprintf(applicationDoc, changedAt, stageID))
	return m.MapApplication(context.Background(), doc.Data.One, doc.Index(), ApplicationOptions{})
}

func TestMapApplication_EndToEnd(t *testing.T) {
	m, store, rec := newTestMapper(t, nil)
	ctx := context.Background()
	res, err := applyAt(t, m, "st-1", "2025-01-11T09:00:00Z")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.FullySynced)
	assert.Equal(t, TierInline, res.Answers.Tier)

	app := res.Application
	require.NotNil(t, app.AppliedAt)
	assert.Equal(t, time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC), *app.AppliedAt)
	assert.Equal(t, "LinkedIn", *app.Source)
	assert.Equal(t, "newsletter", *app.UTMSource)

	job, err := store.GetJobPostingByTeamtailorID(ctx, "job-123")
	require.NoError(t, err)
	require.NotNil(t, job, "referenced job is backfilled from the included index")
	assert.Equal(t, job.ID, app.JobPostingID)

	answers, err := store.ListAnswers(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	values := []string{answers[0].Value, answers[1].Value}
	assert.ElementsMatch(t, []string{"5", "Hello there"}, values)

	transitions, err := store.ListTransitions(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Nil(t, transitions[0].FromStageID)
	assert.Equal(t, time.Date(2025, 1, 11, 9, 0, 0, 0, time.UTC), transitions[0].TransitionedAt)

	stored, err := store.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StateSyncedAt)
	assert.Equal(t, time.Date(2025, 1, 12, 10, 0, 0, 0, time.UTC), *stored.StateSyncedAt)
	assert.NotNil(t, stored.FullSyncAt)

	assert.Len(t, rec.Events(events.TopicApplicationCreated), 1)
}

func TestMapApplication_Idempotent(t *testing.T) {
	m, store, rec := newTestMapper(t, nil)
	first, err := applyAt(t, m, "st-1", "2025-01-11T09:00:00Z")
	require.NoError(t, err)
	before := store.Counts()

	second, err := applyAt(t, m, "st-1", "2025-01-11T09:00:00Z")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.False(t, second.StageMoved)
	assert.Equal(t, first.Application.ID, second.Application.ID)
	assert.Equal(t, before, store.Counts())
	assert.Len(t, rec.Events(""), 1)
}

func TestMapApplication_StageChange(t *testing.T) {
	m, store, rec := newTestMapper(t, nil)
	ctx := context.Background()

	first, err := applyAt(t, m, "st-1", "2025-01-11T09:00:00Z")
	require.NoError(t, err)

	moved, err := applyAt(t, m, "st-2", "2025-01-14T16:30:00Z")
	require.NoError(t, err)
	assert.True(t, moved.StageMoved)

	transitions, err := store.ListTransitions(ctx, first.Application.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	require.NotNil(t, transitions[1].FromStageID)
	assert.Equal(t, *first.Application.CurrentStageID, *transitions[1].FromStageID)

	changed := rec.Events(events.TopicApplicationStageChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, first.Application.ID, changed[0].ApplicationID)
}

func TestMapApplication_UnknownCandidateIsSkipped(t *testing.T) {
	f := newFakeFetcher()
	m, store, _ := newTestMapper(t, f)
	ctx := context.Background()

	res := mustResource(t, `{"id":"app-9","type":"job-applications","attributes":{},
		"relationships":{
			"job":{"data":{"type":"jobs","id":"job-1"}},
			"candidate":{"data":{"type":"candidates","id":"cand-404"}}}}`)
	f.on("/jobs/job-1", `{"data":{"id":"job-1","type":"jobs","attributes":{"title":"Engineer"}}}`)

	_, err := m.MapApplication(ctx, res, nil, ApplicationOptions{})
	require.Error(t, err)
	assert.True(t, IsSkip(err))
	assert.Equal(t, 1, f.count("/candidates/cand-404"))

	app, err := store.GetApplicationByTeamtailorID(ctx, "app-9")
	require.NoError(t, err)
	assert.Nil(t, app)
	assert.Equal(t, 0, store.Counts()["applications"])
	assert.Equal(t, 1, store.Counts()["job_postings"], "the job was fetched on demand")
}

func TestMapApplication_MissingReferences(t *testing.T) {
	m, _, _ := newTestMapper(t, nil)
	_, err := m.MapApplication(context.Background(), mustResource(t, `{"id":"a","type":"job-applications"}`), nil, ApplicationOptions{})
	assert.True(t, IsSkip(err))
}

func TestMapApplication_SkipAnswers(t *testing.T) {
	m, store, _ := newTestMapper(t, nil)
	doc := mustDoc(t, fmt.Sprintf(applicationDoc, "2025-01-11T09:00:00Z", "st-1"))

	res, err := m.MapApplication(context.Background(), doc.Data.One, doc.Index(), ApplicationOptions{SkipAnswers: true})
	require.NoError(t, err)
	assert.False(t, res.FullySynced)
	assert.Equal(t, 0, store.Counts()["application_answers"])

	missing, err := store.ListApplicationsMissingFullSync(context.Background(), db.ApplicationFilter{MissingAnswers: true})
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestRefreshFullSync_NeverUnset(t *testing.T) {
	m, store, _ := newTestMapper(t, nil)
	ctx := context.Background()
	res, err := applyAt(t, m, "st-1", "2025-01-11T09:00:00Z")
	require.NoError(t, err)
	require.True(t, res.FullySynced)
	setAt := *res.Application.FullSyncAt

	job, err := store.GetJobPostingByID(ctx, res.Application.JobPostingID)
	require.NoError(t, err)
	newQ := "q-new"
	require.NoError(t, store.SaveJobQuestion(ctx, &db.JobQuestion{JobPostingID: job.ID, TeamtailorID: &newQ, Label: "New question", Kind: db.QuestionKindShortText}))

	app, err := store.GetApplicationByID(ctx, res.Application.ID)
	require.NoError(t, err)
	ok, err := m.RefreshFullSync(ctx, app)
	require.NoError(t, err)
	assert.True(t, ok)

	app, err = store.GetApplicationByID(ctx, res.Application.ID)
	require.NoError(t, err)
	require.NotNil(t, app.FullSyncAt)
	assert.Equal(t, setAt, *app.FullSyncAt)
}
