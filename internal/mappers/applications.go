package mappers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/events"
	"github.com/jonathan/ats-sync/internal/jsonapi"
)

// ApplicationOptions tunes one application upsert.
type ApplicationOptions struct {
	// SkipAnswers leaves answers and the cover letter to a later backfill.
	SkipAnswers bool
	// Cache enables the per-candidate answer tier. It must not outlive the
	// run it was built for.
	Cache *AnswersCache
}

// ApplicationResult reports what an application upsert did.
type ApplicationResult struct {
	Application *db.Application
	Created     bool
	StageMoved  bool
	Answers     AnswerStats
	FullySynced bool
}

// MapApplication upserts an application. Referenced jobs and candidates that
// are not known locally are upserted from the included index or fetched;
// when either does not exist upstream the application is skipped.
func (m *Mapper) MapApplication(ctx context.Context, res *jsonapi.Resource, ix jsonapi.Index, opts ApplicationOptions) (*ApplicationResult, error) {
	if res == nil || res.ID == "" {
		return nil, skip("application", "", "missing id")
	}
	attrs := res.Attributes

	jobTT := res.RelID("job")
	if jobTT == "" {
		return nil, skip("application", res.ID, "no job reference")
	}
	candTT := res.RelID("candidate")
	if candTT == "" {
		return nil, skip("application", res.ID, "no candidate reference")
	}

	job, err := m.ensureJob(ctx, jobTT, ix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve job %s: %w", jobTT, err)
	}
	if job == nil {
		return nil, skip("application", res.ID, "job %s not found upstream", jobTT)
	}
	cand, err := m.ensureCandidate(ctx, candTT, ix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve candidate %s: %w", candTT, err)
	}
	if cand == nil {
		return nil, skip("application", res.ID, "candidate %s not found upstream", candTT)
	}

	app, err := m.store.GetApplicationByTeamtailorID(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up application %s: %w", res.ID, err)
	}
	if app == nil {
		app, err = m.store.GetApplicationByJobAndCandidate(ctx, job.ID, cand.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up application by job and candidate: %w", err)
		}
		if app != nil && app.TeamtailorID != nil && *app.TeamtailorID != res.ID {
			return nil, skip("application", res.ID, "job and candidate already linked to application %s", *app.TeamtailorID)
		}
	}

	out := &ApplicationResult{Created: app == nil}
	if app == nil {
		app = &db.Application{AppliedAt: attrs.Time("created_at", "applied_at")}
	}
	app.TeamtailorID = &res.ID
	app.JobPostingID = job.ID
	app.CandidateID = cand.ID
	for _, f := range []struct {
		dst  **string
		keys []string
	}{
		{&app.Source, []string{"source", "sourced_by"}},
		{&app.UTMSource, []string{"utm_source"}},
		{&app.UTMMedium, []string{"utm_medium"}},
		{&app.UTMCampaign, []string{"utm_campaign"}},
	} {
		if v := attrs.String(f.keys...); v != "" {
			*f.dst = &v
		}
	}

	var prevStage *uuid.UUID
	if app.CurrentStageID != nil {
		id := *app.CurrentStageID
		prevStage = &id
	}
	stage, err := m.resolveStage(ctx, res.RelID("stage"), job, ix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stage: %w", err)
	}
	if stage != nil {
		id := stage.ID
		app.CurrentStageID = &id
	}

	if err := m.store.SaveApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to save application %s: %w", res.ID, err)
	}
	out.Application = app
	if out.Created {
		m.publish(ctx, applicationEvent(events.TopicApplicationCreated, app, nil))
	}

	if !opts.SkipAnswers {
		if err := m.applyCoverLetter(ctx, app, attrs); err != nil {
			return nil, err
		}
		out.Answers, err = m.ApplyAnswers(ctx, app, res, ix, opts.Cache)
		if err != nil {
			return nil, err
		}
	}

	if stage != nil {
		out.StageMoved, err = m.recordTransition(ctx, app, prevStage, stage.ID, attrs)
		if err != nil {
			return nil, err
		}
	}

	syncedAt := attrs.Time("updated_at")
	if syncedAt == nil {
		now := m.clock()
		syncedAt = &now
	}
	if err := m.store.MarkApplicationStateSynced(ctx, app.ID, *syncedAt); err != nil {
		return nil, fmt.Errorf("failed to mark application synced: %w", err)
	}
	app.StateSyncedAt = syncedAt

	// Deferred answers keep the gate open so the answer backfill picks the
	// application up and applies its cover letter.
	if opts.SkipAnswers {
		out.FullySynced = app.FullSyncAt != nil
		return out, nil
	}
	out.FullySynced, err = m.RefreshFullSync(ctx, app)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// recordTransition logs a move to toStage unless an equivalent transition
// already exists. Returns true when the stage changed from a known stage.
func (m *Mapper) recordTransition(ctx context.Context, app *db.Application, prev *uuid.UUID, toStage uuid.UUID, attrs jsonapi.Attributes) (bool, error) {
	changed := prev == nil || *prev != toStage
	if !changed {
		logged, err := m.store.HasTransitionTo(ctx, app.ID, toStage)
		if err != nil || logged {
			return false, err
		}
	}

	at := attrs.Time("changed_stage_at", "stage_changed_at")
	if at == nil {
		at = app.AppliedAt
	}
	if at == nil {
		now := m.clock()
		at = &now
	}

	near, err := m.store.FindTransitionNear(ctx, app.ID, toStage, *at, db.TransitionWindow)
	if err != nil {
		return false, fmt.Errorf("failed to look up transition: %w", err)
	}
	if near == nil {
		t := &db.StageTransition{ApplicationID: app.ID, ToStageID: toStage, TransitionedAt: *at}
		if changed {
			t.FromStageID = prev
		}
		if err := m.store.SaveTransition(ctx, t); err != nil {
			return false, fmt.Errorf("failed to save transition: %w", err)
		}
	}

	moved := prev != nil && *prev != toStage
	if moved {
		m.publish(ctx, applicationEvent(events.TopicApplicationStageChanged, app, prev))
	}
	return moved, nil
}

// RefreshFullSync sets the full-sync gate once every external job question
// has a stored answer. The gate is never cleared.
func (m *Mapper) RefreshFullSync(ctx context.Context, app *db.Application) (bool, error) {
	if app.FullSyncAt != nil {
		return true, nil
	}
	missing, err := m.store.ListUnansweredJobQuestions(ctx, app.ID, app.JobPostingID)
	if err != nil {
		return false, fmt.Errorf("failed to list unanswered questions: %w", err)
	}
	if len(missing) > 0 {
		return false, nil
	}
	now := m.clock()
	if err := m.store.MarkApplicationFullSynced(ctx, app.ID, now); err != nil {
		return false, fmt.Errorf("failed to mark application fully synced: %w", err)
	}
	app.FullSyncAt = &now
	return true, nil
}

// ResyncAnswers refetches one stored application and reapplies its answers.
// It backs the desync-check and answer backfill passes.
func (m *Mapper) ResyncAnswers(ctx context.Context, app *db.Application, cache *AnswersCache) (*ApplicationResult, error) {
	if app.TeamtailorID == nil {
		return nil, skip("application", app.ID.String(), "no external id")
	}
	params := url.Values{}
	params.Set("include", "job,candidate,stage,"+answersInclude)
	res, ix, err := m.fetchOne(ctx, "/job-applications/"+*app.TeamtailorID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch application %s: %w", *app.TeamtailorID, err)
	}

	now := m.clock()
	if err := m.store.MarkAnswersChecked(ctx, app.ID, now); err != nil {
		return nil, fmt.Errorf("failed to mark answers checked: %w", err)
	}
	if res == nil {
		return nil, skip("application", *app.TeamtailorID, "not found upstream")
	}

	out := &ApplicationResult{Application: app}
	if err := m.applyCoverLetter(ctx, app, res.Attributes); err != nil {
		return nil, err
	}
	out.Answers, err = m.ApplyAnswers(ctx, app, res, ix, cache)
	if err != nil {
		return nil, err
	}
	out.FullySynced, err = m.RefreshFullSync(ctx, app)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applicationEvent(topic string, app *db.Application, from *uuid.UUID) events.Event {
	e := events.Event{
		Topic:         topic,
		ApplicationID: app.ID,
		JobPostingID:  app.JobPostingID,
		CandidateID:   app.CandidateID,
		FromStageID:   from,
		ToStageID:     app.CurrentStageID,
	}
	if app.TeamtailorID != nil {
		e.TeamtailorID = *app.TeamtailorID
	}
	return e
}
