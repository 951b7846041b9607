package mappers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
)

// MapMovement records a stage movement. Re-deliveries within
// db.TransitionWindow of an existing transition to the same stage update
// that transition instead of adding one.
func (m *Mapper) MapMovement(ctx context.Context, res *jsonapi.Resource, ix jsonapi.Index) (*db.StageTransition, error) {
	if res == nil || res.ID == "" {
		return nil, skip("movement", "", "missing id")
	}
	attrs := res.Attributes

	appTT := res.RelID("job_application", "application")
	if appTT == "" {
		appTT = attrs.String("job_application_id")
	}
	if appTT == "" {
		return nil, skip("movement", res.ID, "no application reference")
	}
	app, err := m.store.GetApplicationByTeamtailorID(ctx, appTT)
	if err != nil {
		return nil, fmt.Errorf("failed to look up application %s: %w", appTT, err)
	}
	if app == nil {
		return nil, skip("movement", res.ID, "application %s not synced", appTT)
	}
	job, err := m.store.GetJobPostingByID(ctx, app.JobPostingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, skip("movement", res.ID, "job for application %s missing", appTT)
	}

	toTT := stageRef(res, attrs, "to_stage")
	to, err := m.resolveStage(ctx, toTT, job, ix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve to-stage: %w", err)
	}
	if to == nil {
		return nil, skip("movement", res.ID, "to-stage %q not found", toTT)
	}
	var fromID *uuid.UUID
	if fromTT := stageRef(res, attrs, "from_stage"); fromTT != "" {
		from, err := m.resolveStage(ctx, fromTT, job, ix)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve from-stage: %w", err)
		}
		if from != nil {
			fromID = &from.ID
		}
	}

	at := attrs.Time("created_at", "moved_at")
	if at == nil {
		now := m.clock()
		at = &now
	}

	t, err := m.store.FindTransitionNear(ctx, app.ID, to.ID, *at, db.TransitionWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to look up transition: %w", err)
	}
	if t == nil {
		t = &db.StageTransition{ApplicationID: app.ID, ToStageID: to.ID, TransitionedAt: *at}
	}
	if fromID != nil {
		t.FromStageID = fromID
	}
	t.TeamtailorID = &res.ID
	if err := m.store.SaveTransition(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save transition: %w", err)
	}

	if err := m.store.MarkApplicationStateSynced(ctx, app.ID, *at); err != nil {
		return nil, fmt.Errorf("failed to mark application synced: %w", err)
	}
	return t, nil
}

// stageRef reads a stage id from a relationship or a plain "<name>_id"
// attribute.
func stageRef(res *jsonapi.Resource, attrs jsonapi.Attributes, name string) string {
	if id := res.RelID(name); id != "" {
		return id
	}
	return attrs.String(name + "_id")
}
