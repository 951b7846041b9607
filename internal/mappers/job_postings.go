package mappers

import (
	"context"
	"fmt"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
)

// JobPostingResult is a mapped job and the nested records upserted with it.
type JobPostingResult struct {
	Job       *db.JobPosting
	Questions []db.JobQuestion
	Stages    []db.PipelineStage
}

// MapJobPosting upserts a job posting and, when they are side-loaded, its
// questions and job-scoped stages.
func (m *Mapper) MapJobPosting(ctx context.Context, res *jsonapi.Resource, ix jsonapi.Index) (*JobPostingResult, error) {
	if res == nil || res.ID == "" {
		return nil, skip("job", "", "missing id")
	}
	attrs := res.Attributes

	job, err := m.store.GetJobPostingByTeamtailorID(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job %s: %w", res.ID, err)
	}
	if job == nil {
		job = &db.JobPosting{TeamtailorID: &res.ID}
	}

	if v := attrs.String("title", "name"); v != "" {
		job.Title = v
	}
	if v := attrs.String("description", "body", "text", "pitch"); v != "" {
		job.Description = v
	}
	if v := relatedName(ix, res, attrs, "department", "department_name"); v != nil {
		job.Department = v
	}
	if v := relatedName(ix, res, attrs, "location", "city", "country"); v != nil {
		job.Location = v
	}
	if v := attrs.String("status", "human_status"); v != "" {
		job.Status = &v
	}
	if t := attrs.Time("published_at", "start_date"); t != nil {
		job.PublishedAt = t
	}
	if t := attrs.Time("archived_at", "end_date"); t != nil {
		job.ArchivedAt = t
	}

	if job.Title == "" {
		job.Title = db.PlaceholderJobTitlePrefix + res.ID
	}
	if job.Description == "" {
		job.Description = db.PlaceholderJobDescription
	}

	if err := m.store.SaveJobPosting(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job %s: %w", res.ID, err)
	}

	out := &JobPostingResult{Job: job}
	if ix == nil {
		return out, nil
	}

	if rel, ok := res.Rel("questions", "job_questions"); ok {
		for i, ident := range rel.Data.All() {
			qres := ix.Find(ident.Type, ident.ID)
			if qres == nil {
				continue
			}
			pos := i
			q, err := m.MapJobQuestion(ctx, qres, job.ID, &pos)
			if err != nil {
				return nil, err
			}
			out.Questions = append(out.Questions, *q)
		}
	}

	if rel, ok := res.Rel("stages", "pipeline_stages"); ok {
		for _, ident := range rel.Data.All() {
			sres := ix.Find(ident.Type, ident.ID)
			if sres == nil {
				continue
			}
			st, err := m.MapStage(ctx, sres, &job.ID)
			if err != nil {
				return nil, err
			}
			out.Stages = append(out.Stages, *st)
		}
	}

	return out, nil
}

// relatedName reads a name from a side-loaded relationship first and falls
// back to plain attributes.
func relatedName(ix jsonapi.Index, res *jsonapi.Resource, attrs jsonapi.Attributes, rel string, keys ...string) *string {
	if related := ix.Related(res, rel, rel+"s"); related != nil {
		if v := related.Attributes.String("name", "title", "city"); v != "" {
			return &v
		}
	}
	return optString(attrs.String(append([]string{rel}, keys...)...))
}

// ensureJob returns the local job for an external id, upserting it from the
// included index or fetching it when unknown. Returns nil when the job does
// not exist upstream.
func (m *Mapper) ensureJob(ctx context.Context, teamtailorID string, ix jsonapi.Index) (*db.JobPosting, error) {
	job, err := m.store.GetJobPostingByTeamtailorID(ctx, teamtailorID)
	if err != nil || job != nil {
		return job, err
	}

	res, rix := ix.Find("jobs", teamtailorID), ix
	if res == nil {
		res, rix, err = m.fetchOne(ctx, "/jobs/"+teamtailorID, nil)
		if err != nil || res == nil {
			return nil, err
		}
	}
	mapped, err := m.MapJobPosting(ctx, res, rix)
	if err != nil {
		return nil, err
	}
	logger(ctx).Debug().Str("teamtailor_id", teamtailorID).Msg("backfilled referenced job")
	return mapped.Job, nil
}
