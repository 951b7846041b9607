// Package memdb is an in-memory implementation of db.Store. It backs unit
// tests and the CLI's --dry-run mode, and enforces the same unique keys as
// the Postgres schema.
package memdb

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ats-sync/internal/db"
)

// Store is a mutex-guarded in-memory store. The zero value is not usable;
// call New.
type Store struct {
	mu sync.RWMutex
	// Now is the store's clock for timestamps and lock staleness.
	Now func() time.Time

	jobs        map[uuid.UUID]*db.JobPosting
	candidates  map[uuid.UUID]*db.Candidate
	stages      map[uuid.UUID]*db.PipelineStage
	jobQs       map[uuid.UUID]*db.JobQuestion
	globalQs    map[uuid.UUID]*db.GlobalQuestion
	apps        map[uuid.UUID]*db.Application
	answers     map[uuid.UUID]*db.ApplicationAnswer
	transitions map[uuid.UUID]*db.StageTransition
	emails      map[uuid.UUID]*db.EmailMessage
	events      map[uuid.UUID]*db.ApplicationEvent
	states      map[string]*db.SyncState
	locks       map[string]*db.SyncLock
}

var _ db.Store = (*Store)(nil)

// New returns an empty store using the wall clock.
func New() *Store {
	return &Store{
		Now:         time.Now,
		jobs:        make(map[uuid.UUID]*db.JobPosting),
		candidates:  make(map[uuid.UUID]*db.Candidate),
		stages:      make(map[uuid.UUID]*db.PipelineStage),
		jobQs:       make(map[uuid.UUID]*db.JobQuestion),
		globalQs:    make(map[uuid.UUID]*db.GlobalQuestion),
		apps:        make(map[uuid.UUID]*db.Application),
		answers:     make(map[uuid.UUID]*db.ApplicationAnswer),
		transitions: make(map[uuid.UUID]*db.StageTransition),
		emails:      make(map[uuid.UUID]*db.EmailMessage),
		events:      make(map[uuid.UUID]*db.ApplicationEvent),
		states:      make(map[string]*db.SyncState),
		locks:       make(map[string]*db.SyncLock),
	}
}

func conflict(constraint string) error {
	return fmt.Errorf("memdb: %w: %s", db.ErrConflict, constraint)
}

func sameStr(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// stamp assigns an ID and timestamps on insert and bumps updated_at.
func (s *Store) stamp(id *uuid.UUID, created, updated *time.Time) {
	now := s.Now().UTC()
	if *id == uuid.Nil {
		*id = uuid.New()
		*created = now
	}
	*updated = now
}

// Counts reports row counts per table, for tests and dry-run summaries.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"job_postings":                  len(s.jobs),
		"candidates":                    len(s.candidates),
		"pipeline_stages":               len(s.stages),
		"job_questions":                 len(s.jobQs),
		"global_questions":              len(s.globalQs),
		"applications":                  len(s.apps),
		"application_answers":           len(s.answers),
		"application_stage_transitions": len(s.transitions),
		"email_messages":                len(s.emails),
		"application_events":            len(s.events),
	}
}

// ---- Job Posting Methods ----

func (s *Store) GetJobPostingByID(_ context.Context, id uuid.UUID) (*db.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.jobs[id]), nil
}

func (s *Store) GetJobPostingByTeamtailorID(_ context.Context, teamtailorID string) (*db.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.jobs {
		if sameStr(p.TeamtailorID, &teamtailorID) {
			return clone(p), nil
		}
	}
	return nil, nil
}

func (s *Store) SaveJobPosting(_ context.Context, p *db.JobPosting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.jobs {
		if id != p.ID && sameStr(other.TeamtailorID, p.TeamtailorID) {
			return conflict("job_postings_teamtailor_id_key")
		}
	}
	s.stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	s.jobs[p.ID] = clone(p)
	return nil
}

// ---- Candidate Methods ----

func (s *Store) GetCandidateByID(_ context.Context, id uuid.UUID) (*db.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.candidates[id]), nil
}

func (s *Store) GetCandidateByTeamtailorID(_ context.Context, teamtailorID string) (*db.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.candidates {
		if sameStr(c.TeamtailorID, &teamtailorID) {
			return clone(c), nil
		}
	}
	return nil, nil
}

func (s *Store) GetCandidateByEmail(_ context.Context, email string) (*db.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = db.NormalizeEmail(email)
	for _, c := range s.candidates {
		if db.NormalizeEmail(c.Email) == email {
			return clone(c), nil
		}
	}
	return nil, nil
}

func (s *Store) SaveCandidate(_ context.Context, c *db.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Email = db.NormalizeEmail(c.Email)
	for id, other := range s.candidates {
		if id == c.ID {
			continue
		}
		if sameStr(other.TeamtailorID, c.TeamtailorID) {
			return conflict("candidates_teamtailor_id_key")
		}
		if db.NormalizeEmail(other.Email) == c.Email {
			return conflict("idx_candidates_email")
		}
	}
	s.stamp(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	s.candidates[c.ID] = clone(c)
	return nil
}

// ---- Pipeline Stage Methods ----

func (s *Store) GetStageByID(_ context.Context, id uuid.UUID) (*db.PipelineStage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.stages[id]), nil
}

func (s *Store) GetStageByTeamtailorID(_ context.Context, jobID *uuid.UUID, teamtailorID string) (*db.PipelineStage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.stages {
		if st.SameScope(jobID) && sameStr(st.TeamtailorID, &teamtailorID) {
			return clone(st), nil
		}
	}
	return nil, nil
}

func (s *Store) ListStages(_ context.Context, jobID *uuid.UUID) ([]db.PipelineStage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.PipelineStage
	for _, st := range s.stages {
		if st.SameScope(jobID) {
			out = append(out, *st)
		}
	}
	slices.SortFunc(out, func(a, b db.PipelineStage) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *Store) NextStagePosition(_ context.Context, jobID *uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := 0
	for _, st := range s.stages {
		if st.SameScope(jobID) && st.Position >= next {
			next = st.Position + 1
		}
	}
	return next, nil
}

func (s *Store) SaveStage(_ context.Context, st *db.PipelineStage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.stages {
		if id != st.ID && other.SameScope(st.JobPostingID) && sameStr(other.TeamtailorID, st.TeamtailorID) {
			return conflict("idx_pipeline_stages_scope_tt")
		}
	}
	s.stamp(&st.ID, &st.CreatedAt, &st.UpdatedAt)
	s.stages[st.ID] = clone(st)
	return nil
}

func (s *Store) PruneStages(_ context.Context, jobID *uuid.UUID, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := make(map[uuid.UUID]bool)
	for id, st := range s.stages {
		if st.SameScope(jobID) && st.TeamtailorID != nil && !slices.Contains(keep, *st.TeamtailorID) {
			stale[id] = true
		}
	}
	for _, a := range s.apps {
		if a.CurrentStageID != nil && stale[*a.CurrentStageID] {
			a.CurrentStageID = nil
		}
	}
	for id, tr := range s.transitions {
		if stale[tr.ToStageID] || (tr.FromStageID != nil && stale[*tr.FromStageID]) {
			delete(s.transitions, id)
		}
	}
	for id := range stale {
		delete(s.stages, id)
	}
	return len(stale), nil
}

// ---- Question Methods ----

func (s *Store) GetJobQuestionByTeamtailorID(_ context.Context, jobID uuid.UUID, teamtailorID string) (*db.JobQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.jobQs {
		if q.JobPostingID == jobID && sameStr(q.TeamtailorID, &teamtailorID) {
			return clone(q), nil
		}
	}
	return nil, nil
}

func (s *Store) GetJobQuestionByLabel(_ context.Context, jobID uuid.UUID, label string) (*db.JobQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *db.JobQuestion
	for _, q := range s.jobQs {
		if q.JobPostingID == jobID && strings.EqualFold(q.Label, label) {
			if best == nil || q.Position < best.Position {
				best = q
			}
		}
	}
	return clone(best), nil
}

func (s *Store) ListJobQuestions(_ context.Context, jobID uuid.UUID) ([]db.JobQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobQuestions(jobID, nil), nil
}

func (s *Store) jobQuestions(jobID uuid.UUID, keep func(*db.JobQuestion) bool) []db.JobQuestion {
	var out []db.JobQuestion
	for _, q := range s.jobQs {
		if q.JobPostingID == jobID && (keep == nil || keep(q)) {
			out = append(out, *q)
		}
	}
	slices.SortFunc(out, func(a, b db.JobQuestion) int { return a.Position - b.Position })
	return out
}

func (s *Store) NextJobQuestionPosition(_ context.Context, jobID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := 0
	for _, q := range s.jobQs {
		if q.JobPostingID == jobID && q.Position >= next {
			next = q.Position + 1
		}
	}
	return next, nil
}

func (s *Store) SaveJobQuestion(_ context.Context, q *db.JobQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.jobQs {
		if id != q.ID && other.JobPostingID == q.JobPostingID && sameStr(other.TeamtailorID, q.TeamtailorID) {
			return conflict("job_questions_job_posting_id_teamtailor_id_key")
		}
	}
	if q.Options == nil {
		q.Options = []string{}
	}
	s.stamp(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	s.jobQs[q.ID] = clone(q)
	return nil
}

func (s *Store) GetGlobalQuestionByLabel(_ context.Context, label string) (*db.GlobalQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.globalQs {
		if strings.EqualFold(q.Label, label) {
			return clone(q), nil
		}
	}
	return nil, nil
}

func (s *Store) NextGlobalQuestionPosition(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := 0
	for _, q := range s.globalQs {
		if q.Position >= next {
			next = q.Position + 1
		}
	}
	return next, nil
}

func (s *Store) SaveGlobalQuestion(_ context.Context, q *db.GlobalQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.globalQs {
		if id != q.ID && strings.EqualFold(other.Label, q.Label) {
			return conflict("idx_global_questions_label")
		}
	}
	s.stamp(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	s.globalQs[q.ID] = clone(q)
	return nil
}
