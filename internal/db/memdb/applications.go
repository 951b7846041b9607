package memdb

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ats-sync/internal/db"
)

// ---- Application Methods ----

func (s *Store) GetApplicationByID(_ context.Context, id uuid.UUID) (*db.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.apps[id]), nil
}

func (s *Store) GetApplicationByTeamtailorID(_ context.Context, teamtailorID string) (*db.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.apps {
		if sameStr(a.TeamtailorID, &teamtailorID) {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (s *Store) GetApplicationByJobAndCandidate(_ context.Context, jobID, candidateID uuid.UUID) (*db.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.apps {
		if a.JobPostingID == jobID && a.CandidateID == candidateID {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (s *Store) SaveApplication(_ context.Context, a *db.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.apps {
		if id == a.ID {
			continue
		}
		if sameStr(other.TeamtailorID, a.TeamtailorID) {
			return conflict("applications_teamtailor_id_key")
		}
		if other.JobPostingID == a.JobPostingID && other.CandidateID == a.CandidateID {
			return conflict("applications_job_posting_id_candidate_id_key")
		}
	}

	row := clone(a)
	if existing, ok := s.apps[a.ID]; ok {
		// Sync gates are only written through the Mark* methods.
		row.StateSyncedAt = existing.StateSyncedAt
		row.FullSyncAt = existing.FullSyncAt
		row.AnswersCheckedAt = existing.AnswersCheckedAt
	}
	s.stamp(&row.ID, &row.CreatedAt, &row.UpdatedAt)
	a.ID, a.CreatedAt, a.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	s.apps[row.ID] = row
	return nil
}

func (s *Store) ListApplicationsMissingFullSync(_ context.Context, filter db.ApplicationFilter) ([]db.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	var out []db.Application
	for _, a := range s.apps {
		if a.FullSyncAt != nil || a.TeamtailorID == nil {
			continue
		}
		if filter.MissingAnswers && len(s.unanswered(a.ID, a.JobPostingID)) == 0 {
			continue
		}
		out = append(out, *a)
	}
	slices.SortFunc(out, func(x, y db.Application) int {
		switch {
		case x.AnswersCheckedAt == nil && y.AnswersCheckedAt != nil:
			return -1
		case x.AnswersCheckedAt != nil && y.AnswersCheckedAt == nil:
			return 1
		case x.AnswersCheckedAt != nil && !x.AnswersCheckedAt.Equal(*y.AnswersCheckedAt):
			return x.AnswersCheckedAt.Compare(*y.AnswersCheckedAt)
		}
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) mark(id uuid.UUID, fn func(*db.Application)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.apps[id]; ok {
		fn(a)
	}
}

func (s *Store) MarkApplicationStateSynced(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mark(id, func(a *db.Application) { a.StateSyncedAt = &at })
	return nil
}

func (s *Store) MarkApplicationFullSynced(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mark(id, func(a *db.Application) {
		if a.FullSyncAt == nil {
			a.FullSyncAt = &at
		}
	})
	return nil
}

func (s *Store) MarkAnswersChecked(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mark(id, func(a *db.Application) { a.AnswersCheckedAt = &at })
	return nil
}

// ---- Answer Methods ----

func (s *Store) SaveAnswer(_ context.Context, a *db.ApplicationAnswer) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.answers {
		if existing.ApplicationID != a.ApplicationID {
			continue
		}
		if (a.JobQuestionID != nil && existing.JobQuestionID != nil && *existing.JobQuestionID == *a.JobQuestionID) ||
			(a.GlobalQuestionID != nil && existing.GlobalQuestionID != nil && *existing.GlobalQuestionID == *a.GlobalQuestionID) {
			existing.Value = a.Value
			if a.TeamtailorID != nil {
				existing.TeamtailorID = a.TeamtailorID
			}
			existing.UpdatedAt = s.Now().UTC()
			*a = *existing
			return nil
		}
	}

	a.ID = uuid.Nil
	s.stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	s.answers[a.ID] = clone(a)
	return nil
}

func (s *Store) ListAnswers(_ context.Context, applicationID uuid.UUID) ([]db.ApplicationAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.ApplicationAnswer
	for _, a := range s.answers {
		if a.ApplicationID == applicationID {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(x, y db.ApplicationAnswer) int { return x.CreatedAt.Compare(y.CreatedAt) })
	return out, nil
}

func (s *Store) ListUnansweredJobQuestions(_ context.Context, applicationID, jobID uuid.UUID) ([]db.JobQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unanswered(applicationID, jobID), nil
}

// unanswered requires s.mu to be held.
func (s *Store) unanswered(applicationID, jobID uuid.UUID) []db.JobQuestion {
	answered := make(map[uuid.UUID]bool)
	for _, a := range s.answers {
		if a.ApplicationID == applicationID && a.JobQuestionID != nil {
			answered[*a.JobQuestionID] = true
		}
	}
	return s.jobQuestions(jobID, func(q *db.JobQuestion) bool {
		return q.IsExternal() && !answered[q.ID]
	})
}

// ---- Stage Transition Methods ----

func (s *Store) HasTransitionTo(_ context.Context, applicationID, toStageID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transitions {
		if t.ApplicationID == applicationID && t.ToStageID == toStageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FindTransitionNear(_ context.Context, applicationID, toStageID uuid.UUID, at time.Time, window time.Duration) (*db.StageTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *db.StageTransition
	var bestGap time.Duration
	for _, t := range s.transitions {
		if t.ApplicationID != applicationID || t.ToStageID != toStageID || !t.Within(at, window) {
			continue
		}
		gap := t.TransitionedAt.Sub(at).Abs()
		if best == nil || gap < bestGap {
			best, bestGap = t, gap
		}
	}
	return clone(best), nil
}

func (s *Store) ListTransitions(_ context.Context, applicationID uuid.UUID) ([]db.StageTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.StageTransition
	for _, t := range s.transitions {
		if t.ApplicationID == applicationID {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(x, y db.StageTransition) int {
		if c := x.TransitionedAt.Compare(y.TransitionedAt); c != 0 {
			return c
		}
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	return out, nil
}

func (s *Store) SaveTransition(_ context.Context, t *db.StageTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.transitions[t.ID]; ok {
		if existing.FromStageID == nil {
			existing.FromStageID = t.FromStageID
		}
		if existing.TeamtailorID == nil {
			existing.TeamtailorID = t.TeamtailorID
		}
		return nil
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = s.Now().UTC()
	s.transitions[t.ID] = clone(t)
	return nil
}

// ---- Message Methods ----

func (s *Store) GetEmailMessageByTeamtailorID(_ context.Context, teamtailorID string) (*db.EmailMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.emails {
		if sameStr(m.TeamtailorID, &teamtailorID) {
			return clone(m), nil
		}
	}
	return nil, nil
}

func (s *Store) SaveEmailMessage(_ context.Context, m *db.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.emails {
		if id != m.ID && sameStr(other.TeamtailorID, m.TeamtailorID) {
			return conflict("email_messages_teamtailor_id_key")
		}
	}
	s.stamp(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	s.emails[m.ID] = clone(m)
	return nil
}

func (s *Store) GetApplicationEventByTeamtailorID(_ context.Context, teamtailorID string) (*db.ApplicationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if sameStr(e.TeamtailorID, &teamtailorID) {
			return clone(e), nil
		}
	}
	return nil, nil
}

func (s *Store) SaveApplicationEvent(_ context.Context, e *db.ApplicationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.events {
		if id != e.ID && sameStr(other.TeamtailorID, e.TeamtailorID) {
			return conflict("application_events_teamtailor_id_key")
		}
	}
	s.stamp(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	s.events[e.ID] = clone(e)
	return nil
}
