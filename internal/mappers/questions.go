package mappers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
)

// MapJobQuestion upserts a job-scoped question. position is applied when
// given; new questions otherwise go last.
func (m *Mapper) MapJobQuestion(ctx context.Context, res *jsonapi.Resource, jobID uuid.UUID, position *int) (*db.JobQuestion, error) {
	if res == nil {
		return nil, skip("question", "", "missing payload")
	}
	attrs := res.Attributes
	label := attrs.String("label", "question", "title", "text")
	if res.ID == "" && label == "" {
		return nil, skip("question", "", "no id or label")
	}

	var q *db.JobQuestion
	var err error
	if res.ID != "" {
		q, err = m.store.GetJobQuestionByTeamtailorID(ctx, jobID, res.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up question %s: %w", res.ID, err)
		}
	}
	if q == nil && label != "" {
		// Link a question created earlier from a bare label.
		q, err = m.store.GetJobQuestionByLabel(ctx, jobID, label)
		if err != nil {
			return nil, fmt.Errorf("failed to look up question by label: %w", err)
		}
		if q != nil && q.IsExternal() && (res.ID == "" || *q.TeamtailorID != res.ID) {
			q = nil
		}
	}
	if q == nil {
		q = &db.JobQuestion{JobPostingID: jobID, Kind: db.QuestionKindShortText}
		if position == nil {
			next, err := m.store.NextJobQuestionPosition(ctx, jobID)
			if err != nil {
				return nil, fmt.Errorf("failed to get next question position: %w", err)
			}
			q.Position = next
		}
	}
	if res.ID != "" {
		q.TeamtailorID = &res.ID
	}

	if label != "" {
		q.Label = label
	}
	if kind := QuestionKind(attrs.String("type", "kind", "question_type")); kind != "" {
		q.Kind = kind
	}
	if required := attrs.Bool("required", "mandatory"); required != nil {
		q.Required = *required
	}
	if opts := questionOptions(attrs); opts != nil {
		q.Options = opts
	}
	if position != nil {
		q.Position = *position
	}
	if q.Label == "" {
		q.Label = "Imported question " + res.ID
	}

	if err := m.store.SaveJobQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to save question %s: %w", res.ID, err)
	}
	return q, nil
}

// questionByLabel finds or creates a free-text job question for an answer
// that carries only the question text.
func (m *Mapper) questionByLabel(ctx context.Context, jobID uuid.UUID, label string) (*db.JobQuestion, error) {
	q, err := m.store.GetJobQuestionByLabel(ctx, jobID, label)
	if err != nil || q != nil {
		return q, err
	}
	pos, err := m.store.NextJobQuestionPosition(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get next question position: %w", err)
	}
	q = &db.JobQuestion{
		JobPostingID: jobID,
		Label:        label,
		Kind:         db.QuestionKindShortText,
		Position:     pos,
		Options:      []string{},
	}
	if err := m.store.SaveJobQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to save question %q: %w", label, err)
	}
	return q, nil
}

// CoverLetterQuestion finds or creates the global question cover letters are
// stored against.
func (m *Mapper) CoverLetterQuestion(ctx context.Context) (*db.GlobalQuestion, error) {
	q, err := m.store.GetGlobalQuestionByLabel(ctx, db.CoverLetterQuestionLabel)
	if err != nil || q != nil {
		return q, err
	}
	pos, err := m.store.NextGlobalQuestionPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get next global question position: %w", err)
	}
	q = &db.GlobalQuestion{Label: db.CoverLetterQuestionLabel, Kind: db.QuestionKindLongText, Position: pos}
	if err := m.store.SaveGlobalQuestion(ctx, q); err != nil {
		if db.IsConflict(err) {
			// Another run created it first.
			return m.store.GetGlobalQuestionByLabel(ctx, db.CoverLetterQuestionLabel)
		}
		return nil, fmt.Errorf("failed to save cover letter question: %w", err)
	}
	return q, nil
}

// QuestionKind maps a provider question type to a local kind, "" when blank.
func QuestionKind(value string) string {
	v := strings.ToLower(value)
	switch {
	case v == "":
		return ""
	case strings.Contains(v, "select"), strings.Contains(v, "choice"), strings.Contains(v, "multiple"):
		return db.QuestionKindSelect
	case strings.Contains(v, "checkbox"), strings.Contains(v, "boolean"):
		return db.QuestionKindCheckbox
	case strings.Contains(v, "number"), strings.Contains(v, "range"):
		return db.QuestionKindNumber
	case strings.Contains(v, "long"), strings.Contains(v, "textarea"):
		return db.QuestionKindLongText
	default:
		return db.QuestionKindShortText
	}
}

func questionOptions(attrs jsonapi.Attributes) []string {
	v, ok := attrs.Value("options", "choices", "alternatives")
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []any:
		return jsonapi.StringSlice(val)
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		if s := jsonapi.String(val); s != "" {
			return []string{s}
		}
		return nil
	}
}
