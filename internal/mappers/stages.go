package mappers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
)

// SimilarityThreshold is the minimum token overlap for a fuzzy stage match.
const SimilarityThreshold = 0.8

// MapStage upserts a pipeline stage within jobID's scope (nil for global
// stages). Unlinked local stages are matched by name before a new one is
// created.
func (m *Mapper) MapStage(ctx context.Context, res *jsonapi.Resource, jobID *uuid.UUID) (*db.PipelineStage, error) {
	if res == nil || res.ID == "" {
		return nil, skip("stage", "", "missing id")
	}
	attrs := res.Attributes
	name := attrs.String("name", "title")
	if name == "" {
		name = "Imported stage " + res.ID
	}

	st, err := m.store.GetStageByTeamtailorID(ctx, jobID, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up stage %s: %w", res.ID, err)
	}

	if st == nil {
		existing, err := m.store.ListStages(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to list stages: %w", err)
		}
		if match, score := MatchStage(name, existing); match != nil {
			logger(ctx).Debug().
				Str("teamtailor_id", res.ID).
				Str("name", name).
				Str("matched", match.Name).
				Float64("score", score).
				Msg("linked stage by name")
			st = match
			st.TeamtailorID = &res.ID
		}
	}

	if st == nil {
		pos, err := m.store.NextStagePosition(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to get next stage position: %w", err)
		}
		st = &db.PipelineStage{JobPostingID: jobID, TeamtailorID: &res.ID, Name: name, Position: pos}
	} else if NormalizeStageName(st.Name) != NormalizeStageName(name) {
		st.Name = name
	}

	st.Kind = StageKind(attrs.String("legacy_stage_type_name", "stage_type", "type"), name)
	if v := strings.ToLower(attrs.String("canonical_stage")); slices.Contains(db.CanonicalStages, v) {
		st.CanonicalStage = &v
	} else if st.CanonicalStage == nil {
		c := CanonicalStage(name, st.Kind)
		st.CanonicalStage = &c
	}

	if err := m.store.SaveStage(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save stage %s: %w", res.ID, err)
	}
	return st, nil
}

// PruneMissing deletes the externally linked stages in jobID's scope whose
// external id is not in keep. Only full syncs may call it: an incremental
// page does not list every stage.
func (m *Mapper) PruneMissing(ctx context.Context, jobID *uuid.UUID, keep []string) (int, error) {
	n, err := m.store.PruneStages(ctx, jobID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune stages: %w", err)
	}
	if n > 0 {
		scope := "global"
		if jobID != nil {
			scope = jobID.String()
		}
		logger(ctx).Info().Str("scope", scope).Int("deleted", n).Msg("pruned stages missing upstream")
	}
	return n, nil
}

// MatchStage returns the best unlinked stage whose name scores at least
// SimilarityThreshold against name.
func MatchStage(name string, stages []db.PipelineStage) (*db.PipelineStage, float64) {
	tokens := strings.Fields(NormalizeStageName(name))
	if len(tokens) == 0 {
		return nil, 0
	}

	var best *db.PipelineStage
	var bestScore float64
	for i := range stages {
		if stages[i].TeamtailorID != nil {
			continue
		}
		score := Similarity(tokens, strings.Fields(NormalizeStageName(stages[i].Name)))
		if score > bestScore {
			best, bestScore = &stages[i], score
		}
	}
	if best == nil || bestScore < SimilarityThreshold {
		return nil, bestScore
	}
	c := *best
	return &c, bestScore
}

// NormalizeStageName lowercases, replaces non-alphanumerics with spaces and
// collapses whitespace.
func NormalizeStageName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, name)
	return strings.Join(strings.Fields(mapped), " ")
}

// Similarity is |a ∩ b| / max(|a|, |b|) over distinct tokens.
func Similarity(a, b []string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	return float64(shared) / float64(max(len(setA), len(setB)))
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// StageKind classifies a stage as hired, rejected or active from its legacy
// type name and display name.
func StageKind(legacyType, name string) string {
	value := strings.ToLower(legacyType + " " + name)
	switch {
	case strings.Contains(value, "hired"):
		return db.StageKindHired
	case strings.Contains(value, "rejected"):
		return db.StageKindRejected
	default:
		return db.StageKindActive
	}
}

var canonicalKeywords = []struct {
	stage    string
	keywords []string
}{
	{db.CanonicalHired, []string{"hired"}},
	{db.CanonicalRejected, []string{"reject", "declin", "disqualif", "withdrawn"}},
	{db.CanonicalOffer, []string{"offer"}},
	{db.CanonicalReferences, []string{"reference"}},
	{db.CanonicalCultural, []string{"culture", "cultural", "values"}},
	{db.CanonicalTechnical, []string{"technical", "tech", "coding", "assignment", "case study"}},
	{db.CanonicalInterview, []string{"interview", "screen", "call", "meeting"}},
	{db.CanonicalReviewing, []string{"review", "evaluat", "assess", "shortlist"}},
}

// CanonicalStage infers a canonical classification from a stage name. The
// terminal kinds win over keywords.
func CanonicalStage(name, kind string) string {
	switch kind {
	case db.StageKindHired:
		return db.CanonicalHired
	case db.StageKindRejected:
		return db.CanonicalRejected
	}
	normalized := NormalizeStageName(name)
	for _, c := range canonicalKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(normalized, kw) {
				return c.stage
			}
		}
	}
	return db.CanonicalInbox
}

// resolveStage finds a stage by external id in the job's scope, then
// globally, then creates it from the included index.
func (m *Mapper) resolveStage(ctx context.Context, teamtailorID string, job *db.JobPosting, ix jsonapi.Index) (*db.PipelineStage, error) {
	if teamtailorID == "" {
		return nil, nil
	}
	scope := &job.ID
	st, err := m.store.GetStageByTeamtailorID(ctx, scope, teamtailorID)
	if err != nil || st != nil {
		return st, err
	}
	st, err = m.store.GetStageByTeamtailorID(ctx, nil, teamtailorID)
	if err != nil || st != nil {
		return st, err
	}

	res := ix.Find("stages", teamtailorID)
	if res == nil {
		return nil, nil
	}
	if rel := res.RelID("job"); rel != "" && (job.TeamtailorID == nil || rel != *job.TeamtailorID) {
		scope = nil
	}
	return m.MapStage(ctx, res, scope)
}
