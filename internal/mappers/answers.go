package mappers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
	"github.com/jonathan/ats-sync/internal/teamtailor"
)

// Answer tiers, in resolution order.
const (
	TierInline   = "inline"
	TierIncluded = "included"
	TierRefetch  = "refetch"
	TierList     = "list"
	TierCache    = "cache"
)

const answersInclude = "answers,answers.question"

// answersLoadTimeout bounds one shared candidate history load.
const answersLoadTimeout = 2 * time.Minute

// AnswersCache serves a candidate's answers for the duration of one run. The
// first lookup for a candidate pages through their whole answer history;
// later lookups are served from memory. Build one per run and drop it after.
type AnswersCache struct {
	client   Fetcher
	pageSize int

	group       singleflight.Group
	loadTimeout time.Duration
	mu          sync.Mutex
	byCandidate map[string]map[string]*jsonapi.Resource
	loads       int
}

// NewAnswersCache returns an empty cache backed by client.
func NewAnswersCache(client Fetcher, pageSize int) *AnswersCache {
	if pageSize <= 0 {
		pageSize = 30
	}
	return &AnswersCache{
		client:      client,
		pageSize:    pageSize,
		loadTimeout: answersLoadTimeout,
		byCandidate: make(map[string]map[string]*jsonapi.Resource),
	}
}

// Lookup returns the candidate's answer to a question, nil when none exists.
func (c *AnswersCache) Lookup(ctx context.Context, candidateID, questionID string) (*jsonapi.Resource, error) {
	if c == nil || c.client == nil || candidateID == "" || questionID == "" {
		return nil, nil
	}
	answers, err := c.load(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return answers[questionID], nil
}

// Loads reports how many candidate histories have been fetched.
func (c *AnswersCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func (c *AnswersCache) cached(candidateID string) (map[string]*jsonapi.Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byCandidate[candidateID]
	return a, ok
}

func (c *AnswersCache) load(ctx context.Context, candidateID string) (map[string]*jsonapi.Resource, error) {
	if a, ok := c.cached(candidateID); ok {
		return a, nil
	}

	// The load is shared by every caller waiting on this candidate, so it
	// must outlive the caller that started it.
	ch := c.group.DoChan(candidateID, func() (any, error) {
		if a, ok := c.cached(candidateID); ok {
			return a, nil
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		answers := make(map[string]*jsonapi.Resource)
		params := url.Values{}
		params.Set("filter[candidate]", candidateID)
		params.Set("include", "question")
		params.Set("page[size]", strconv.Itoa(c.pageSize))

		err := c.client.Paginate(ctx, "/answers", params, func(doc *jsonapi.Document) (jsonapi.Step, error) {
			items := doc.Data.Resources()
			for i := range items {
				if qid := questionRef(&items[i]); qid != "" {
					answers[qid] = &items[i]
				}
			}
			return jsonapi.Continue, nil
		})
		if err != nil && !teamtailor.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load answers for candidate %s: %w", candidateID, err)
		}

		c.mu.Lock()
		c.byCandidate[candidateID] = answers
		c.loads++
		c.mu.Unlock()
		return answers, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(map[string]*jsonapi.Resource), nil
	}
}

// AnswerStats summarizes one answer resolution.
type AnswerStats struct {
	Tier       string
	Saved      int
	FromCache  int
	Unresolved int
}

// answerSet is the output of the first tier that produced answers.
type answerSet struct {
	tier  string
	items []*jsonapi.Resource
	ix    jsonapi.Index
}

// ApplyAnswers resolves an application's answers through the tiers and
// stores them. The cache tier runs last, only for the job's external
// questions that are still unanswered.
func (m *Mapper) ApplyAnswers(ctx context.Context, app *db.Application, res *jsonapi.Resource, ix jsonapi.Index, cache *AnswersCache) (AnswerStats, error) {
	var stats AnswerStats

	set, err := m.collectAnswers(ctx, app, res, ix)
	if err != nil {
		return stats, err
	}
	stats.Tier = set.tier

	for _, a := range set.items {
		q, err := m.answerQuestion(ctx, app.JobPostingID, a, set.ix)
		if err != nil {
			return stats, err
		}
		value := AnswerValue(a)
		if q == nil || value == "" {
			stats.Unresolved++
			continue
		}
		if err := m.saveAnswer(ctx, app.ID, q.ID, a.ID, value); err != nil {
			return stats, err
		}
		stats.Saved++
	}

	if cache == nil {
		return stats, nil
	}
	n, err := m.answersFromCache(ctx, app, cache)
	if err != nil {
		return stats, err
	}
	if n > 0 && stats.Tier == "" {
		stats.Tier = TierCache
	}
	stats.FromCache = n
	stats.Saved += n
	return stats, nil
}

func (m *Mapper) collectAnswers(ctx context.Context, app *db.Application, res *jsonapi.Resource, ix jsonapi.Index) (answerSet, error) {
	if items := inlineAnswers(res); len(items) > 0 {
		return answerSet{tier: TierInline, items: items, ix: ix}, nil
	}
	if items := includedAnswers(res, ix); len(items) > 0 {
		return answerSet{tier: TierIncluded, items: items, ix: ix}, nil
	}
	if m.client == nil || app.TeamtailorID == nil {
		return answerSet{}, nil
	}
	appID := *app.TeamtailorID

	params := url.Values{}
	params.Set("include", answersInclude)
	fres, fix, err := m.fetchOne(ctx, "/job-applications/"+appID, params)
	if err != nil {
		return answerSet{}, fmt.Errorf("failed to refetch application %s: %w", appID, err)
	}
	if fres != nil {
		items := inlineAnswers(fres)
		if len(items) == 0 {
			items = includedAnswers(fres, fix)
		}
		if len(items) > 0 {
			return answerSet{tier: TierRefetch, items: items, ix: fix}, nil
		}
	}

	for _, alt := range alternateAnswerEndpoints(appID) {
		items, aix, err := m.collectList(ctx, alt.path, alt.params)
		if err != nil {
			if teamtailor.IsNotFound(err) {
				continue
			}
			return answerSet{}, fmt.Errorf("failed to list answers for application %s: %w", appID, err)
		}
		if len(items) > 0 {
			return answerSet{tier: TierList, items: items, ix: aix}, nil
		}
	}
	return answerSet{}, nil
}

type endpoint struct {
	path   string
	params url.Values
}

func alternateAnswerEndpoints(appID string) []endpoint {
	filtered := url.Values{}
	filtered.Set("filter[job-application]", appID)
	filtered.Set("include", "question")
	nested := url.Values{}
	nested.Set("include", "question")
	return []endpoint{
		{path: "/answers", params: filtered},
		{path: "/job-applications/" + appID + "/answers", params: nested},
	}
}

func (m *Mapper) collectList(ctx context.Context, path string, params url.Values) ([]*jsonapi.Resource, jsonapi.Index, error) {
	var items []*jsonapi.Resource
	ix := make(jsonapi.Index)
	err := m.client.Paginate(ctx, path, params, func(doc *jsonapi.Document) (jsonapi.Step, error) {
		ix = ix.Merge(doc.Index())
		data := doc.Data.Resources()
		for i := range data {
			items = append(items, &data[i])
		}
		return jsonapi.Continue, nil
	})
	return items, ix, err
}

func (m *Mapper) answersFromCache(ctx context.Context, app *db.Application, cache *AnswersCache) (int, error) {
	missing, err := m.store.ListUnansweredJobQuestions(ctx, app.ID, app.JobPostingID)
	if err != nil || len(missing) == 0 {
		return 0, err
	}
	cand, err := m.store.GetCandidateByID(ctx, app.CandidateID)
	if err != nil {
		return 0, fmt.Errorf("failed to load candidate: %w", err)
	}
	if cand == nil || cand.TeamtailorID == nil {
		return 0, nil
	}

	saved := 0
	for _, q := range missing {
		a, err := cache.Lookup(ctx, *cand.TeamtailorID, *q.TeamtailorID)
		if err != nil {
			return saved, err
		}
		if a == nil {
			continue
		}
		value := AnswerValue(a)
		if value == "" {
			continue
		}
		if err := m.saveAnswer(ctx, app.ID, q.ID, a.ID, value); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

// MapAnswer upserts a standalone answer resource against its application.
// The application must already be synced.
func (m *Mapper) MapAnswer(ctx context.Context, res *jsonapi.Resource, ix jsonapi.Index) (*db.ApplicationAnswer, error) {
	if res == nil || res.ID == "" {
		return nil, skip("answer", "", "missing id")
	}
	appTT := res.RelID("job_application", "application")
	if appTT == "" {
		return nil, skip("answer", res.ID, "no application reference")
	}
	app, err := m.store.GetApplicationByTeamtailorID(ctx, appTT)
	if err != nil {
		return nil, fmt.Errorf("failed to look up application %s: %w", appTT, err)
	}
	if app == nil {
		return nil, skip("answer", res.ID, "application %s not synced", appTT)
	}

	q, err := m.answerQuestion(ctx, app.JobPostingID, res, ix)
	if err != nil {
		return nil, err
	}
	value := AnswerValue(res)
	if q == nil || value == "" {
		return nil, skip("answer", res.ID, "no question or value")
	}
	ans := &db.ApplicationAnswer{
		ApplicationID: app.ID,
		JobQuestionID: &q.ID,
		TeamtailorID:  &res.ID,
		Value:         value,
	}
	if err := m.store.SaveAnswer(ctx, ans); err != nil {
		return nil, fmt.Errorf("failed to save answer %s: %w", res.ID, err)
	}
	if _, err := m.RefreshFullSync(ctx, app); err != nil {
		return nil, err
	}
	return ans, nil
}

func (m *Mapper) saveAnswer(ctx context.Context, appID, questionID uuid.UUID, teamtailorID, value string) error {
	ans := &db.ApplicationAnswer{
		ApplicationID: appID,
		JobQuestionID: &questionID,
		TeamtailorID:  optString(teamtailorID),
		Value:         value,
	}
	if err := m.store.SaveAnswer(ctx, ans); err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

// applyCoverLetter stores a cover letter attribute as an answer to the
// global cover letter question.
func (m *Mapper) applyCoverLetter(ctx context.Context, app *db.Application, attrs jsonapi.Attributes) error {
	text := attrs.String("cover_letter", "coverLetter")
	if text == "" {
		return nil
	}
	q, err := m.CoverLetterQuestion(ctx)
	if err != nil {
		return err
	}
	ans := &db.ApplicationAnswer{ApplicationID: app.ID, GlobalQuestionID: &q.ID, Value: text}
	if err := m.store.SaveAnswer(ctx, ans); err != nil {
		return fmt.Errorf("failed to save cover letter: %w", err)
	}
	return nil
}

// answerQuestion resolves the local job question an answer belongs to.
func (m *Mapper) answerQuestion(ctx context.Context, jobID uuid.UUID, a *jsonapi.Resource, ix jsonapi.Index) (*db.JobQuestion, error) {
	if rel, ok := a.Rel("question"); ok {
		if ident := rel.Data.First(); ident != nil {
			if qres := ix.Resolve(ident); qres != nil {
				return m.MapJobQuestion(ctx, qres, jobID, nil)
			}
			q, err := m.store.GetJobQuestionByTeamtailorID(ctx, jobID, ident.ID)
			if err != nil || q != nil {
				return q, err
			}
		}
	}

	attrs := a.Attributes
	if raw := attrs.Map("question"); raw != nil {
		return m.MapJobQuestion(ctx, resourceFromMap(raw), jobID, nil)
	}
	if id := attrs.String("question_id"); id != "" {
		q, err := m.store.GetJobQuestionByTeamtailorID(ctx, jobID, id)
		if err != nil || q != nil {
			return q, err
		}
	}
	if label := attrs.String("question", "question_text", "label"); label != "" {
		return m.questionByLabel(ctx, jobID, label)
	}
	return nil, nil
}

func inlineAnswers(res *jsonapi.Resource) []*jsonapi.Resource {
	raw := res.Attributes.Slice("answers")
	out := make([]*jsonapi.Resource, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			if r := resourceFromMap(obj); r != nil {
				out = append(out, r)
			}
		}
	}
	return out
}

func includedAnswers(res *jsonapi.Resource, ix jsonapi.Index) []*jsonapi.Resource {
	rel, ok := res.Rel("answers")
	if !ok {
		return nil
	}
	var out []*jsonapi.Resource
	for _, ident := range rel.Data.All() {
		if r := ix.Find(ident.Type, ident.ID); r != nil {
			out = append(out, r)
		}
	}
	return out
}

func questionRef(a *jsonapi.Resource) string {
	if id := a.RelID("question"); id != "" {
		return id
	}
	return a.Attributes.String("question_id")
}

var answerValueKeys = []string{"value", "answer", "response", "text", "choices", "number", "range", "boolean", "date"}

// AnswerValue renders an answer's value. Multiple choices are joined with
// ", ".
func AnswerValue(a *jsonapi.Resource) string {
	for _, key := range answerValueKeys {
		v, ok := a.Attributes.Value(key)
		if !ok {
			continue
		}
		if list, isList := v.([]any); isList {
			if s := strings.Join(jsonapi.StringSlice(list), ", "); s != "" {
				return s
			}
			continue
		}
		if s := jsonapi.String(v); s != "" {
			return s
		}
	}
	return ""
}
