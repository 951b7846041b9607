// Package syncer drives reconciliation passes. One pass pages through a
// resource newest-first, hands every record to its mapper and advances the
// resource watermark once the pass stops early or completes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/events"
	"github.com/jonathan/ats-sync/internal/jsonapi"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/mappers"
	"github.com/jonathan/ats-sync/internal/metrics"
	"github.com/jonathan/ats-sync/internal/teamtailor"
)

// Source is the provider surface a pass needs.
type Source interface {
	mappers.Fetcher
	PaginateFirst(ctx context.Context, paths []string, params url.Values, visit jsonapi.Visitor) (string, error)
}

// Item outcomes reported to metrics.
const (
	outcomeProcessed = "processed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Service runs sync passes against one store.
type Service struct {
	cfg       config.SyncConfig
	source    Source
	store     db.Store
	mapper    *mappers.Mapper
	publisher events.Publisher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the publisher domain events go to.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(cfg config.SyncConfig, source Source, store db.Store, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		source:    source,
		store:     store,
		publisher: events.Noop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mapper = mappers.New(store, source, mappers.WithPublisher(s.publisher), mappers.WithClock(s.now))
	return s
}

// Mapper returns the mapper the service feeds records to.
func (s *Service) Mapper() *mappers.Mapper {
	return s.mapper
}

// Options tunes one pass.
type Options struct {
	// Full ignores the watermark and rescans every record.
	Full bool
	// Heartbeat runs after every page. An error aborts the pass.
	Heartbeat func(context.Context) error
	// Cache is the answer cache for application passes. A fresh one is
	// built per pass when nil and answers are resolved inline.
	Cache *mappers.AnswersCache
}

// Result summarizes one pass.
type Result struct {
	Resource  string
	Full      bool
	Path      string
	Pages     int
	Processed int
	Skipped   int
	Failed    int
	Pruned    int
	// Stopped is set when the pass ended at the watermark.
	Stopped bool
	// Unavailable is set when every configured endpoint answered 404.
	Unavailable bool
	Watermark   *time.Time
	Duration    time.Duration
}

// Sync runs one pass over resource.
func (s *Service) Sync(ctx context.Context, resource string, opts Options) (*Result, error) {
	rc, ok := s.cfg.Resource(resource)
	if !ok {
		return nil, fmt.Errorf("unknown sync resource %q", resource)
	}

	log := logging.Ctx(ctx).With().Str("resource", resource).Bool("full", opts.Full).Logger()
	ctx = logging.WithLogger(ctx, log)

	started := time.Now()
	res := &Result{Resource: resource, Full: opts.Full}
	defer func() {
		res.Duration = time.Since(started)
		metrics.RecordSyncRun(resource, opts.Full, res.Duration)
	}()

	if resource == config.ResourceApplications && s.cfg.AnswersInline && opts.Cache == nil {
		opts.Cache = s.NewAnswersCache()
	}

	p := &pass{
		svc:       s,
		ctx:       ctx,
		log:       log,
		resource:  resource,
		opts:      opts,
		res:       res,
		keys:      timestampKeys(rc.Sort),
		earlyStop: strings.HasPrefix(rc.Sort, "-"),
		seen:      make(map[string]*stageScope),
	}
	if !opts.Full {
		state, err := s.store.GetSyncState(ctx, resource)
		if err != nil {
			return res, fmt.Errorf("failed to load watermark for %s: %w", resource, err)
		}
		if state != nil {
			p.watermark = state.LastSyncedAt
		}
	}

	log.Info().Strs("paths", rc.Paths).Msg("sync pass started")
	path, err := s.source.PaginateFirst(ctx, rc.Paths, fetchParams(rc), p.visit)
	res.Path = path
	if err != nil {
		if path == "" && teamtailor.IsNotFound(err) {
			res.Unavailable = true
			log.Warn().Err(err).Msg("no endpoint available, skipping resource")
			return res, nil
		}
		log.Error().Err(err).Int("pages", res.Pages).Int("processed", res.Processed).Msg("sync pass aborted")
		return res, fmt.Errorf("failed to sync %s: %w", resource, err)
	}

	if err := p.persist(ctx); err != nil {
		return res, err
	}
	if opts.Full && resource == config.ResourceStages {
		if err := p.prune(ctx); err != nil {
			return res, err
		}
	}

	log.Info().
		Str("path", path).
		Int("pages", res.Pages).
		Int("processed", res.Processed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("pruned", res.Pruned).
		Bool("stopped", res.Stopped).
		Msg("sync pass finished")
	return res, nil
}

// Backfill runs a full pass over every resource in dependency order.
func (s *Service) Backfill(ctx context.Context, heartbeat func(context.Context) error) ([]*Result, error) {
	results := make([]*Result, 0, len(config.Resources))
	for _, resource := range config.Resources {
		res, err := s.Sync(ctx, resource, Options{Full: true, Heartbeat: heartbeat})
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// NewAnswersCache builds a per-run answer cache sized from the answers
// resource config.
func (s *Service) NewAnswersCache() *mappers.AnswersCache {
	rc, _ := s.cfg.Resource(config.ResourceAnswers)
	return mappers.NewAnswersCache(s.source, rc.PageSize)
}

// pass is the state of one Sync call.
type pass struct {
	svc       *Service
	ctx       context.Context
	log       zerolog.Logger
	resource  string
	opts      Options
	res       *Result
	keys      []string
	earlyStop bool

	watermark *time.Time
	maxSeen   *time.Time
	persisted *time.Time
	// retryFrom is the oldest timestamp of a failed or rejected record.
	// The persisted watermark never passes it.
	retryFrom *time.Time
	seen      map[string]*stageScope
}

type stageScope struct {
	jobID *uuid.UUID
	ids   []string
}

func (p *pass) visit(doc *jsonapi.Document) (jsonapi.Step, error) {
	ctx := p.ctx
	p.res.Pages++
	ix := doc.Index()
	items := doc.Data.Resources()

	stop := false
	for i := range items {
		item := &items[i]
		at := item.Attributes.Time(p.keys...)
		if p.earlyStop && p.watermark != nil && at != nil && at.Before(*p.watermark) {
			stop = true
			break
		}

		if err := p.handle(ctx, item, ix); err != nil {
			if fatal(err) {
				return jsonapi.Stop, err
			}
			p.record(item, err)
			if !mappers.IsSkip(err) {
				p.holdAt(at)
			}
			if !mappers.IsSkip(err) && !db.IsConflict(err) {
				continue
			}
		} else {
			p.res.Processed++
			metrics.RecordSyncItem(p.resource, outcomeProcessed)
		}
		if at != nil && (p.maxSeen == nil || at.After(*p.maxSeen)) {
			t := *at
			p.maxSeen = &t
		}
	}

	if stop {
		p.res.Stopped = true
		if err := p.persist(ctx); err != nil {
			return jsonapi.Stop, err
		}
		p.log.Debug().Int("page", p.res.Pages).Msg("reached watermark, stopping")
		return jsonapi.Stop, nil
	}
	if p.opts.Heartbeat != nil {
		if err := p.opts.Heartbeat(ctx); err != nil {
			return jsonapi.Stop, fmt.Errorf("heartbeat failed: %w", err)
		}
	}
	return jsonapi.Continue, nil
}

func (p *pass) handle(ctx context.Context, item *jsonapi.Resource, ix jsonapi.Index) error {
	m := p.svc.mapper
	var err error
	switch p.resource {
	case config.ResourceJobs:
		_, err = m.MapJobPosting(ctx, item, ix)
	case config.ResourceCandidates:
		_, err = m.MapCandidate(ctx, item)
	case config.ResourceApplications:
		_, err = m.MapApplication(ctx, item, ix, mappers.ApplicationOptions{
			SkipAnswers: !p.svc.cfg.AnswersInline,
			Cache:       p.opts.Cache,
		})
	case config.ResourceMessages:
		_, err = m.MapMessage(ctx, item)
	case config.ResourceStages:
		err = p.handleStage(ctx, item)
	case config.ResourceMovements:
		_, err = m.MapMovement(ctx, item, ix)
	case config.ResourceAnswers:
		_, err = m.MapAnswer(ctx, item, ix)
	default:
		err = fmt.Errorf("no mapper for resource %q", p.resource)
	}
	return err
}

func (p *pass) handleStage(ctx context.Context, item *jsonapi.Resource) error {
	var scope *uuid.UUID
	key := ""
	if jobTT := item.RelID("job"); jobTT != "" {
		job, err := p.svc.store.GetJobPostingByTeamtailorID(ctx, jobTT)
		if err != nil {
			return fmt.Errorf("failed to look up job %s: %w", jobTT, err)
		}
		if job == nil {
			return &mappers.SkipError{Resource: "stage", ID: item.ID, Reason: "job " + jobTT + " not synced"}
		}
		scope = &job.ID
		key = job.ID.String()
	}

	if _, err := p.svc.mapper.MapStage(ctx, item, scope); err != nil {
		return err
	}
	sc, ok := p.seen[key]
	if !ok {
		sc = &stageScope{jobID: scope}
		p.seen[key] = sc
	}
	sc.ids = append(sc.ids, item.ID)
	return nil
}

// record counts a record that could not be mapped.
func (p *pass) record(item *jsonapi.Resource, err error) {
	if mappers.IsSkip(err) || db.IsConflict(err) {
		p.res.Skipped++
		metrics.RecordSyncItem(p.resource, outcomeSkipped)
		p.log.Debug().Err(err).Str("teamtailor_id", item.ID).Msg("record skipped")
		return
	}
	p.res.Failed++
	metrics.RecordSyncItem(p.resource, outcomeFailed)
	p.log.Error().Err(err).Str("teamtailor_id", item.ID).Msg("failed to map record")
}

// holdAt keeps the watermark at or before at so the record is read again
// by the next incremental pass.
func (p *pass) holdAt(at *time.Time) {
	if at == nil {
		return
	}
	if p.retryFrom == nil || at.Before(*p.retryFrom) {
		t := *at
		p.retryFrom = &t
	}
}

// target is the watermark the pass may persist: the newest timestamp
// handled, capped at the oldest record that has to be retried.
func (p *pass) target() *time.Time {
	if p.maxSeen == nil {
		return nil
	}
	if p.retryFrom != nil && p.retryFrom.Before(*p.maxSeen) {
		return p.retryFrom
	}
	return p.maxSeen
}

// persist advances the watermark to the newest timestamp handled so far.
func (p *pass) persist(ctx context.Context) error {
	target := p.target()
	if target == nil || (p.persisted != nil && p.persisted.Equal(*target)) {
		return nil
	}
	if p.retryFrom != nil && target == p.retryFrom {
		p.log.Warn().Time("retry_from", *target).Msg("holding watermark for rejected records")
	}
	state, err := p.svc.store.AdvanceSyncState(ctx, p.resource, *target)
	if err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", p.resource, err)
	}
	p.persisted = target
	if state.LastSyncedAt != nil {
		p.res.Watermark = state.LastSyncedAt
		metrics.SetWatermark(p.resource, *state.LastSyncedAt)
	}
	return nil
}

// prune drops stages missing from a complete full pass, per scope.
func (p *pass) prune(ctx context.Context) error {
	if p.res.Failed > 0 {
		p.log.Warn().Int("failed", p.res.Failed).Msg("skipping stage prune after failures")
		return nil
	}
	for _, sc := range p.seen {
		n, err := p.svc.mapper.PruneMissing(ctx, sc.jobID, sc.ids)
		if err != nil {
			return err
		}
		p.res.Pruned += n
	}
	return nil
}

func fetchParams(rc config.ResourceConfig) url.Values {
	params := url.Values{}
	if rc.PageSize > 0 {
		params.Set("page[size]", strconv.Itoa(rc.PageSize))
	}
	if inc := rc.IncludeParam(); inc != "" {
		params.Set("include", inc)
	}
	if rc.Sort != "" {
		params.Set("sort", rc.Sort)
	}
	return params
}

// timestampKeys lists the attributes a record's position is read from, the
// sort key first.
func timestampKeys(sort string) []string {
	keys := make([]string, 0, 3)
	if key := strings.TrimLeft(sort, "-+"); key != "" {
		keys = append(keys, key)
	}
	return append(keys, "updated_at", "created_at")
}

// fatal reports errors that abort a pass instead of skipping one record.
func fatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		teamtailor.IsTransient(err) ||
		teamtailor.IsCircuitOpen(err)
}
