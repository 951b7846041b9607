package syncer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/mappers"
	"github.com/jonathan/ats-sync/internal/metrics"
)

const heartbeatEvery = 25

// BatchOptions tunes an answer enrichment pass.
type BatchOptions struct {
	// Limit caps how many applications one pass looks at. Defaults to the
	// configured batch size.
	Limit int
	// Heartbeat runs every few applications. An error aborts the pass.
	Heartbeat func(context.Context) error
}

// BatchResult summarizes an answer enrichment pass.
type BatchResult struct {
	Checked     int
	FullySynced int
	Answers     int
	Skipped     int
	Failed      int
}

// DesyncCheck revisits applications that have an unanswered external job
// question and reapplies their answers.
func (s *Service) DesyncCheck(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	return s.enrich(ctx, "desync_check", db.ApplicationFilter{MissingAnswers: true, Limit: s.limit(opts)}, opts)
}

// BackfillAnswers revisits applications that are not yet fully synced,
// least recently checked first.
func (s *Service) BackfillAnswers(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	return s.enrich(ctx, "backfill_answers", db.ApplicationFilter{Limit: s.limit(opts)}, opts)
}

func (s *Service) limit(opts BatchOptions) int {
	if opts.Limit > 0 {
		return opts.Limit
	}
	return s.cfg.BatchSize
}

func (s *Service) enrich(ctx context.Context, name string, filter db.ApplicationFilter, opts BatchOptions) (*BatchResult, error) {
	log := logging.Ctx(ctx).With().Str("pass", name).Logger()
	ctx = logging.WithLogger(ctx, log)

	apps, err := s.store.ListApplicationsMissingFullSync(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications for %s: %w", name, err)
	}
	out := &BatchResult{}
	if len(apps) == 0 {
		log.Debug().Msg("nothing to enrich")
		return out, nil
	}
	log.Info().Int("applications", len(apps)).Msg("answer enrichment started")

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	cache := s.NewAnswersCache()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range apps {
		app := &apps[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.mapper.ResyncAnswers(gctx, app, cache)

			mu.Lock()
			defer mu.Unlock()
			out.Checked++
			switch {
			case err == nil:
				out.Answers += res.Answers.Saved
				if res.FullySynced {
					out.FullySynced++
				}
				metrics.RecordSyncItem(config.ResourceAnswers, outcomeProcessed)
			case fatal(err):
				return err
			case mappers.IsSkip(err) || db.IsConflict(err):
				out.Skipped++
				metrics.RecordSyncItem(config.ResourceAnswers, outcomeSkipped)
				log.Debug().Err(err).Str("application_id", app.ID.String()).Msg("application skipped")
			default:
				out.Failed++
				metrics.RecordSyncItem(config.ResourceAnswers, outcomeFailed)
				log.Error().Err(err).Str("application_id", app.ID.String()).Msg("failed to resync answers")
			}

			if opts.Heartbeat != nil && out.Checked%heartbeatEvery == 0 {
				if err := opts.Heartbeat(gctx); err != nil {
					return fmt.Errorf("heartbeat failed: %w", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("%s aborted: %w", name, err)
	}

	log.Info().
		Int("checked", out.Checked).
		Int("fully_synced", out.FullySynced).
		Int("answers", out.Answers).
		Int("skipped", out.Skipped).
		Int("failed", out.Failed).
		Int("candidate_loads", cache.Loads()).
		Msg("answer enrichment finished")
	return out, nil
}
