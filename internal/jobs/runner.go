// Package jobs wraps sync passes in lock-guarded, retried jobs and schedules
// them for the worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/metrics"
	"github.com/jonathan/ats-sync/internal/synclock"
	"github.com/jonathan/ats-sync/internal/syncer"
	"github.com/jonathan/ats-sync/internal/teamtailor"
)

// Job names.
const (
	JobPoll            = "poll"
	JobBackfill        = "backfill"
	JobDesyncCheck     = "desync-check"
	JobBackfillAnswers = "backfill-answers"
)

// Lock keys, one per job so enrichment passes can overlap a poll.
const (
	KeySync            = "teamtailor_sync"
	KeyBackfill        = "teamtailor_backfill"
	KeyDesyncCheck     = "teamtailor_desync_check"
	KeyBackfillAnswers = "teamtailor_backfill_answers"
)

// Jobs lists every job name.
var Jobs = []string{JobPoll, JobBackfill, JobDesyncCheck, JobBackfillAnswers}

// ErrUnknownJob is returned for a job name outside Jobs.
var ErrUnknownJob = errors.New("unknown job")

// Syncer is the orchestrator surface jobs drive.
type Syncer interface {
	Sync(ctx context.Context, resource string, opts syncer.Options) (*syncer.Result, error)
	Backfill(ctx context.Context, heartbeat func(context.Context) error) ([]*syncer.Result, error)
	DesyncCheck(ctx context.Context, opts syncer.BatchOptions) (*syncer.BatchResult, error)
	BackfillAnswers(ctx context.Context, opts syncer.BatchOptions) (*syncer.BatchResult, error)
}

// Report describes one job execution.
type Report struct {
	Job      string
	RunID    string
	Ran      bool
	Attempts int
	Results  []*syncer.Result
	Batch    *syncer.BatchResult
	Duration time.Duration
}

// Runner executes jobs under their sync lock.
type Runner struct {
	syncer Syncer
	locks  db.SyncLockStore
	cfg    config.SyncConfig
	label  string

	// retryInterval seeds the exponential backoff between attempts.
	retryInterval time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLabel sets the lock owner label. Defaults to "ats-sync".
func WithLabel(label string) RunnerOption {
	return func(r *Runner) { r.label = label }
}

// WithRetryInterval sets the initial delay between job attempts.
func WithRetryInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.retryInterval = d }
}

// NewRunner creates a Runner.
func NewRunner(s Syncer, locks db.SyncLockStore, cfg config.SyncConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		syncer:        s,
		locks:         locks,
		cfg:           cfg,
		label:         "ats-sync",
		retryInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a job by name.
func (r *Runner) Run(ctx context.Context, job string) (*Report, error) {
	switch job {
	case JobPoll:
		return r.Poll(ctx)
	case JobBackfill:
		return r.Backfill(ctx)
	case JobDesyncCheck:
		return r.DesyncCheck(ctx)
	case JobBackfillAnswers:
		return r.BackfillAnswers(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
}

// PollResources returns the resources a poll visits, in order.
func (r *Runner) PollResources() []string {
	resources := []string{
		config.ResourceApplications,
		config.ResourceJobs,
		config.ResourceCandidates,
		config.ResourceMessages,
	}
	if r.cfg.PollStages {
		resources = append(resources, config.ResourceStages)
	}
	if r.cfg.PollMovements {
		resources = append(resources, config.ResourceMovements)
	}
	return resources
}

// Poll runs an incremental pass over the poll resources, heartbeating the
// lock between resources and pages.
func (r *Runner) Poll(ctx context.Context) (*Report, error) {
	return r.run(ctx, JobPoll, KeySync, r.cfg.LockTTL, func(ctx context.Context, lock *synclock.Lock, rep *Report) error {
		rep.Results = rep.Results[:0]
		for i, resource := range r.PollResources() {
			if i > 0 {
				if err := lock.Heartbeat(ctx); err != nil {
					return err
				}
			}
			res, err := r.syncer.Sync(ctx, resource, syncer.Options{Heartbeat: lock.Heartbeat})
			if res != nil {
				rep.Results = append(rep.Results, res)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Backfill runs a full pass over every resource.
func (r *Runner) Backfill(ctx context.Context) (*Report, error) {
	return r.run(ctx, JobBackfill, KeyBackfill, r.cfg.BackfillLockTTL, func(ctx context.Context, lock *synclock.Lock, rep *Report) error {
		lock.KeepAlive(ctx, keepAliveInterval(r.cfg.BackfillLockTTL))
		results, err := r.syncer.Backfill(ctx, lock.Heartbeat)
		rep.Results = results
		return err
	})
}

// DesyncCheck reapplies answers for applications with unanswered questions.
func (r *Runner) DesyncCheck(ctx context.Context) (*Report, error) {
	return r.run(ctx, JobDesyncCheck, KeyDesyncCheck, r.cfg.DesyncLockTTL, func(ctx context.Context, lock *synclock.Lock, rep *Report) error {
		res, err := r.syncer.DesyncCheck(ctx, syncer.BatchOptions{Heartbeat: lock.Heartbeat})
		rep.Batch = res
		return err
	})
}

// BackfillAnswers resolves answers for applications not yet fully synced.
func (r *Runner) BackfillAnswers(ctx context.Context) (*Report, error) {
	return r.run(ctx, JobBackfillAnswers, KeyBackfillAnswers, r.cfg.AnswersLockTTL, func(ctx context.Context, lock *synclock.Lock, rep *Report) error {
		res, err := r.syncer.BackfillAnswers(ctx, syncer.BatchOptions{Heartbeat: lock.Heartbeat})
		rep.Batch = res
		return err
	})
}

// run acquires key, runs fn and releases the lock, retrying transient
// failures. A busy lock is a no-op.
func (r *Runner) run(ctx context.Context, job, key string, ttl time.Duration, fn func(context.Context, *synclock.Lock, *Report) error) (*Report, error) {
	rep := &Report{Job: job, RunID: logging.NewRunID()}
	ctx = logging.WithRunID(ctx, rep.RunID)
	log := logging.Ctx(ctx).With().Str("job", job).Str("lock_key", key).Logger()
	ctx = logging.WithLogger(ctx, log)

	started := time.Now()
	attempts := r.cfg.JobMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryInterval
	bo.MaxInterval = 10 * r.retryInterval

	_, err := backoff.Retry(ctx, func() (bool, error) {
		rep.Attempts++
		ran, err := synclock.WithLock(ctx, r.locks, key, r.label, ttl, func(ctx context.Context, lock *synclock.Lock) error {
			return fn(ctx, lock, rep)
		})
		rep.Ran = rep.Ran || ran
		if err != nil && !retryable(err) {
			return ran, backoff.Permanent(err)
		}
		return ran, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Int("attempt", rep.Attempts).Dur("retry_in", next).Msg("job attempt failed, retrying")
		}),
	)
	rep.Duration = time.Since(started)

	switch {
	case err != nil:
		metrics.JobRuns.WithLabelValues(job, "error").Inc()
		log.Error().Err(err).Int("attempts", rep.Attempts).Dur("duration", rep.Duration).Msg("job failed")
		return rep, fmt.Errorf("job %s failed: %w", job, err)
	case !rep.Ran:
		metrics.JobRuns.WithLabelValues(job, "skipped").Inc()
		log.Info().Msg("lock held by another worker, skipping")
	default:
		metrics.JobRuns.WithLabelValues(job, "ok").Inc()
		log.Info().Int("attempts", rep.Attempts).Dur("duration", rep.Duration).Msg("job finished")
	}
	return rep, nil
}

// retryable reports failures worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, synclock.ErrLost) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return teamtailor.IsTransient(err) || teamtailor.IsCircuitOpen(err)
}

func keepAliveInterval(ttl time.Duration) time.Duration {
	if d := ttl / 3; d > time.Second {
		return d
	}
	return time.Second
}
