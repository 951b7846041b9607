package jobs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/logging"
)

// JobRunner runs a job by name.
type JobRunner interface {
	Run(ctx context.Context, job string) (*Report, error)
}

// Schedule runs Job every Every. A zero Every makes the job trigger-only.
type Schedule struct {
	Job   string
	Every time.Duration
}

// DefaultSchedules derives the worker schedules from the sync config.
func DefaultSchedules(cfg config.SyncConfig) []Schedule {
	return []Schedule{
		{Job: JobPoll, Every: cfg.Interval},
		{Job: JobBackfillAnswers, Every: cfg.AnswersInterval},
		{Job: JobDesyncCheck, Every: cfg.DesyncInterval},
		{Job: JobBackfill},
	}
}

// Scheduler runs jobs on tickers with jitter and on demand. It implements
// suture.Service.
type Scheduler struct {
	runner    JobRunner
	schedules []Schedule
	jitter    time.Duration

	mu       sync.Mutex
	triggers map[string]chan struct{}
	lastRun  map[string]*Report
}

// NewScheduler creates a Scheduler. jitter bounds the random delay added to
// every tick so workers sharing a lock do not contend in lockstep.
func NewScheduler(runner JobRunner, schedules []Schedule, jitter time.Duration) *Scheduler {
	s := &Scheduler{
		runner:    runner,
		schedules: schedules,
		jitter:    jitter,
		triggers:  make(map[string]chan struct{}, len(schedules)),
		lastRun:   make(map[string]*Report, len(schedules)),
	}
	for _, sc := range schedules {
		s.triggers[sc.Job] = make(chan struct{}, 1)
	}
	return s
}

// Trigger asks for an immediate run of job. A run already queued absorbs the
// request.
func (s *Scheduler) Trigger(job string) error {
	ch, ok := s.triggers[job]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// LastRun returns the most recent report for job.
func (s *Scheduler) LastRun(job string) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[job]
}

// Serve runs every schedule until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sc := range s.schedules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, sc)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string {
	return "job-scheduler"
}

func (s *Scheduler) loop(ctx context.Context, sc Schedule) {
	log := logging.Ctx(ctx).With().Str("job", sc.Job).Logger()
	trigger := s.triggers[sc.Job]

	var tick <-chan time.Time
	var timer *time.Timer
	if sc.Every > 0 {
		timer = time.NewTimer(s.delay(0))
		defer timer.Stop()
		tick = timer.C
		log.Info().Dur("every", sc.Every).Msg("job scheduled")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-trigger:
			log.Info().Msg("job triggered")
		}

		s.runOnce(ctx, sc.Job)

		if timer != nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.delay(sc.Every))
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job string) {
	rep, err := s.runner.Run(ctx, job)
	if err != nil && ctx.Err() == nil {
		logging.Ctx(ctx).Error().Err(err).Str("job", job).Msg("scheduled job failed")
	}
	if rep != nil {
		s.mu.Lock()
		s.lastRun[job] = rep
		s.mu.Unlock()
	}
}

func (s *Scheduler) delay(base time.Duration) time.Duration {
	if s.jitter <= 0 {
		return base
	}
	return base + rand.N(s.jitter)
}
