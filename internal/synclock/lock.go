// Package synclock implements the heartbeat-row mutex that keeps two sync
// runs from working on the same job at once. Ownership is a row in
// teamtailor_sync_locks; a claim older than the TTL may be taken over.
package synclock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/metrics"
)

// State is the local view of a lock.
type State int

const (
	Free State = iota
	Held
)

func (s State) String() string {
	if s == Held {
		return "held"
	}
	return "free"
}

// ErrLost is returned by Heartbeat when another owner has taken the row.
var ErrLost = errors.New("sync lock lost")

// NewOwner builds an owner token unique to this process and call.
func NewOwner(label string) string {
	return fmt.Sprintf("%s-%d-%s", label, os.Getpid(), uuid.NewString())
}

// Lock is one owner's handle on a lock key.
type Lock struct {
	store db.SyncLockStore
	key   string
	owner string
	ttl   time.Duration

	mu     sync.Mutex
	state  State
	stopKA context.CancelFunc
	kaDone chan struct{}
}

// New returns an unacquired lock handle for key with a fresh owner token.
func New(store db.SyncLockStore, key, label string, ttl time.Duration) *Lock {
	return &Lock{store: store, key: key, owner: NewOwner(label), ttl: ttl}
}

func (l *Lock) Key() string   { return l.key }
func (l *Lock) Owner() string { return l.owner }

// State reports whether this handle believes it holds the lock.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Acquire tries to claim the lock. It returns false without error when a
// live owner holds it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	res, err := l.store.AcquireSyncLock(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		metrics.LockOperations.WithLabelValues(l.key, "acquire", "error").Inc()
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !res.Acquired {
		metrics.LockOperations.WithLabelValues(l.key, "acquire", "busy").Inc()
		return false, nil
	}

	if res.TookOver(l.owner) {
		logging.Ctx(ctx).Warn().
			Str("lock_key", l.key).
			Str("owner", l.owner).
			Str("previous_owner", *res.PreviousOwner).
			Dur("ttl", l.ttl).
			Msg("took over stale sync lock")
		metrics.LockOperations.WithLabelValues(l.key, "acquire", "takeover").Inc()
	} else {
		metrics.LockOperations.WithLabelValues(l.key, "acquire", "ok").Inc()
	}

	l.mu.Lock()
	l.state = Held
	l.mu.Unlock()
	return true, nil
}

// Heartbeat refreshes the claim. It returns ErrLost once another owner has
// taken the row.
func (l *Lock) Heartbeat(ctx context.Context) error {
	if l.State() != Held {
		return ErrLost
	}
	ok, err := l.store.HeartbeatSyncLock(ctx, l.key, l.owner)
	if err != nil {
		metrics.LockOperations.WithLabelValues(l.key, "heartbeat", "error").Inc()
		return fmt.Errorf("failed to heartbeat lock %s: %w", l.key, err)
	}
	if !ok {
		metrics.LockOperations.WithLabelValues(l.key, "heartbeat", "lost").Inc()
		l.mu.Lock()
		l.state = Free
		l.mu.Unlock()
		return ErrLost
	}
	metrics.LockOperations.WithLabelValues(l.key, "heartbeat", "ok").Inc()
	return nil
}

// KeepAlive heartbeats every interval until Release or ctx is done. A lost
// lock stops the loop.
func (l *Lock) KeepAlive(ctx context.Context, interval time.Duration) {
	l.mu.Lock()
	if l.stopKA != nil || l.state != Held {
		l.mu.Unlock()
		return
	}
	kaCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.stopKA, l.kaDone = cancel, done
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				err := l.Heartbeat(kaCtx)
				switch {
				case errors.Is(err, ErrLost):
					logging.Ctx(ctx).Error().Str("lock_key", l.key).Msg("sync lock lost during keep-alive")
					return
				case err != nil && kaCtx.Err() == nil:
					logging.Ctx(ctx).Warn().Err(err).Str("lock_key", l.key).Msg("sync lock heartbeat failed")
				}
			}
		}
	}()
}

func (l *Lock) stopKeepAlive() {
	l.mu.Lock()
	cancel, done := l.stopKA, l.kaDone
	l.stopKA, l.kaDone = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Release clears the claim if this handle still owns it. Releasing a lock
// that was lost is not an error.
func (l *Lock) Release(ctx context.Context) error {
	l.stopKeepAlive()

	l.mu.Lock()
	held := l.state == Held
	l.state = Free
	l.mu.Unlock()
	if !held {
		return nil
	}

	ok, err := l.store.ReleaseSyncLock(ctx, l.key, l.owner)
	if err != nil {
		metrics.LockOperations.WithLabelValues(l.key, "release", "error").Inc()
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if !ok {
		metrics.LockOperations.WithLabelValues(l.key, "release", "lost").Inc()
		logging.Ctx(ctx).Warn().Str("lock_key", l.key).Str("owner", l.owner).Msg("sync lock was taken over before release")
		return nil
	}
	metrics.LockOperations.WithLabelValues(l.key, "release", "ok").Inc()
	return nil
}

// WithLock runs fn while holding key. When the lock is busy fn is not run and
// ran is false. The lock is released on every path, including panics and
// cancellation of ctx.
func WithLock(ctx context.Context, store db.SyncLockStore, key, label string, ttl time.Duration, fn func(context.Context, *Lock) error) (ran bool, err error) {
	l := New(store, key, label, ttl)
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		relErr := l.Release(context.WithoutCancel(ctx))
		if relErr != nil {
			logging.Ctx(ctx).Error().Err(relErr).Str("lock_key", key).Msg("failed to release sync lock")
			if err == nil {
				err = relErr
			}
		}
	}()
	return true, fn(ctx, l)
}
