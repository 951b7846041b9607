package memdb

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jonathan/ats-sync/internal/db"
)

// ---- Sync State Methods ----

func (s *Store) GetSyncState(_ context.Context, resource string) (*db.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.states[resource]), nil
}

func (s *Store) AdvanceSyncState(_ context.Context, resource string, at time.Time) (*db.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[resource]
	if !ok {
		st = &db.SyncState{Resource: resource}
		s.states[resource] = st
	}
	if st.LastSyncedAt == nil || at.After(*st.LastSyncedAt) {
		st.LastSyncedAt = &at
	}
	st.UpdatedAt = s.Now().UTC()
	return clone(st), nil
}

func (s *Store) ListSyncStates(_ context.Context) ([]db.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]db.SyncState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b db.SyncState) int { return strings.Compare(a.Resource, b.Resource) })
	return out, nil
}

// ---- Sync Lock Methods ----

func (s *Store) AcquireSyncLock(_ context.Context, key, owner string, ttl time.Duration) (db.LockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()

	l, ok := s.locks[key]
	if !ok {
		l = &db.SyncLock{Key: key}
		s.locks[key] = l
	}
	prev := clone(l.LockedBy)
	if l.IsHeld(now, ttl) && *l.LockedBy != owner {
		return db.LockResult{}, nil
	}
	l.LockedBy = &owner
	l.LockedAt = &now
	l.HeartbeatAt = &now
	return db.LockResult{Acquired: true, PreviousOwner: prev}, nil
}

func (s *Store) HeartbeatSyncLock(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok || !sameStr(l.LockedBy, &owner) {
		return false, nil
	}
	now := s.Now().UTC()
	l.LockedAt = &now
	l.HeartbeatAt = &now
	return true, nil
}

func (s *Store) ReleaseSyncLock(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok || !sameStr(l.LockedBy, &owner) {
		return false, nil
	}
	l.LockedBy, l.LockedAt, l.HeartbeatAt = nil, nil, nil
	return true, nil
}

func (s *Store) GetSyncLock(_ context.Context, key string) (*db.SyncLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.locks[key]), nil
}
