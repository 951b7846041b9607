package db

import (
	"time"
)

// SyncState is the watermark for one resource class
type SyncState struct {
	Resource     string     `json:"resource"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SyncLock is a heartbeat-renewed lock row. A row with no owner is free.
type SyncLock struct {
	Key         string     `json:"key"`
	LockedBy    *string    `json:"locked_by,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// IsHeld reports whether the lock has an owner whose claim is younger than ttl.
func (l *SyncLock) IsHeld(now time.Time, ttl time.Duration) bool {
	if l.LockedBy == nil || l.LockedAt == nil {
		return false
	}
	return l.LockedAt.After(now.Add(-ttl))
}

// LockResult describes the outcome of an acquire attempt
type LockResult struct {
	Acquired bool
	// PreviousOwner is the owner displaced by a stale takeover, if any.
	PreviousOwner *string
}

// TookOver reports whether the acquire displaced a different owner.
func (r LockResult) TookOver(owner string) bool {
	return r.Acquired && r.PreviousOwner != nil && *r.PreviousOwner != owner
}
