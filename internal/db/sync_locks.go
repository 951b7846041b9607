package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Sync Lock Methods
// -----------------------------------------------------------------------------

// AcquireSyncLock claims the lock when it is free, stale (locked_at older than
// ttl) or already owned by owner. The previous owner is returned so stale
// takeovers can be logged.
func (db *DB) AcquireSyncLock(ctx context.Context, key, owner string, ttl time.Duration) (LockResult, error) {
	var res LockResult
	err := db.pool.QueryRow(ctx,
		`WITH prev AS (
			SELECT locked_by FROM teamtailor_sync_locks WHERE key = $1
		 )
		 INSERT INTO teamtailor_sync_locks (key, locked_by, locked_at, heartbeat_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (key) DO UPDATE
		 SET locked_by = EXCLUDED.locked_by, locked_at = NOW(), heartbeat_at = NOW()
		 WHERE teamtailor_sync_locks.locked_by IS NULL
		    OR teamtailor_sync_locks.locked_at IS NULL
		    OR teamtailor_sync_locks.locked_by = EXCLUDED.locked_by
		    OR teamtailor_sync_locks.locked_at <= NOW() - make_interval(secs => $3)
		 RETURNING (SELECT locked_by FROM prev)`,
		key, owner, ttl.Seconds(),
	).Scan(&res.PreviousOwner)
	if err != nil {
		if err == pgx.ErrNoRows {
			return LockResult{}, nil
		}
		return LockResult{}, fmt.Errorf("failed to acquire sync lock %s: %w", key, err)
	}
	res.Acquired = true
	return res, nil
}

// HeartbeatSyncLock refreshes the lock only while owner still holds it
func (db *DB) HeartbeatSyncLock(ctx context.Context, key, owner string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE teamtailor_sync_locks SET locked_at = NOW(), heartbeat_at = NOW()
		 WHERE key = $1 AND locked_by = $2`,
		key, owner)
	if err != nil {
		return false, fmt.Errorf("failed to heartbeat sync lock %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSyncLock frees the lock only while owner still holds it
func (db *DB) ReleaseSyncLock(ctx context.Context, key, owner string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE teamtailor_sync_locks SET locked_by = NULL, locked_at = NULL, heartbeat_at = NULL
		 WHERE key = $1 AND locked_by = $2`,
		key, owner)
	if err != nil {
		return false, fmt.Errorf("failed to release sync lock %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSyncLock retrieves a lock row
func (db *DB) GetSyncLock(ctx context.Context, key string) (*SyncLock, error) {
	var l SyncLock
	err := db.pool.QueryRow(ctx,
		`SELECT key, locked_by, locked_at, heartbeat_at FROM teamtailor_sync_locks WHERE key = $1`, key,
	).Scan(&l.Key, &l.LockedBy, &l.LockedAt, &l.HeartbeatAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync lock %s: %w", key, err)
	}
	return &l, nil
}
