package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Sync State Methods
// -----------------------------------------------------------------------------

// GetSyncState retrieves the watermark row for a resource
func (db *DB) GetSyncState(ctx context.Context, resource string) (*SyncState, error) {
	var s SyncState
	err := db.pool.QueryRow(ctx,
		`SELECT resource, last_synced_at, updated_at FROM teamtailor_sync_states WHERE resource = $1`,
		resource,
	).Scan(&s.Resource, &s.LastSyncedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &s, nil
}

// AdvanceSyncState moves a resource's watermark forward. It never moves back.
func (db *DB) AdvanceSyncState(ctx context.Context, resource string, at time.Time) (*SyncState, error) {
	var s SyncState
	err := db.pool.QueryRow(ctx,
		`INSERT INTO teamtailor_sync_states (resource, last_synced_at)
		 VALUES ($1, $2)
		 ON CONFLICT (resource) DO UPDATE
		 SET last_synced_at = GREATEST(teamtailor_sync_states.last_synced_at, EXCLUDED.last_synced_at),
		     updated_at = NOW()
		 RETURNING resource, last_synced_at, updated_at`,
		resource, at,
	).Scan(&s.Resource, &s.LastSyncedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to advance sync state for %s: %w", resource, err)
	}
	return &s, nil
}

// ListSyncStates lists every resource watermark
func (db *DB) ListSyncStates(ctx context.Context) ([]SyncState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT resource, last_synced_at, updated_at FROM teamtailor_sync_states ORDER BY resource`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}
	defer rows.Close()

	var states []SyncState
	for rows.Next() {
		var s SyncState
		if err := rows.Scan(&s.Resource, &s.LastSyncedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
