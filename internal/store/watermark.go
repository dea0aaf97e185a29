package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetWatermark returns the owner's last-sync watermark. The boolean is
// false when no watermark has been recorded yet.
func (s *Store) GetWatermark(ctx context.Context, owner string) (time.Time, bool, error) {
	var syncedAt int64

	row := s.db.QueryRowContext(ctx,
		`SELECT synced_at FROM watermarks WHERE owner_id = ?`, owner)
	if err := row.Scan(&syncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("store: reading watermark for %s: %w", owner, err)
	}

	return time.Unix(0, syncedAt).UTC(), true, nil
}

// SetWatermark advances the owner's watermark. Watermarks are monotonically
// non-decreasing; an older value than the stored one is rejected by the
// guarded update and silently kept.
func (s *Store) SetWatermark(ctx context.Context, owner string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (owner_id, synced_at) VALUES (?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET synced_at = excluded.synced_at
		 WHERE excluded.synced_at > watermarks.synced_at`,
		owner, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: advancing watermark for %s: %w", owner, err)
	}

	return nil
}
