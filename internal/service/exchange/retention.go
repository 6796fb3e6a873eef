package exchange

import (
	"context"
	"fmt"
	"time"
)

// PurgeOlderThan deletes exchanges created before cutoff and returns the
// number of rows removed.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exchanges WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge exchanges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

// PurgeExpired applies a retention window relative to now. A non-positive
// retention keeps everything.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.PurgeOlderThan(ctx, now.Add(-retention))
}
