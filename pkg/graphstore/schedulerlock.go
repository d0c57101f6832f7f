package graphstore

import (
	"context"
	"time"
)

// TryAcquireLock atomically acquires name iff it is free, expired, or
// already held by holder, setting its expiry to now+ttl. This is the
// only primitive ensuring singleton jobs across instances (spec §4.11,
// §5). Returns acquired=true iff the caller now holds the lock.
func (s *Store) TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	var acquired bool
	expiresAt := now.Add(ttl)
	err := s.withBreaker(ctx, "try_acquire_lock", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO scheduler_locks (name, holder, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET holder = $2, expires_at = $3
			WHERE scheduler_locks.expires_at <= $4 OR scheduler_locks.holder = $2`,
			name, holder, expiresAt, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		acquired = n > 0
		return nil
	})
	return acquired, err
}

// ReleaseLock releases name iff currently held by holder, for graceful
// shutdown (best effort; the TTL alone is sufficient for correctness).
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) error {
	return s.withBreaker(ctx, "release_lock", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM scheduler_locks WHERE name = $1 AND holder = $2`, name, holder)
		return err
	})
}
