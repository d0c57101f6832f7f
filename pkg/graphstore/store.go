// Package graphstore implements the Graph Store (C7): persisted typed
// triples with provenance, status, timestamps, and confidence. The pack
// carries no Neo4j/Bolt driver, so the triple store is modeled atop
// Postgres via jackc/pgx/v5 + jmoiron/sqlx, with goose migrations,
// matching the teacher's datastorage repository pattern. The EXCLUSIVE
// cardinality invariant is enforced by the lifecycle engine's pre-check
// and supersede protocol, not by a DB constraint (spec §5).
package graphstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// Store wraps a *sqlx.DB with the fact/episode/task/notification/
// scheduler-lock repository methods. A circuit breaker guards against a
// flaky Postgres instance cascading into every caller's retry loop.
type Store struct {
	db      *sqlx.DB
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

// New builds a Store over an already-opened *sqlx.DB (callers run
// migrations separately via pkg/graphstore/migrate.go).
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "graphstore",
		}),
	}
}

// Ping performs the cheap connectivity check the scheduler's Heartbeat
// job runs on every instance to keep the pool's connections hot (spec
// §4.11).
func (s *Store) Ping(ctx context.Context) error {
	return s.withBreaker(ctx, "ping", func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// classify maps a raw sql error to the taxonomy of spec §7: anything
// that isn't sql.ErrNoRows is treated as DBUnavailable so callers return
// a 503 rather than corrupt in-flight state.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return err
	}
	return sharederrors.Classify(sharederrors.KindDBUnavailable,
		sharederrors.FailedToWithDetails(op, "graphstore", "", err))
}

func (s *Store) withBreaker(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return sharederrors.Classify(sharederrors.KindDBUnavailable,
			sharederrors.FailedTo(op, err))
	}
	return classify(op, err)
}
