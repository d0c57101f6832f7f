package graphstore

import (
	"context"
	"time"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// SoftSignalsAllUsers returns every ACTIVE soft_signal fact across all
// users, for the fleet-wide Decay job (spec §4.11).
func (s *Store) SoftSignalsAllUsers(ctx context.Context) ([]model.Fact, error) {
	return s.queryFacts(ctx, "soft_signals_all_users", `
		SELECT id, subject, predicate, object, user_id, confidence, status,
		       category, created_at, updated_at, source_turn_id_first,
		       source_turn_id_last, valid_until, superseded_by_turn_id, attribution
		FROM facts WHERE status = 'ACTIVE' AND category = 'soft_signal'`)
}

// DecayFact applies a decayed confidence value to a fact, optionally
// transitioning it to DEPRECATED.
func (s *Store) DecayFact(ctx context.Context, factID string, newConfidence float64, deprecate bool, now time.Time) error {
	status := "ACTIVE"
	if deprecate {
		status = "DEPRECATED"
	}
	return s.withBreaker(ctx, "decay_fact", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE facts SET confidence = $1, status = $2, updated_at = $3 WHERE id = $4`,
			newConfidence, status, now, factID)
		return err
	})
}
