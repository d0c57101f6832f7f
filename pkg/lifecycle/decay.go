package lifecycle

import (
	"context"
	"time"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// DecayRatePerDay is the soft-signal confidence decay constant from the
// original implementation's decay job (SPEC_FULL.md §C).
const DecayRatePerDay = 0.01

// DeprecateFloor is the confidence floor below which a decayed edge
// moves to DEPRECATED.
const DeprecateFloor = 0.2

// DecayStore is the graphstore surface the decay job needs.
type DecayStore interface {
	SoftSignalsAllUsers(ctx context.Context) ([]model.Fact, error)
	DecayFact(ctx context.Context, factID string, newConfidence float64, deprecate bool, now time.Time) error
}

// RunDecay applies DecayRatePerDay-per-day confidence decay to every
// ACTIVE soft_signal fact, deprecating any that fall below
// DeprecateFloor. STATIC and identity edges are never touched (spec
// §4.11's Decay job, supplemented by the original's exact rate/floor).
func RunDecay(ctx context.Context, store DecayStore, now time.Time) (int, error) {
	facts, err := store.SoftSignalsAllUsers(ctx)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, f := range facts {
		days := now.Sub(f.UpdatedAt).Hours() / 24
		if days <= 0 {
			continue
		}
		newConfidence := f.Confidence - DecayRatePerDay*days
		if newConfidence < 0 {
			newConfidence = 0
		}
		deprecate := newConfidence < DeprecateFloor
		if err := store.DecayFact(ctx, f.ID, newConfidence, deprecate, now); err != nil {
			return decayed, err
		}
		decayed++
	}
	return decayed, nil
}
