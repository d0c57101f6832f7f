// Package lifecycle implements the Lifecycle Engine (C6): pre-write
// conflict resolution deciding supersede vs. coexist vs. mark-conflict
// for a batch of LONG_TERM triples before they reach the graph store.
package lifecycle

import (
	"context"
	"time"

	"github.com/atlasagent/atlas-core/pkg/catalog"
	"github.com/atlasagent/atlas-core/pkg/extractor"
	"github.com/atlasagent/atlas-core/pkg/graphstore"
	"github.com/atlasagent/atlas-core/pkg/model"
)

// ConflictThreshold is the default confidence floor both EXCLUSIVE edges
// must clear to be marked CONFLICTED rather than superseded (spec §4.5).
const ConflictThreshold = 0.7

// Store is the subset of graphstore.Store the engine needs, so tests can
// substitute a fake without standing up sqlmock.
type Store interface {
	ActiveExclusiveFacts(ctx context.Context, userID string, pairs []graphstore.SubjectPredicate) (map[graphstore.SubjectPredicate]model.Fact, error)
	SupersedeBatch(ctx context.Context, ops []graphstore.SupersedeOp) error
	MarkConflicted(ctx context.Context, factID string, now time.Time) error
	Write(ctx context.Context, w graphstore.WriteFact) (string, error)
}

// Engine runs the batch pre-write protocol of spec §4.5.
type Engine struct {
	store             Store
	conflictThreshold float64
}

// New builds an Engine. threshold <= 0 selects ConflictThreshold.
func New(store Store, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = ConflictThreshold
	}
	return &Engine{store: store, conflictThreshold: threshold}
}

// WriteResult reports the outcome the engine chose for one triple.
type WriteResultKind string

const (
	WriteResultNew        WriteResultKind = "new"
	WriteResultMerged     WriteResultKind = "merged"
	WriteResultSuperseded WriteResultKind = "superseded"
	WriteResultConflicted WriteResultKind = "conflicted"
)

// WriteResult is the per-triple outcome returned from Apply.
type WriteResult struct {
	Triple extractor.Sanitized
	Kind   WriteResultKind
	FactID string
}

// Apply runs the full batch protocol: pre-fetch ACTIVE EXCLUSIVE
// relations, decide per triple, apply supersede/conflict operations, then
// write every triple that should exist, in that order (spec §4.5 step 3).
func (e *Engine) Apply(ctx context.Context, userID, sourceTurnID string, triples []extractor.Sanitized, now time.Time) ([]WriteResult, error) {
	pairs := make([]graphstore.SubjectPredicate, 0, len(triples))
	for _, t := range triples {
		if t.Type == catalog.CardinalityExclusive {
			pairs = append(pairs, graphstore.SubjectPredicate{Subject: t.Subject, Predicate: t.Predicate})
		}
	}

	active, err := e.store.ActiveExclusiveFacts(ctx, userID, pairs)
	if err != nil {
		return nil, err
	}

	var supersedeOps []graphstore.SupersedeOp
	var conflictFactIDs []string
	decisions := make([]WriteResult, len(triples))
	toWrite := make([]int, 0, len(triples))

	for i, t := range triples {
		if t.Type != catalog.CardinalityExclusive {
			// ADDITIVE/TEMPORAL: always enqueue, write layer MERGEs.
			decisions[i] = WriteResult{Triple: t, Kind: WriteResultMerged}
			toWrite = append(toWrite, i)
			continue
		}

		prior, hasPrior := active[graphstore.SubjectPredicate{Subject: t.Subject, Predicate: t.Predicate}]
		switch {
		case !hasPrior:
			decisions[i] = WriteResult{Triple: t, Kind: WriteResultNew}
			toWrite = append(toWrite, i)

		case prior.Object == t.Object:
			decisions[i] = WriteResult{Triple: t, Kind: WriteResultMerged, FactID: prior.ID}
			toWrite = append(toWrite, i)

		case prior.Confidence >= e.conflictThreshold && t.Confidence >= e.conflictThreshold:
			decisions[i] = WriteResult{Triple: t, Kind: WriteResultConflicted, FactID: prior.ID}
			conflictFactIDs = append(conflictFactIDs, prior.ID)
			toWrite = append(toWrite, i)

		default:
			supersedeOps = append(supersedeOps, graphstore.SupersedeOp{
				FactID:             prior.ID,
				Now:                now,
				SupersededByTurnID: sourceTurnID,
			})
			decisions[i] = WriteResult{Triple: t, Kind: WriteResultSuperseded}
			toWrite = append(toWrite, i)
		}
	}

	if len(supersedeOps) > 0 {
		if err := e.store.SupersedeBatch(ctx, supersedeOps); err != nil {
			return nil, err
		}
	}
	for _, factID := range conflictFactIDs {
		if err := e.store.MarkConflicted(ctx, factID, now); err != nil {
			return nil, err
		}
	}

	for _, i := range toWrite {
		t := triples[i]
		status := model.FactStatusActive
		if decisions[i].Kind == WriteResultConflicted {
			status = model.FactStatusConflicted
		}
		id, err := e.store.Write(ctx, graphstore.WriteFact{
			Subject:      t.Subject,
			Predicate:    t.Predicate,
			Object:       t.Object,
			UserID:       userID,
			Confidence:   t.Confidence,
			Status:       status,
			Category:     model.FactCategory(t.Category),
			Cardinality:  model.Cardinality(t.Type),
			SourceTurnID: sourceTurnID,
			Now:          now,
		})
		if err != nil {
			return nil, err
		}
		decisions[i].FactID = id
	}

	return decisions, nil
}
