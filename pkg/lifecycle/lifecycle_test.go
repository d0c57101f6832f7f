package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/atlasagent/atlas-core/pkg/catalog"
	"github.com/atlasagent/atlas-core/pkg/extractor"
	"github.com/atlasagent/atlas-core/pkg/graphstore"
	"github.com/atlasagent/atlas-core/pkg/model"
)

type fakeStore struct {
	active           map[graphstore.SubjectPredicate]model.Fact
	supersedeOps     []graphstore.SupersedeOp
	conflictedIDs    []string
	written          []graphstore.WriteFact
}

func (f *fakeStore) ActiveExclusiveFacts(ctx context.Context, userID string, pairs []graphstore.SubjectPredicate) (map[graphstore.SubjectPredicate]model.Fact, error) {
	return f.active, nil
}

func (f *fakeStore) SupersedeBatch(ctx context.Context, ops []graphstore.SupersedeOp) error {
	f.supersedeOps = append(f.supersedeOps, ops...)
	return nil
}

func (f *fakeStore) MarkConflicted(ctx context.Context, factID string, now time.Time) error {
	f.conflictedIDs = append(f.conflictedIDs, factID)
	return nil
}

func (f *fakeStore) Write(ctx context.Context, w graphstore.WriteFact) (string, error) {
	f.written = append(f.written, w)
	return "new-fact-id", nil
}

func TestApplyNewExclusiveTriple(t *testing.T) {
	store := &fakeStore{active: map[graphstore.SubjectPredicate]model.Fact{}}
	engine := New(store, 0)

	triples := []extractor.Sanitized{
		{Subject: "__USER__::u1", Predicate: "SEHIR", Object: "Istanbul", Confidence: 0.5, Type: catalog.CardinalityExclusive},
	}
	results, err := engine.Apply(context.Background(), "u1", "t1", triples, time.Now())
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if results[0].Kind != WriteResultNew {
		t.Errorf("Kind = %v, want new", results[0].Kind)
	}
	if len(store.written) != 1 {
		t.Fatalf("written = %d, want 1", len(store.written))
	}
}

func TestScenario2ExclusiveSupersede(t *testing.T) {
	store := &fakeStore{
		active: map[graphstore.SubjectPredicate]model.Fact{
			{Subject: "__USER__::u1", Predicate: "SEHIR"}: {ID: "fact-istanbul", Object: "Istanbul", Confidence: 0.5},
		},
	}
	engine := New(store, 0)

	triples := []extractor.Sanitized{
		{Subject: "__USER__::u1", Predicate: "SEHIR", Object: "Ankara", Confidence: 1.0, Type: catalog.CardinalityExclusive},
	}
	results, err := engine.Apply(context.Background(), "u1", "t2", triples, time.Now())
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if results[0].Kind != WriteResultSuperseded {
		t.Fatalf("Kind = %v, want superseded", results[0].Kind)
	}
	if len(store.supersedeOps) != 1 || store.supersedeOps[0].FactID != "fact-istanbul" {
		t.Errorf("supersedeOps = %+v", store.supersedeOps)
	}
	if len(store.written) != 1 || store.written[0].Object != "Ankara" || store.written[0].Status != model.FactStatusActive {
		t.Errorf("written = %+v", store.written)
	}
}

func TestScenario3ExclusiveConflict(t *testing.T) {
	store := &fakeStore{
		active: map[graphstore.SubjectPredicate]model.Fact{
			{Subject: "__USER__::u1", Predicate: "SEHIR"}: {ID: "fact-istanbul", Object: "Istanbul", Confidence: 0.9},
		},
	}
	engine := New(store, 0)

	triples := []extractor.Sanitized{
		{Subject: "__USER__::u1", Predicate: "SEHIR", Object: "Izmir", Confidence: 0.9, Type: catalog.CardinalityExclusive},
	}
	results, err := engine.Apply(context.Background(), "u1", "t3", triples, time.Now())
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if results[0].Kind != WriteResultConflicted {
		t.Fatalf("Kind = %v, want conflicted", results[0].Kind)
	}
	if len(store.conflictedIDs) != 1 || store.conflictedIDs[0] != "fact-istanbul" {
		t.Errorf("conflictedIDs = %v", store.conflictedIDs)
	}
	if len(store.written) != 1 || store.written[0].Status != model.FactStatusConflicted {
		t.Errorf("written = %+v", store.written)
	}
}

func TestApplySameObjectMerges(t *testing.T) {
	store := &fakeStore{
		active: map[graphstore.SubjectPredicate]model.Fact{
			{Subject: "__USER__::u1", Predicate: "SEHIR"}: {ID: "fact-istanbul", Object: "Istanbul", Confidence: 0.9},
		},
	}
	engine := New(store, 0)

	triples := []extractor.Sanitized{
		{Subject: "__USER__::u1", Predicate: "SEHIR", Object: "Istanbul", Confidence: 0.95, Type: catalog.CardinalityExclusive},
	}
	results, err := engine.Apply(context.Background(), "u1", "t4", triples, time.Now())
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if results[0].Kind != WriteResultMerged {
		t.Errorf("Kind = %v, want merged", results[0].Kind)
	}
	if len(store.supersedeOps) != 0 {
		t.Errorf("expected no supersede ops for same-object write, got %+v", store.supersedeOps)
	}
}

func TestApplyAdditiveAlwaysMerges(t *testing.T) {
	store := &fakeStore{active: map[graphstore.SubjectPredicate]model.Fact{}}
	engine := New(store, 0)

	triples := []extractor.Sanitized{
		{Subject: "__USER__::u1", Predicate: "SEVER", Object: "kahve", Confidence: 0.8, Type: catalog.CardinalityAdditive},
	}
	results, err := engine.Apply(context.Background(), "u1", "t5", triples, time.Now())
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if results[0].Kind != WriteResultMerged {
		t.Errorf("Kind = %v, want merged", results[0].Kind)
	}
}
