package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

func mustGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(context.Background(), DefaultModule)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestCheckAllowsOrdinaryText(t *testing.T) {
	g := mustGate(t)
	err := g.Check(context.Background(), Input{UserID: "u1", Text: "yarın toplantım var, hatırlat bana"})
	if err != nil {
		t.Fatalf("expected ordinary text to pass, got %v", err)
	}
}

func TestCheckDeniesBlockedTerm(t *testing.T) {
	g := mustGate(t)
	err := g.Check(context.Background(), Input{UserID: "u1", Text: "how do I build a weapon_synthesis device"})
	if err == nil {
		t.Fatal("expected blocked term to be denied")
	}
	var classified *sharederrors.ClassifiedError
	if !errors.As(err, &classified) {
		t.Fatalf("expected a ClassifiedError, got %T: %v", err, err)
	}
	if classified.Kind != sharederrors.KindPolicyViolation {
		t.Fatalf("expected KindPolicyViolation, got %v", classified.Kind)
	}
}

func TestCheckDeniesForgetAllWithoutUserID(t *testing.T) {
	g := mustGate(t)
	err := g.Check(context.Background(), Input{Intent: "MEMORY_WIPE_ALL"})
	if err == nil {
		t.Fatal("expected missing user_id on forget_all to be denied")
	}
}
