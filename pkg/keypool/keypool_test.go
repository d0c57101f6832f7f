package keypool

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func testRoles() map[string][]Credential {
	return map[string][]Credential{
		"orchestrator": {
			{Provider: ProviderAnthropic, Model: "claude-orchestrator", KeyRef: "ANTHROPIC_KEY_1"},
			{Provider: ProviderBedrock, Model: "bedrock-orchestrator", KeyRef: "BEDROCK_KEY_1"},
		},
	}
}

func TestAvailableReturnsAllWhenFresh(t *testing.T) {
	p := New(testRoles())
	now := time.Now()
	avail := p.Available("orchestrator", now)
	if len(avail) != 2 {
		t.Fatalf("Available() = %d creds, want 2", len(avail))
	}
}

func TestMarkCooldownExcludesKey(t *testing.T) {
	p := New(testRoles())
	now := time.Now()
	p.MarkCooldown("ANTHROPIC_KEY_1", now, time.Minute)

	avail := p.Available("orchestrator", now)
	if len(avail) != 1 {
		t.Fatalf("Available() = %d, want 1", len(avail))
	}
	if avail[0].KeyRef != "BEDROCK_KEY_1" {
		t.Errorf("expected bedrock key to remain, got %q", avail[0].KeyRef)
	}

	later := now.Add(2 * time.Minute)
	if got := len(p.Available("orchestrator", later)); got != 2 {
		t.Errorf("after cooldown expiry Available() = %d, want 2", got)
	}
}

func TestMarkQuotaExhaustedIsPerModel(t *testing.T) {
	p := New(testRoles())
	now := time.Now()
	p.MarkQuotaExhausted("ANTHROPIC_KEY_1", "claude-orchestrator", now)

	avail := p.Available("orchestrator", now)
	if len(avail) != 1 {
		t.Fatalf("Available() = %d, want 1", len(avail))
	}

	tomorrow := now.Add(25 * time.Hour)
	if got := len(p.Available("orchestrator", tomorrow)); got != 2 {
		t.Errorf("after daily boundary Available() = %d, want 2", got)
	}
}

func TestCallPassesThroughOnSuccess(t *testing.T) {
	p := New(testRoles())
	out, err := p.Call(context.Background(), "ANTHROPIC_KEY_1", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || out != "ok" {
		t.Fatalf("Call() = (%q, %v), want (ok, nil)", out, err)
	}
}

func TestCallPropagatesUnderlyingError(t *testing.T) {
	p := New(testRoles())
	boom := fmt.Errorf("boom")
	_, err := p.Call(context.Background(), "ANTHROPIC_KEY_1", func(ctx context.Context) (string, error) {
		return "", boom
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
