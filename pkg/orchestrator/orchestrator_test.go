package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/atlasagent/atlas-core/pkg/keypool"
	"github.com/atlasagent/atlas-core/pkg/model"
)

type fakeSessionStore struct {
	session         model.Session
	persistedTopic  string
	persistedFound  bool
	turns           []model.Turn
	updatedTopic    string
	updatedDomain   string
	transitionTopic string
}

func (f *fakeSessionStore) GetOrCreateSession(ctx context.Context, sessionID, userID string, now time.Time) (model.Session, error) {
	return f.session, nil
}
func (f *fakeSessionStore) PersistedTopic(ctx context.Context, sessionID string) (string, bool, error) {
	return f.persistedTopic, f.persistedFound, nil
}
func (f *fakeSessionStore) UpdateSessionState(ctx context.Context, sessionID, topic, activeDomain string, now time.Time) error {
	f.updatedTopic = topic
	f.updatedDomain = activeDomain
	return nil
}
func (f *fakeSessionStore) PersistTopicTransition(ctx context.Context, sessionID, topic string, now time.Time) error {
	f.transitionTopic = topic
	return nil
}
func (f *fakeSessionStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	return f.turns, nil
}

type fakeGovernance struct{ creds []keypool.Credential }

func (f *fakeGovernance) Available(role string, now time.Time) []keypool.Credential { return f.creds }
func (f *fakeGovernance) MarkCooldown(keyRef string, now time.Time, d time.Duration)  {}
func (f *fakeGovernance) MarkQuotaExhausted(keyRef, mdl string, now time.Time)         {}
func (f *fakeGovernance) Call(ctx context.Context, keyRef string, fn func(ctx context.Context) (string, error)) (string, error) {
	return fn(ctx)
}

func basicPlanJSON(intent string, isFollowUp bool, detectedTopic string) string {
	return `{"intent":"` + intent + `","is_follow_up":` + boolStr(isFollowUp) + `,"detected_topic":"` + detectedTopic + `",` +
		`"tasks":[{"id":"t1","type":"generation","prompt":"merhaba"}]}`
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func newOrchestrator(store *fakeSessionStore, plan string) *Orchestrator {
	gov := &fakeGovernance{creds: []keypool.Credential{{Provider: keypool.ProviderAnthropic, Model: "m1", KeyRef: "k1"}}}
	gen := func(ctx context.Context, cred keypool.Credential, prompt string) (string, error) {
		return plan, nil
	}
	return &Orchestrator{Store: store, Pool: gov, Gen: gen}
}

func TestPlanHydratesPersistedTopicOnFreshSession(t *testing.T) {
	store := &fakeSessionStore{
		session:        model.Session{SessionID: "s1", UserID: "u1", Topic: freshTopic},
		persistedTopic: "Tatil Planı",
		persistedFound: true,
	}
	o := newOrchestrator(store, basicPlanJSON("personal", false, "SAME"))

	_, session, err := o.Plan(context.Background(), "u1", "s1", "merhaba", "", false, time.Now())
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if session.Topic != "Tatil Planı" {
		t.Fatalf("expected hydrated topic, got %q", session.Topic)
	}
}

func TestPlanInheritsIntentOnGeneralFollowUp(t *testing.T) {
	store := &fakeSessionStore{
		session: model.Session{SessionID: "s1", UserID: "u1", Topic: "Tatil Planı", ActiveDomain: "travel"},
	}
	o := newOrchestrator(store, basicPlanJSON("general", true, "SAME"))

	plan, _, err := o.Plan(context.Background(), "u1", "s1", "peki ya otel?", "", false, time.Now())
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if plan.Intent != "travel" {
		t.Fatalf("expected inherited intent 'travel', got %q", plan.Intent)
	}
}

func TestPlanInjectsClarificationOnConflicts(t *testing.T) {
	store := &fakeSessionStore{session: model.Session{SessionID: "s1", UserID: "u1", Topic: freshTopic}}
	o := newOrchestrator(store, basicPlanJSON("personal", false, "SAME"))

	plan, _, err := o.Plan(context.Background(), "u1", "s1", "merhaba", "", true, time.Now())
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if len(plan.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(plan.Tasks))
	}
	if got := plan.Tasks[0].Prompt; got == "merhaba" {
		t.Fatal("expected clarification instruction appended to prompt")
	}
	if plan.UserThought == "" {
		t.Fatal("expected UserThought annotation on conflict")
	}
}

func TestPlanPersistsTopicTransition(t *testing.T) {
	store := &fakeSessionStore{session: model.Session{SessionID: "s1", UserID: "u1", Topic: "Genel"}}
	o := newOrchestrator(store, basicPlanJSON("travel", false, "Tatil Planı"))

	_, session, err := o.Plan(context.Background(), "u1", "s1", "tatile çıkıyorum", "", false, time.Now())
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if session.Topic != "Tatil Planı" {
		t.Fatalf("expected session topic updated, got %q", session.Topic)
	}
	if store.updatedTopic != "Tatil Planı" || store.updatedDomain != "travel" {
		t.Fatalf("expected UpdateSessionState called with new topic/domain, got %q/%q", store.updatedTopic, store.updatedDomain)
	}
	// PersistTopicTransition runs in a goroutine; give it a moment.
	time.Sleep(20 * time.Millisecond)
	if store.transitionTopic != "Tatil Planı" {
		t.Fatalf("expected async PersistTopicTransition, got %q", store.transitionTopic)
	}
}

func TestPlanSkipsTransitionForSameOrChitchat(t *testing.T) {
	store := &fakeSessionStore{session: model.Session{SessionID: "s1", UserID: "u1", Topic: "Tatil Planı", ActiveDomain: "travel"}}
	o := newOrchestrator(store, basicPlanJSON("travel", true, "CHITCHAT"))

	_, session, err := o.Plan(context.Background(), "u1", "s1", "haha", "", false, time.Now())
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if session.Topic != "Tatil Planı" {
		t.Fatalf("expected topic unchanged, got %q", session.Topic)
	}
	if store.updatedTopic != "" {
		t.Fatalf("expected no UpdateSessionState call, got %q", store.updatedTopic)
	}
}

func TestParsePlanRejectsForwardDependency(t *testing.T) {
	_, err := ParsePlan(`{"tasks":[{"id":"t1","type":"generation","dependencies":["t2"]},{"id":"t2","type":"tool"}]}`)
	if err == nil {
		t.Fatal("expected error for forward dependency reference")
	}
}

func TestParsePlanAcceptsPlanKeyAlias(t *testing.T) {
	plan, err := ParsePlan(`{"plan":[{"id":"t1","type":"tool","tool_name":"weather"}]}`)
	if err != nil {
		t.Fatalf("ParsePlan error: %v", err)
	}
	if len(plan.Tasks) != 1 || plan.Tasks[0].ToolName != "weather" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}
