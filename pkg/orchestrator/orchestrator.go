package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/atlasagent/atlas-core/pkg/dag"
	"github.com/atlasagent/atlas-core/pkg/model"
)

// tracer emits the request-level span around Plan (spec §4.7).
// dag.RunGoverned starts no span of its own, so the planner call is not
// traced as a separate child span.
var tracer = otel.Tracer("github.com/atlasagent/atlas-core/pkg/orchestrator")

// SessionStore is the subset of pkg/graphstore.Store the orchestrator
// needs for topic hydration and persistence (spec §4.7 steps 1, 6).
type SessionStore interface {
	GetOrCreateSession(ctx context.Context, sessionID, userID string, now time.Time) (model.Session, error)
	PersistedTopic(ctx context.Context, sessionID string) (string, bool, error)
	UpdateSessionState(ctx context.Context, sessionID, topic, activeDomain string, now time.Time) error
	PersistTopicTransition(ctx context.Context, sessionID, topic string, now time.Time) error
}

// freshTopic is the session default before any topic has been detected.
const freshTopic = "Genel"

// noTransitionTopics are detected_topic values that never trigger a
// persisted transition (spec §4.7 step 6).
var noTransitionTopics = map[string]bool{"SAME": true, "CHITCHAT": true, "": true}

// Orchestrator plans a request: classify intent, hydrate topic state,
// call the planner model through the governance-list fallback shared
// with the DAG executor, and apply intent inheritance / conflict
// clarification / topic persistence.
type Orchestrator struct {
	Store SessionStore
	Pool  dag.Governance
	Gen   dag.GenerateFunc
}

// clarificationInstruction is appended to every generation and
// context_clarification task's prompt when the assembled context carries an open CONFLICTED marker (spec
// §4.7 step 5).
const clarificationInstruction = "\n\n[Not: Kullanıcının çelişen kayıtlı bilgileri var; yanıtlamadan önce netleştirici bir soru sor.]"

// Plan executes spec §4.7's seven numbered steps for one request and
// returns the structured plan plus the (possibly topic-updated) session.
func (o *Orchestrator) Plan(ctx context.Context, userID, sessionID, userMessage, contextInjection string, hasConflicts bool, now time.Time) (model.Plan, model.Session, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Plan")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("user.id", userID))

	session, err := o.Store.GetOrCreateSession(ctx, sessionID, userID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load session failed")
		return model.Plan{}, model.Session{}, fmt.Errorf("orchestrator: load session: %w", err)
	}
	if session.Topic == freshTopic {
		if topic, found, terr := o.Store.PersistedTopic(ctx, sessionID); terr == nil && found {
			session.Topic = topic
		}
	}

	history, _ := recentHistory(ctx, o.Store, sessionID)
	prompt := renderPlannerPrompt(history, userMessage, contextInjection)

	raw, err := dag.RunGoverned(ctx, o.Pool, "orchestrator", prompt, o.Gen, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "planner call failed")
		return model.Plan{}, session, fmt.Errorf("orchestrator: planner call failed: %w", err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse plan failed")
		return model.Plan{}, session, fmt.Errorf("orchestrator: parse plan: %w", err)
	}

	// Step 4: intent inheritance.
	if plan.IsFollowUp && plan.Intent == "general" {
		plan.Intent = session.ActiveDomain
	}

	// Step 5: conflict-driven clarification.
	if hasConflicts {
		for i := range plan.Tasks {
			if plan.Tasks[i].Type == model.TaskTypeGeneration || plan.Tasks[i].Type == model.TaskTypeContextClarification {
				plan.Tasks[i].Prompt += clarificationInstruction
			}
		}
		plan.UserThought = strings.TrimSpace(plan.UserThought + " [çelişen kayıt nedeniyle netleştirme istendi]")
	}

	// Step 6: topic transition, persisted asynchronously.
	if !noTransitionTopics[plan.DetectedTopic] {
		session.Topic = plan.DetectedTopic
		session.ActiveDomain = plan.Intent
		if uerr := o.Store.UpdateSessionState(ctx, sessionID, session.Topic, session.ActiveDomain, now); uerr != nil {
			return plan, session, fmt.Errorf("orchestrator: update session state: %w", uerr)
		}
		go func() {
			_ = o.Store.PersistTopicTransition(context.Background(), sessionID, plan.DetectedTopic, now)
		}()
	}

	return plan, session, nil
}

// historyReader is the narrow transcript surface needed to render the
// planner prompt; satisfied by pkg/graphstore.Store.
type historyReader interface {
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error)
}

func recentHistory(ctx context.Context, store SessionStore, sessionID string) ([]model.Turn, error) {
	if hr, ok := store.(historyReader); ok {
		return hr.RecentTurns(ctx, sessionID, 12)
	}
	return nil, nil
}

func renderPlannerPrompt(history []model.Turn, userMessage, contextInjection string) string {
	var b strings.Builder
	b.WriteString("### Geçmiş\n")
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	b.WriteString("### Bağlam\n")
	b.WriteString(contextInjection)
	b.WriteString("\n### Mesaj\n")
	b.WriteString(userMessage)
	return b.String()
}
