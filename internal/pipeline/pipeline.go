// Package pipeline wires one request's full round trip: context assembly
// (C10) -> intent planning (C11) -> DAG execution (C12) -> synthesis
// (C13), followed by the asynchronous fact-extraction write path (C4 ->
// C5 -> C6 -> C7) and episode-window trigger (C14). It is the
// "orchestrated request pipeline" spec §1 describes, previously only
// implicit in how the individual components compose.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlasagent/atlas-core/pkg/catalog"
	"github.com/atlasagent/atlas-core/pkg/contextbuilder"
	"github.com/atlasagent/atlas-core/pkg/dag"
	"github.com/atlasagent/atlas-core/pkg/episode"
	"github.com/atlasagent/atlas-core/pkg/extractor"
	"github.com/atlasagent/atlas-core/pkg/lifecycle"
	"github.com/atlasagent/atlas-core/pkg/memgate"
	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/policy"
	"github.com/atlasagent/atlas-core/pkg/synthesizer"
)

// Store is the subset of pkg/graphstore.Store the pipeline touches
// directly (beyond what it hands to the context builder / orchestrator /
// lifecycle engine, which each take their own narrower interfaces).
type Store interface {
	GetOrCreateUser(ctx context.Context, userID string, defaultMode model.MemoryMode, now time.Time) (model.User, error)
	GetOrCreateSession(ctx context.Context, sessionID, userID string, now time.Time) (model.Session, error)
	AppendTurn(ctx context.Context, sessionID string, turnIndex int, role model.TurnRole, content string, now time.Time) error
	RecurrenceExists(ctx context.Context, subject, predicate, object, userID string) (bool, error)
}

type orchestratorPlanner interface {
	Plan(ctx context.Context, userID, sessionID, userMessage, contextInjection string, hasConflicts bool, now time.Time) (model.Plan, model.Session, error)
}

// Runner bundles every collaborator one chat turn needs.
type Runner struct {
	Store          Store
	Policy         *policy.Gate
	ContextBuilder contextbuilder.Deps
	Orchestrator   orchestratorPlanner
	DAGDeps        func(userID string) dag.Deps
	Synthesizer    *synthesizer.Synthesizer
	Extractor      extractor.ModelCaller
	Catalog        *catalog.Catalog
	Lifecycle      *lifecycle.Engine
	EpisodeGraph   episode.GraphStore
	Logger         *zap.Logger

	DefaultMemoryMode model.MemoryMode
	MaxContextChars   int
}

// Turn is the input to Run: one user message on one session.
type Turn struct {
	UserID    string
	SessionID string
	Message   string
	StyleKey  string
}

// Outcome is everything a caller (HTTP handler, test) needs to report
// back to the user and to stream.
type Outcome struct {
	Plan        model.Plan
	TaskResults map[string]model.TaskResult
	Events      <-chan model.StreamEvent
	Reply       string
}

// Run executes spec §2's request flow: build context, plan, execute the
// DAG, synthesize a reply, append the transcript, then fire the
// background memory-write and episode-window steps without blocking the
// response (spec §5: "memory writes ... happen asynchronously after
// reply is sent").
func (r *Runner) Run(ctx context.Context, turn Turn, now time.Time) (Outcome, error) {
	user, err := r.Store.GetOrCreateUser(ctx, turn.UserID, r.DefaultMemoryMode, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: load user: %w", err)
	}

	if r.Policy != nil {
		if perr := r.Policy.Check(ctx, policy.Input{UserID: turn.UserID, Text: turn.Message}); perr != nil {
			return Outcome{}, perr
		}
	}

	maxChars := r.MaxContextChars
	if maxChars <= 0 {
		maxChars = contextbuilder.DefaultMaxTotalChars
	}
	cbResult, err := contextbuilder.Build(ctx, r.ContextBuilder, turn.UserID, turn.SessionID, turn.Message,
		contextbuilder.Policy{Mode: user.MemoryMode}, maxChars)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: build context: %w", err)
	}

	// Snapshot the session's topic before planning: Plan mutates it
	// in-place on a transition, so this is the only place the
	// synthesizer's topic-transition directive can see the prior value.
	preTopic, err := r.Store.GetOrCreateSession(ctx, turn.SessionID, turn.UserID, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: snapshot session: %w", err)
	}

	plan, session, err := r.Orchestrator.Plan(ctx, turn.UserID, turn.SessionID, turn.Message, cbResult.Context, cbResult.Trace.HasConflicts, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: plan: %w", err)
	}

	results, events, err := dag.Execute(ctx, plan, r.DAGDeps(turn.UserID), now)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: execute plan: %w", err)
	}

	identityFacts, moodFacts := r.identityAndMoodFacts(ctx, turn.UserID)
	synthInput := synthesizer.Input{
		SessionID:        turn.SessionID,
		UserID:           turn.UserID,
		Intent:           plan.Intent,
		UserMessage:      turn.Message,
		StyleKey:         turn.StyleKey,
		Topic:            session.Topic,
		PreviousTopic:    preTopic.Topic,
		SessionTurnCount: session.TurnIndex,
		HasConflicts:     cbResult.Trace.HasConflicts,
		ContextInjection: cbResult.Context,
		IdentityFacts:    identityFacts,
		MoodFacts:        moodFacts,
		Results:          flattenResults(plan, results),
		Now:              now,
	}
	reply, err := r.Synthesizer.Synthesize(ctx, synthInput)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: synthesize: %w", err)
	}

	turnIndex := session.TurnIndex
	if err := r.Store.AppendTurn(ctx, turn.SessionID, turnIndex, model.TurnRoleUser, turn.Message, now); err != nil {
		return Outcome{}, fmt.Errorf("pipeline: append user turn: %w", err)
	}
	turnIndex++
	if err := r.Store.AppendTurn(ctx, turn.SessionID, turnIndex, model.TurnRoleAssistant, reply, now); err != nil {
		return Outcome{}, fmt.Errorf("pipeline: append assistant turn: %w", err)
	}

	sourceTurnID := fmt.Sprintf("%s:%d", turn.SessionID, turnIndex-1)
	go r.extractAndWrite(context.Background(), turn.UserID, turn.Message, sourceTurnID, user, now)
	go r.maybeWindowEpisode(context.Background(), turn.SessionID, turn.UserID, turnIndex, now)

	return Outcome{Plan: plan, TaskResults: results, Events: events, Reply: reply}, nil
}

// flattenResults orders the DAG's per-task result map back into plan
// task order so the synthesizer's "### Ara Sonuçlar" section reads
// top-to-bottom the way the plan was written, rather than map order.
func flattenResults(plan model.Plan, results map[string]model.TaskResult) []model.TaskResult {
	out := make([]model.TaskResult, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if res, ok := results[t.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}

// identityFactReader is the narrow surface the pipeline needs to
// pre-fetch identity/mood facts for the synthesizer's memory-voice
// preamble, matching spec §3's RequestContext description ("carries ...
// pre-fetched identity facts").
type identityFactReader interface {
	IdentityFacts(ctx context.Context, userID, anchor string) ([]model.Fact, error)
	SoftSignals(ctx context.Context, userID string, limit int) ([]model.Fact, error)
}

func (r *Runner) identityAndMoodFacts(ctx context.Context, userID string) (identity, mood []model.Fact) {
	g, ok := r.ContextBuilder.Graph.(identityFactReader)
	if !ok {
		return nil, nil
	}
	anchor := model.AnchorName(userID)
	identity, _ = g.IdentityFacts(ctx, userID, anchor)
	soft, _ := g.SoftSignals(ctx, userID, 20)
	for _, f := range soft {
		if f.Predicate == synthesizer.MoodPredicate {
			mood = append(mood, f)
		}
	}
	return identity, mood
}

// extractAndWrite runs C4 -> C5 -> C6 in the background: extraction
// failures never propagate to the user-facing request (spec §7
// ExtractorParse: "treat as empty extraction; do not poison the graph").
func (r *Runner) extractAndWrite(ctx context.Context, userID, rawText, sourceTurnID string, user model.User, now time.Time) {
	logger := r.loggerOrNop()
	if user.MemoryMode == model.MemoryModeOff {
		return
	}
	if r.Extractor == nil || r.Lifecycle == nil {
		return
	}

	sanitized, err := extractor.Extract(ctx, r.Extractor, rawText, userID, r.Catalog)
	if err != nil {
		logger.Warn("extraction failed", zap.Error(err), zap.String("user_id", userID))
		return
	}
	if len(sanitized) == 0 {
		return
	}

	mwgPolicy := memgate.Policy{WriteEnabled: user.MemoryMode != model.MemoryModeOff}
	recurrence := func(subject, predicate, object, uid string) (bool, error) {
		return r.Store.RecurrenceExists(ctx, subject, predicate, object, uid)
	}
	_, longTerm, err := memgate.EvaluateBatch(sanitized, mwgPolicy, rawText, recurrence, userID, memgate.DefaultThresholds)
	if err != nil {
		logger.Warn("memory write gate failed", zap.Error(err))
		return
	}
	if len(longTerm) == 0 {
		return
	}

	if _, err := r.Lifecycle.Apply(ctx, userID, sourceTurnID, longTerm, now); err != nil {
		logger.Warn("lifecycle apply failed", zap.Error(err), zap.String("user_id", userID))
	}
}

// maybeWindowEpisode implements spec §4.10's trigger: "after each
// assistant turn, if session.turn_count % EPISODE_WINDOW == 0, create a
// PENDING Episode node".
func (r *Runner) maybeWindowEpisode(ctx context.Context, sessionID, userID string, turnIndex int, now time.Time) {
	if r.EpisodeGraph == nil {
		return
	}
	if _, created, err := episode.MaybeCreateWindow(ctx, r.EpisodeGraph, sessionID, userID, turnIndex, now); err != nil {
		r.loggerOrNop().Warn("episode window creation failed", zap.Error(err), zap.String("session_id", sessionID))
	} else if created {
		r.loggerOrNop().Debug("episode window created", zap.String("session_id", sessionID), zap.Int("turn_index", turnIndex))
	}
}

func (r *Runner) loggerOrNop() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}
