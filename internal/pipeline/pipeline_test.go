package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/atlasagent/atlas-core/pkg/contextbuilder"
	"github.com/atlasagent/atlas-core/pkg/dag"
	"github.com/atlasagent/atlas-core/pkg/episode"
	"github.com/atlasagent/atlas-core/pkg/keypool"
	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/synthesizer"
)

// fakeStore backs both the pipeline's own Store interface and
// contextbuilder.GraphReader, matching the narrow-interface fakes used
// throughout the other packages' tests.
type fakeStore struct {
	appended []model.Turn
	session  model.Session
}

func (f *fakeStore) GetOrCreateUser(ctx context.Context, userID string, defaultMode model.MemoryMode, now time.Time) (model.User, error) {
	return model.User{UserID: userID, MemoryMode: model.MemoryModeStandard}, nil
}

func (f *fakeStore) GetOrCreateSession(ctx context.Context, sessionID, userID string, now time.Time) (model.Session, error) {
	return f.session, nil
}

func (f *fakeStore) AppendTurn(ctx context.Context, sessionID string, turnIndex int, role model.TurnRole, content string, now time.Time) error {
	f.appended = append(f.appended, model.Turn{SessionID: sessionID, TurnIndex: turnIndex, Role: role, Content: content})
	return nil
}

func (f *fakeStore) RecurrenceExists(ctx context.Context, subject, predicate, object, userID string) (bool, error) {
	return false, nil
}

func (f *fakeStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	return nil, nil
}

func (f *fakeStore) IdentityFacts(ctx context.Context, userID, anchor string) ([]model.Fact, error) {
	return nil, nil
}

func (f *fakeStore) HardFacts(ctx context.Context, userID string, limit int) ([]model.Fact, error) {
	return nil, nil
}

func (f *fakeStore) SoftSignals(ctx context.Context, userID string, limit int) ([]model.Fact, error) {
	return nil, nil
}

func (f *fakeStore) ActiveConflicts(ctx context.Context, userID string, limit int) ([]model.Fact, error) {
	return nil, nil
}

type fakeOrchestrator struct {
	plan    model.Plan
	session model.Session
}

func (f *fakeOrchestrator) Plan(ctx context.Context, userID, sessionID, userMessage, contextInjection string, hasConflicts bool, now time.Time) (model.Plan, model.Session, error) {
	return f.plan, f.session, nil
}

type fakeGovernance struct{}

func (fakeGovernance) Available(role string, now time.Time) []keypool.Credential {
	return []keypool.Credential{{Provider: keypool.ProviderAnthropic, Model: "test-model", KeyRef: "TEST_KEY"}}
}
func (fakeGovernance) MarkCooldown(keyRef string, now time.Time, duration time.Duration) {}
func (fakeGovernance) MarkQuotaExhausted(keyRef, model string, now time.Time)             {}
func (fakeGovernance) Call(ctx context.Context, keyRef string, fn func(ctx context.Context) (string, error)) (string, error) {
	return fn(ctx)
}

func newTestRunner(store *fakeStore, orch *fakeOrchestrator, reply string) *Runner {
	gen := func(ctx context.Context, cred keypool.Credential, prompt string) (string, error) {
		return reply, nil
	}
	return &Runner{
		Store:          store,
		ContextBuilder: contextbuilder.Deps{Graph: store},
		Orchestrator:   orch,
		DAGDeps: func(userID string) dag.Deps {
			return dag.Deps{Tools: dag.ToolRegistry{}, Pool: fakeGovernance{}, Gen: gen, UserID: userID}
		},
		Synthesizer:       &synthesizer.Synthesizer{Pool: fakeGovernance{}, Gen: gen},
		DefaultMemoryMode: model.MemoryModeStandard,
		MaxContextChars:   contextbuilder.DefaultMaxTotalChars,
	}
}

func TestRunHappyPath(t *testing.T) {
	store := &fakeStore{session: model.Session{SessionID: "s1", UserID: "u1", TurnIndex: 4, Topic: "genel"}}
	orch := &fakeOrchestrator{
		plan:    model.Plan{Intent: "chitchat", DetectedTopic: "genel"},
		session: model.Session{SessionID: "s1", UserID: "u1", TurnIndex: 4, Topic: "genel"},
	}
	runner := newTestRunner(store, orch, "merhaba, nasıl yardımcı olabilirim?")

	out, err := runner.Run(context.Background(), Turn{UserID: "u1", SessionID: "s1", Message: "selam"}, time.Now())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Reply == "" {
		t.Errorf("Reply is empty")
	}
	if out.Plan.Intent != "chitchat" {
		t.Errorf("Plan.Intent = %q, want chitchat", out.Plan.Intent)
	}
	if len(store.appended) != 2 {
		t.Fatalf("appended turns = %d, want 2 (user + assistant)", len(store.appended))
	}
	if store.appended[0].Role != model.TurnRoleUser || store.appended[1].Role != model.TurnRoleAssistant {
		t.Errorf("turn roles = %v, %v, want user then assistant", store.appended[0].Role, store.appended[1].Role)
	}
	if store.appended[1].TurnIndex != store.appended[0].TurnIndex+1 {
		t.Errorf("assistant turn index should follow user turn index")
	}
}

func TestFlattenResultsPreservesPlanOrder(t *testing.T) {
	plan := model.Plan{Tasks: []model.PlanTask{{ID: "t2"}, {ID: "t1"}}}
	results := map[string]model.TaskResult{
		"t1": {TaskID: "t1", Status: model.TaskResultOK},
		"t2": {TaskID: "t2", Status: model.TaskResultError},
	}
	out := flattenResults(plan, results)
	if len(out) != 2 || out[0].TaskID != "t2" || out[1].TaskID != "t1" {
		t.Errorf("flattenResults() = %+v, want [t2, t1]", out)
	}
}

// fakeEpisodeGraph satisfies episode.GraphStore with only CreateEpisode
// exercised by maybeWindowEpisode.
type fakeEpisodeGraph struct {
	created int
}

func (f *fakeEpisodeGraph) CreateEpisode(ctx context.Context, sessionID, userID string, kind model.EpisodeKind, startTurn, endTurn int, now time.Time) (string, error) {
	f.created++
	return "ep1", nil
}
func (f *fakeEpisodeGraph) ClaimPendingEpisode(ctx context.Context, kind model.EpisodeKind, now time.Time) (model.Episode, bool, error) {
	return model.Episode{}, false, nil
}
func (f *fakeEpisodeGraph) FinalizeEpisode(ctx context.Context, episodeID string, status model.EpisodeStatus, summary string, embedding []float32, embeddingModel string, vectorStatus model.VectorStatus, vectorError string, now time.Time) error {
	return nil
}
func (f *fakeEpisodeGraph) TurnsInRange(ctx context.Context, sessionID string, start, end int) ([]model.Turn, error) {
	return nil, nil
}
func (f *fakeEpisodeGraph) RegularEpisodesInRange(ctx context.Context, sessionID string, start, end int) ([]model.Episode, error) {
	return nil, nil
}
func (f *fakeEpisodeGraph) ConsolidationCandidates(ctx context.Context, minAge time.Duration, windowSize int, now time.Time) ([][]model.Episode, error) {
	return nil, nil
}

func TestMaybeWindowEpisodeFiresOnBoundary(t *testing.T) {
	graph := &fakeEpisodeGraph{}
	runner := &Runner{EpisodeGraph: graph}

	runner.maybeWindowEpisode(context.Background(), "s1", "u1", episode.EpisodeWindow, time.Now())
	if graph.created != 1 {
		t.Errorf("created = %d, want 1 on a window boundary", graph.created)
	}
}

func TestMaybeWindowEpisodeSkipsOffBoundary(t *testing.T) {
	graph := &fakeEpisodeGraph{}
	runner := &Runner{EpisodeGraph: graph}

	runner.maybeWindowEpisode(context.Background(), "s1", "u1", episode.EpisodeWindow+1, time.Now())
	if graph.created != 0 {
		t.Errorf("created = %d, want 0 off a window boundary", graph.created)
	}
}

func TestExtractAndWriteSkipsWhenMemoryOff(t *testing.T) {
	store := &fakeStore{}
	calls := 0
	runner := &Runner{
		Store: store,
		Extractor: func(ctx context.Context, text string) (string, error) {
			calls++
			return `[]`, nil
		},
	}
	runner.extractAndWrite(context.Background(), "u1", "merhaba nasılsın bugün", "s1:0", model.User{MemoryMode: model.MemoryModeOff}, time.Now())
	if calls != 0 {
		t.Errorf("extractor called %d times, want 0 when memory mode is OFF", calls)
	}
}
