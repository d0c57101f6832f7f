// Package episode implements the Episode Pipeline (C14): creation of
// PENDING summarization windows, the worker pass that claims, summarizes,
// embeds and upserts them, and the consolidation job that re-summarizes
// runs of REGULAR episodes into a CONSOLIDATED one (spec §4.10).
package episode

import (
	"context"
	"fmt"
	"time"

	"github.com/atlasagent/atlas-core/pkg/dag"
	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/retry"
	"github.com/atlasagent/atlas-core/pkg/sharederrors"
	"github.com/atlasagent/atlas-core/pkg/vectorstore"
)

// EpisodeWindow is the default turn count per REGULAR episode boundary
// (spec §4.10: "if session.turn_count % EPISODE_WINDOW == 0").
const EpisodeWindow = 10

// MinSummaryChars below which a summary skips embedding entirely (spec
// §4.10 step 4: "If summary shorter than a minimum length -> mark READY,
// vector_status=SKIPPED").
const MinSummaryChars = 40

// ConsolidatedPrefix is written onto a CONSOLIDATED episode's vector-store
// payload text so the context builder's ranking boost (pkg/contextbuilder)
// can recognize it without a dedicated vector-store column.
const ConsolidatedPrefix = "[CONSOLIDATED]"

// GraphStore is the subset of pkg/graphstore.Store the pipeline needs.
type GraphStore interface {
	CreateEpisode(ctx context.Context, sessionID, userID string, kind model.EpisodeKind, startTurn, endTurn int, now time.Time) (string, error)
	ClaimPendingEpisode(ctx context.Context, kind model.EpisodeKind, now time.Time) (model.Episode, bool, error)
	FinalizeEpisode(ctx context.Context, episodeID string, status model.EpisodeStatus, summary string, embedding []float32, embeddingModel string, vectorStatus model.VectorStatus, vectorError string, now time.Time) error
	TurnsInRange(ctx context.Context, sessionID string, start, end int) ([]model.Turn, error)
	RegularEpisodesInRange(ctx context.Context, sessionID string, start, end int) ([]model.Episode, error)
	ConsolidationCandidates(ctx context.Context, minAge time.Duration, windowSize int, now time.Time) ([][]model.Episode, error)
}

// VectorStore is the subset of pkg/vectorstore.Store the pipeline needs.
type VectorStore interface {
	Upsert(ctx context.Context, p vectorstore.Point) error
}

// Embedder produces an embedding for a summary; the embedding model name
// is recorded alongside the vector for provenance (spec §3 Episode shape).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Summarizer calls the episodic-summary model over a turn window (spec
// §4.10 step 3), reusing the same governance-list fallback as the DAG
// executor and synthesizer.
type Summarizer struct {
	Pool dag.Governance
	Gen  dag.GenerateFunc
}

const summarizerRole = "episode_summary"

func (s *Summarizer) Summarize(ctx context.Context, turns []model.Turn, now time.Time) (string, error) {
	prompt := renderTranscriptForSummary(turns)
	return dag.RunGoverned(ctx, s.Pool, summarizerRole, prompt, s.Gen, now)
}

// SummarizeEpisodes re-summarizes a run of existing episode summaries
// into one consolidated paragraph (spec §4.10 closing paragraph: "fetches
// source summaries, re-summarizes them").
func (s *Summarizer) SummarizeEpisodes(ctx context.Context, episodes []model.Episode, now time.Time) (string, error) {
	prompt := renderSummariesForConsolidation(episodes)
	return dag.RunGoverned(ctx, s.Pool, summarizerRole, prompt, s.Gen, now)
}

func renderTranscriptForSummary(turns []model.Turn) string {
	out := "Aşağıdaki konuşmayı 2-3 cümlede özetle, önemli isim/tarih/niyetleri koru:\n"
	for _, t := range turns {
		out += fmt.Sprintf("%s: %s\n", t.Role, t.Content)
	}
	return out
}

func renderSummariesForConsolidation(episodes []model.Episode) string {
	out := "Aşağıdaki bölüm özetlerini tek bir özette birleştir, tekrarları at, önemli isim/tarih/niyetleri koru:\n"
	for _, e := range episodes {
		out += "- " + e.Summary + "\n"
	}
	return out
}

// Worker runs the claim -> summarize -> finalize loop over both REGULAR
// and CONSOLIDATED queues (spec §4.10's "same worker loop" closing note).
type Worker struct {
	Graph      GraphStore
	Vectors    VectorStore
	Embed      Embedder
	Summarizer *Summarizer
}

// MaybeCreateWindow creates a PENDING REGULAR episode when turnIndex
// lands on an EPISODE_WINDOW boundary (spec §4.10 opening sentence).
func MaybeCreateWindow(ctx context.Context, g GraphStore, sessionID, userID string, turnIndex int, now time.Time) (string, bool, error) {
	if turnIndex == 0 || turnIndex%EpisodeWindow != 0 {
		return "", false, nil
	}
	start := turnIndex - EpisodeWindow + 1
	id, err := g.CreateEpisode(ctx, sessionID, userID, model.EpisodeKindRegular, start, turnIndex, now)
	if err != nil {
		return "", false, fmt.Errorf("episode: create window: %w", err)
	}
	return id, true, nil
}

// ProcessOne claims and finalizes a single PENDING episode of kind.
// Returns ok=false when no episode was pending; this is not an error.
func (w *Worker) ProcessOne(ctx context.Context, kind model.EpisodeKind, now time.Time) (bool, error) {
	ep, ok, err := w.Graph.ClaimPendingEpisode(ctx, kind, now)
	if err != nil {
		return false, fmt.Errorf("episode: claim: %w", err)
	}
	if !ok {
		return false, nil
	}

	var summary string
	if ep.Kind == model.EpisodeKindConsolidated {
		sources, serr := w.Graph.RegularEpisodesInRange(ctx, ep.SessionID, ep.StartTurnIndex, ep.EndTurnIndex)
		if serr != nil {
			return true, w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusFailed, "", nil, "", model.VectorStatusSkipped,
				"episode: fetch source summaries: "+serr.Error(), now)
		}
		if len(sources) == 0 {
			return true, w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusFailed, "", nil, "", model.VectorStatusSkipped,
				"episode: empty consolidation source set", now)
		}
		s, serr := w.Summarizer.SummarizeEpisodes(ctx, sources, now)
		if serr != nil {
			return true, w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusFailed, "", nil, "", model.VectorStatusSkipped,
				"episode: summarize: "+serr.Error(), now)
		}
		summary = ConsolidatedPrefix + s
	} else {
		turns, terr := w.Graph.TurnsInRange(ctx, ep.SessionID, ep.StartTurnIndex, ep.EndTurnIndex)
		if terr != nil {
			return true, w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusFailed, "", nil, "", model.VectorStatusSkipped,
				"episode: fetch turns: "+terr.Error(), now)
		}
		if len(turns) == 0 {
			return true, w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusFailed, "", nil, "", model.VectorStatusSkipped,
				"episode: empty turn window", now)
		}
		s, serr := w.Summarizer.Summarize(ctx, turns, now)
		if serr != nil {
			return true, w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusFailed, "", nil, "", model.VectorStatusSkipped,
				"episode: summarize: "+serr.Error(), now)
		}
		summary = s
	}

	return true, w.finalizeWithVectors(ctx, ep, summary, now)
}

// finalizeWithVectors implements spec §4.10 step 4's branch table:
// skip embedding below the minimum length, else embed and upsert with
// bounded retry, degrading vector_status independently of the episode's
// main READY status on either failure.
func (w *Worker) finalizeWithVectors(ctx context.Context, ep model.Episode, summary string, now time.Time) error {
	if len(summary) < MinSummaryChars {
		return w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusReady, summary, nil, "", model.VectorStatusSkipped, "", now)
	}

	var embedding []float32
	embedErr := retry.Do(ctx, retry.DefaultPolicy("episode_embed"), nil, func(ctx context.Context) error {
		v, err := w.Embed.Embed(ctx, summary)
		if err != nil {
			return err
		}
		embedding = v
		return nil
	})
	if embedErr != nil {
		return w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusReady, summary, nil, "", model.VectorStatusFailed,
			"episode: embed: "+embedErr.Error(), now)
	}

	upsertErr := retry.Do(ctx, retry.DefaultPolicy("episode_vector_upsert"), nil, func(ctx context.Context) error {
		return w.Vectors.Upsert(ctx, vectorstore.Point{
			EpisodeID: ep.EpisodeID,
			UserID:    ep.UserID,
			SessionID: ep.SessionID,
			Text:      summary,
			Timestamp: now,
			Embedding: embedding,
		})
	})
	if upsertErr != nil {
		return w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusReady, summary, embedding, w.Embed.ModelName(),
			model.VectorStatusFailed, "episode: vector upsert: "+upsertErr.Error(), now)
	}

	return w.Graph.FinalizeEpisode(ctx, ep.EpisodeID, model.EpisodeStatusReady, summary, embedding, w.Embed.ModelName(),
		model.VectorStatusReady, "", now)
}

// ConsolidationWindowSize is W in spec §4.10's closing paragraph.
const ConsolidationWindowSize = 5

// ConsolidationMinAge is MIN_AGE_DAYS.
const ConsolidationMinAge = 14 * 24 * time.Hour

// Consolidate scans for runs of ConsolidationWindowSize consecutive
// REGULAR episodes older than ConsolidationMinAge and creates a
// CONSOLIDATED PENDING episode spanning each run's turn range (spec
// §4.10 closing paragraph); the worker's ordinary ProcessOne loop over
// kind=CONSOLIDATED then summarizes and finalizes them.
func Consolidate(ctx context.Context, g GraphStore, now time.Time) (int, error) {
	groups, err := g.ConsolidationCandidates(ctx, ConsolidationMinAge, ConsolidationWindowSize, now)
	if err != nil {
		return 0, sharederrors.Classify(sharederrors.KindTransientExternal, err)
	}
	created := 0
	for _, run := range groups {
		if len(run) == 0 {
			continue
		}
		first, last := run[0], run[len(run)-1]
		if _, err := g.CreateEpisode(ctx, first.SessionID, first.UserID, model.EpisodeKindConsolidated,
			first.StartTurnIndex, last.EndTurnIndex, now); err != nil {
			return created, fmt.Errorf("episode: consolidate: %w", err)
		}
		created++
	}
	return created, nil
}
