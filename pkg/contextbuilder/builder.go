// Package contextbuilder implements the Context Builder (C10): a
// budgeted, deduplicated assembly of transcript, episodic, and semantic
// layers into the single context string injected ahead of the
// synthesizer (spec §4.6).
package contextbuilder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atlasagent/atlas-core/pkg/identity"
	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/vectorstore"
)

// DefaultMaxTotalChars is B_total from spec invariant 7.
const DefaultMaxTotalChars = 6000

const (
	maxTranscriptTurns = 12
	maxEpisodes        = 10
	maxIdentityLines   = 10
	maxHardLines       = 20
	maxSoftLines       = 20
	maxOpenQuestions   = 10
	consolidatedBoost  = 1.1
)

// GraphReader is the subset of pkg/graphstore.Store the builder reads
// from, named narrowly so callers can fake it in tests without a mock
// SQL driver.
type GraphReader interface {
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]model.Turn, error)
	IdentityFacts(ctx context.Context, userID, anchor string) ([]model.Fact, error)
	HardFacts(ctx context.Context, userID string, limit int) ([]model.Fact, error)
	SoftSignals(ctx context.Context, userID string, limit int) ([]model.Fact, error)
	ActiveConflicts(ctx context.Context, userID string, limit int) ([]model.Fact, error)
}

// EpisodicReader is the subset of pkg/vectorstore.Store the builder
// reads from.
type EpisodicReader interface {
	SearchByUser(ctx context.Context, userID, excludeSessionID string, query []float32, topK int) ([]vectorstore.Point, error)
}

// Embedder produces the query-side embedding for episodic ranking; a nil
// Embedder (or an error from it) degrades gracefully to transcript+
// semantic only, matching the VectorStoreDegraded handling of spec §7.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Policy is the per-user configuration the builder honors.
type Policy struct {
	Mode                  model.MemoryMode
	BypassMemoryInjection bool // BYPASS_MEMORY_INJECTION kill-switch (spec §4.6 closing note)
}

// Trace is the per-request debug record (RDR) populated by Build: per-
// layer char counts, selected IDs, scoring details, and timings (spec
// §4.6 step 10).
type Trace struct {
	Intent            Intent
	Weights           LayerWeights
	TranscriptChars   int
	EpisodicChars     int
	SemanticChars     int
	TranscriptTurnIDs []string
	EpisodeIDs        []string
	IdentityFactIDs   []string
	HardFactIDs       []string
	SoftFactIDs       []string
	ConflictFactIDs   []string
	HasConflicts      bool
	BuildDuration     time.Duration
}

// Result is the builder's output: the assembled string plus its trace.
type Result struct {
	Context string
	Trace   Trace
}

// Deps bundles the builder's read-side collaborators.
type Deps struct {
	Graph    GraphReader
	Episodic EpisodicReader
	Embed    Embedder
}

// offStubContext is returned verbatim when policy.Mode == OFF (spec §4.6
// step 1: "OFF short-circuits personal memory and returns a stub").
const offStubContext = "### Yakın Geçmiş\n(bellek kapalı)\n"

// Build assembles the bounded context string for one request, following
// spec §4.6's ten numbered steps.
func Build(ctx context.Context, deps Deps, userID, sessionID, userMessage string, policy Policy, maxTotalChars int) (Result, error) {
	start := time.Now()
	if maxTotalChars <= 0 {
		maxTotalChars = DefaultMaxTotalChars
	}

	if policy.Mode == model.MemoryModeOff {
		return Result{
			Context: offStubContext,
			Trace:   Trace{BuildDuration: time.Since(start)},
		}, nil
	}

	intent := ClassifyIntent(userMessage)
	weights := WeightsFor(intent, policy.BypassMemoryInjection)
	trace := Trace{Intent: intent, Weights: weights}

	if policy.BypassMemoryInjection {
		turns, err := recentTurns(ctx, deps.Graph, sessionID)
		if err != nil {
			return Result{}, err
		}
		section := formatTranscript(turns)
		trace.TranscriptChars = len(section)
		for _, t := range turns {
			trace.TranscriptTurnIDs = append(trace.TranscriptTurnIDs, turnID(t))
		}
		trace.BuildDuration = time.Since(start)
		return Result{Context: section, Trace: trace}, nil
	}

	transcriptBudget := int(weights.Transcript * float64(maxTotalChars))
	episodicBudget := int(weights.Episodic * float64(maxTotalChars))
	semanticBudget := int(weights.Semantic * float64(maxTotalChars))

	turns, err := recentTurns(ctx, deps.Graph, sessionID)
	if err != nil {
		return Result{}, err
	}

	episodes := rankedEpisodes(ctx, deps, userID, sessionID, userMessage, episodicBudget)

	var identityFacts, hardFacts, softFacts, conflicts []model.Fact
	if deps.Graph != nil {
		anchor := model.AnchorName(userID)
		identityFacts, _ = deps.Graph.IdentityFacts(ctx, userID, anchor)
		hardFacts, _ = deps.Graph.HardFacts(ctx, userID, maxHardLines)
		softFacts, _ = deps.Graph.SoftSignals(ctx, userID, maxSoftLines)
		conflicts, _ = deps.Graph.ActiveConflicts(ctx, userID, maxOpenQuestions)
	}

	seen := newDedupSet()
	identityLines := dedupFacts(seen, identityFacts, maxIdentityLines)
	hardLines := dedupFacts(seen, hardFacts, maxHardLines)
	softLines := dedupFacts(seen, softFacts, maxSoftLines)
	conflictLines := dedupFacts(seen, conflicts, maxOpenQuestions)
	transcriptLines := dedupTranscript(seen, turns)
	episodicLines := dedupEpisodes(seen, episodes)

	transcriptSection := truncateToBudget(formatTranscriptLines(transcriptLines), transcriptBudget)
	episodicSection := truncateToBudget(formatEpisodes(episodicLines), episodicBudget)
	semanticSection := truncateToBudget(
		formatSemantic(identityLines, hardLines, softLines, conflictLines), semanticBudget)

	trace.TranscriptChars = len(transcriptSection)
	trace.EpisodicChars = len(episodicSection)
	trace.SemanticChars = len(semanticSection)
	trace.HasConflicts = len(conflictLines) > 0
	for _, t := range turns {
		trace.TranscriptTurnIDs = append(trace.TranscriptTurnIDs, turnID(t))
	}
	for _, e := range episodes {
		trace.EpisodeIDs = append(trace.EpisodeIDs, e.point.EpisodeID)
	}
	for _, f := range identityFacts {
		trace.IdentityFactIDs = append(trace.IdentityFactIDs, f.ID)
	}
	for _, f := range hardFacts {
		trace.HardFactIDs = append(trace.HardFactIDs, f.ID)
	}
	for _, f := range softFacts {
		trace.SoftFactIDs = append(trace.SoftFactIDs, f.ID)
	}
	for _, f := range conflicts {
		trace.ConflictFactIDs = append(trace.ConflictFactIDs, f.ID)
	}

	var b strings.Builder
	if len(conflictLines) > 0 {
		b.WriteString("[ÇÖZÜLMESİ GEREKEN DURUM]\n")
	}
	if semanticSection != "" {
		b.WriteString(semanticSection)
	}
	if episodicSection != "" {
		b.WriteString("### İlgili Geçmiş Bölümler\n")
		b.WriteString(episodicSection)
	}
	if transcriptSection != "" {
		b.WriteString("### Yakın Geçmiş\n")
		b.WriteString(transcriptSection)
	}
	if hint := dstReferenceHint(userMessage, identityFacts, hardFacts, softFacts); hint != "" {
		b.WriteString(hint)
	}

	full := b.String()
	if len(full) > maxTotalChars {
		full = truncateToBudget(full, maxTotalChars)
	}
	trace.BuildDuration = time.Since(start)

	return Result{Context: full, Trace: trace}, nil
}

func recentTurns(ctx context.Context, g GraphReader, sessionID string) ([]model.Turn, error) {
	if g == nil {
		return nil, nil
	}
	return g.RecentTurns(ctx, sessionID, maxTranscriptTurns)
}

type scoredEpisode struct {
	point vectorstore.Point
	score float64
}

// rankedEpisodes implements spec §4.6 step 5's episodic layer: up to 10
// READY episodes excluding the current session, ranked by cosine
// similarity with a 1.1x boost for CONSOLIDATED kind. Consolidated-kind
// detection is payload-text-based since the vector store only carries
// episode_id/text/timestamp (spec §4.10's payload shape) — the boost is
// applied by the caller (pkg/episode) tagging consolidated summaries,
// recognized here by a leading "[CONSOLIDATED]" marker it writes.
func rankedEpisodes(ctx context.Context, deps Deps, userID, sessionID, userMessage string, budget int) []scoredEpisode {
	if deps.Episodic == nil || budget <= 0 {
		return nil
	}
	var query []float32
	if deps.Embed != nil {
		if v, err := deps.Embed(ctx, userMessage); err == nil {
			query = v
		}
	}
	points, err := deps.Episodic.SearchByUser(ctx, userID, sessionID, query, maxEpisodes)
	if err != nil {
		return nil
	}
	out := make([]scoredEpisode, 0, len(points))
	for _, p := range points {
		score := vectorstore.Cosine(p.Embedding, query)
		if strings.HasPrefix(p.Text, "[CONSOLIDATED]") {
			score *= consolidatedBoost
		}
		out = append(out, scoredEpisode{point: p, score: score})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].score < out[j].score; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	if len(out) > maxEpisodes {
		out = out[:maxEpisodes]
	}
	return out
}

func turnID(t model.Turn) string {
	return fmt.Sprintf("%s#%d", t.SessionID, t.TurnIndex)
}

// dedupSet implements spec §4.6 step 6: normalize (lowercase, collapse
// whitespace, strip role/predicate prefixes) and drop repeats across
// layers.
type dedupSet struct {
	seen map[string]bool
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: map[string]bool{}}
}

var rolePrefixRe = regexp.MustCompile(`^(user|assistant|kullanıcı|asistan)\s*:\s*`)
var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeForDedup(s string) string {
	n := strings.ToLower(strings.TrimSpace(s))
	n = rolePrefixRe.ReplaceAllString(n, "")
	n = whitespaceRe.ReplaceAllString(n, " ")
	return n
}

func (d *dedupSet) claim(s string) bool {
	key := normalizeForDedup(s)
	if key == "" || d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func dedupFacts(seen *dedupSet, facts []model.Fact, limit int) []model.Fact {
	out := make([]model.Fact, 0, limit)
	for _, f := range facts {
		if len(out) >= limit {
			break
		}
		line := fmt.Sprintf("%s %s %s", f.Subject, f.Predicate, f.Object)
		if seen.claim(line) {
			out = append(out, f)
		}
	}
	return out
}

func dedupTranscript(seen *dedupSet, turns []model.Turn) []model.Turn {
	out := make([]model.Turn, 0, len(turns))
	for _, t := range turns {
		if seen.claim(string(t.Role) + ": " + t.Content) {
			out = append(out, t)
		}
	}
	return out
}

func dedupEpisodes(seen *dedupSet, episodes []scoredEpisode) []scoredEpisode {
	out := make([]scoredEpisode, 0, len(episodes))
	for _, e := range episodes {
		if seen.claim(e.point.Text) {
			out = append(out, e)
		}
	}
	return out
}

func formatTranscript(turns []model.Turn) string {
	return formatTranscriptLines(turns)
}

func formatTranscriptLines(turns []model.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

func formatEpisodes(episodes []scoredEpisode) string {
	if len(episodes) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range episodes {
		fmt.Fprintf(&b, "- %s\n", strings.TrimPrefix(e.point.Text, "[CONSOLIDATED]"))
	}
	return b.String()
}

func formatSemantic(identity, hard, soft, conflicts []model.Fact) string {
	var b strings.Builder
	if len(identity) > 0 {
		b.WriteString("### Kullanıcı Profili\n")
		for _, f := range identity {
			fmt.Fprintf(&b, "- %s: %s\n", f.Predicate, f.Object)
		}
	}
	if len(hard) > 0 {
		b.WriteString("### Sert Gerçekler\n")
		for _, f := range hard {
			fmt.Fprintf(&b, "- %s %s %s\n", f.Subject, f.Predicate, f.Object)
		}
	}
	if len(soft) > 0 {
		b.WriteString("### Yumuşak Sinyaller\n")
		for _, f := range soft {
			fmt.Fprintf(&b, "- %s %s %s (güven: %.2f)\n", f.Subject, f.Predicate, f.Object, f.Confidence)
		}
	}
	if len(conflicts) > 0 {
		b.WriteString("### Açık Sorular\n")
		for _, f := range conflicts {
			fmt.Fprintf(&b, "- %s %s ? (daha önce: %s)\n", f.Subject, f.Predicate, f.Object)
		}
	}
	return b.String()
}

// truncateToBudget cuts s to at most budget bytes without splitting a
// multibyte UTF-8 rune: it backs off to the previous rune boundary rather
// than slicing mid-codepoint, which would otherwise emit an invalid
// trailing byte into the assembled context. A non-positive budget leaves
// s unchanged.
func truncateToBudget(s string, budget int) string {
	if budget <= 0 || len(s) <= budget {
		return s
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// pronounTokens are third-person Turkish pronoun forms (not part of
// identity.Classify's vocabulary): their presence in the user's message
// is the trigger for a DST
// reference hint (spec §4.6 step 8).
var pronounTokens = []string{"o ", "onu", "onun", "ona", "onlar"}

func dstReferenceHint(userMessage string, layers ...[]model.Fact) string {
	lower := strings.ToLower(userMessage)
	hasPronoun := false
	for _, p := range pronounTokens {
		if strings.Contains(lower, p) {
			hasPronoun = true
			break
		}
	}
	if !hasPronoun {
		return ""
	}
	for _, facts := range layers {
		for _, f := range facts {
			if identity.IsAnchorName(f.Subject) {
				continue
			}
			return fmt.Sprintf("[DST_REFERENCE] %s\n", f.Subject)
		}
	}
	return ""
}
