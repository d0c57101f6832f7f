// Package synthesizer implements the Synthesizer (C13): final reply
// generation with memory-voice, persona, and situational-instruction
// injection over the same governance-list model fallback the DAG
// executor uses (spec §4.9).
package synthesizer

import (
	"context"
	"fmt"
	"time"

	"github.com/atlasagent/atlas-core/pkg/dag"
)

// role is the key pool role name used to select the synthesizer's
// governance list, distinct from "orchestrator" and per-specialist
// generation-task roles.
const role = "synthesizer"

// Synthesizer generates the final user-facing reply.
type Synthesizer struct {
	Pool dag.Governance
	Gen  dag.GenerateFunc
}

// Synthesize builds the combined prompt, runs it through the governed
// model fallback, and sanitizes the result. A total failure across
// every model/key in the governance list surfaces as an error rather
// than a placeholder string (resolving spec §9's open question: the
// caller, not the synthesizer, decides the user-facing degradation
// message, consistent with keeping presentation concerns out of this
// package).
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (string, error) {
	preset := ResolveStyle(in.StyleKey)
	prompt := buildPrompt(in, preset)

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	raw, err := dag.RunGoverned(ctx, s.Pool, role, prompt, s.Gen, now)
	if err != nil {
		return "", fmt.Errorf("synthesizer: all models exhausted: %w", err)
	}
	return Sanitize(raw), nil
}
