// Package policy implements the input safety gate referenced by spec §4.4
// (extraction) and §4.7 (planning): a small set of deny rules evaluated with
// Open Policy Agent's embeddable Rego engine, so the deny rules live in data
// rather than Go conditionals and can be extended without a redeploy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// defaultQuery reads the `deny` set of reason strings from package
// atlas.policy; every module passed to New must define its rules there.
const defaultQuery = "data.atlas.policy.deny"

// Input is the subset of a turn the gate evaluates. internal/pipeline
// calls Check on the raw user message (UserID and Text) before building
// context; it leaves Intent empty.
type Input struct {
	UserID  string `json:"user_id"`
	Text    string `json:"text"`
	Intent  string `json:"intent,omitempty"`
}

// Gate wraps a compiled Rego query. Build once at startup via New and reuse
// across requests; rego.PreparedEvalQuery is safe for concurrent use.
type Gate struct {
	query rego.PreparedEvalQuery
}

// New compiles one deny-rule module. module is the Rego source directly (callers load it from disk or embed it; this
// package takes the already-read source so it carries no filesystem
// dependency of its own).
func New(ctx context.Context, module string) (*Gate, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.Module("atlas_policy.rego", module),
	)
	q, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile rego module: %w", err)
	}
	return &Gate{query: q}, nil
}

// Check evaluates in against the deny rule set. A non-empty result means at
// least one deny rule matched; Check returns a KindPolicyViolation
// ClassifiedError naming the first matching reason.
func (g *Gate) Check(ctx context.Context, in Input) error {
	results, err := g.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"user_id": in.UserID,
		"text":    in.Text,
		"intent":  in.Intent,
	}))
	if err != nil {
		return sharederrors.Classify(sharederrors.KindTransientExternal,
			sharederrors.FailedToWithDetails("evaluate_policy", "policy", in.UserID, err))
	}
	reasons := extractReasons(results)
	if len(reasons) == 0 {
		return nil
	}
	return sharederrors.Classify(sharederrors.KindPolicyViolation,
		fmt.Errorf("policy: denied: %s", reasons[0]))
}

func extractReasons(results rego.ResultSet) []string {
	var reasons []string
	for _, r := range results {
		for _, expr := range r.Expressions {
			switch v := expr.Value.(type) {
			case []interface{}:
				for _, item := range v {
					if s, ok := item.(string); ok {
						reasons = append(reasons, s)
					}
				}
			case string:
				reasons = append(reasons, v)
			}
		}
	}
	return reasons
}
