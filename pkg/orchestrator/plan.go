// Package orchestrator implements the Orchestrator (C11): intent
// classification into a structured DAG Plan, plus topic-state hydration
// and persistence across a session (spec §4.7).
package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// planTasksQuery extracts the tasks array permissively, mirroring the
// extractor's gojq-based tolerance for a planner that wraps its output
// differently across prompt revisions.
var planTasksQuery = mustParseJQ(`
	if has("tasks") then .tasks
	elif has("plan") then .plan
	else []
	end
`)

func mustParseJQ(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(err)
	}
	return q
}

// rawPlan is the permissively-decoded JSON envelope before validation.
type rawPlan struct {
	Intent         string                 `json:"intent"`
	IsFollowUp     bool                   `json:"is_follow_up"`
	RewrittenQuery string                 `json:"rewritten_query"`
	UserThought    string                 `json:"user_thought"`
	Reasoning      string                 `json:"reasoning"`
	DetectedTopic  string                 `json:"detected_topic"`
	Tasks          []map[string]interface{} `json:"-"`
}

// ParsePlan decodes the planner model's raw JSON text into a validated
// model.Plan, rejecting ill-formed plans rather than propagating maps
// (design note 9): every task must have a non-empty id and a type drawn
// from the tagged union, and dependencies must reference only task ids
// declared earlier in the same plan.
func ParsePlan(raw string) (model.Plan, error) {
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return model.Plan{}, sharederrors.Classify(sharederrors.KindExtractorParse,
			fmt.Errorf("orchestrator: planner output is not valid JSON: %w", err))
	}

	var rp rawPlan
	// Re-marshal just the scalar fields through json so field names line
	// up; tasks are pulled out separately via gojq since their shape
	// varies by task type.
	if b, err := json.Marshal(decoded); err == nil {
		_ = json.Unmarshal(b, &rp)
	}

	iter := planTasksQuery.Run(decoded)
	v, ok := iter.Next()
	if !ok {
		return model.Plan{}, sharederrors.Classify(sharederrors.KindExtractorParse,
			fmt.Errorf("orchestrator: planner output has no tasks"))
	}
	if jqErr, ok := v.(error); ok {
		return model.Plan{}, sharederrors.Classify(sharederrors.KindExtractorParse, jqErr)
	}
	items, _ := v.([]interface{})

	seen := map[string]bool{}
	tasks := make([]model.PlanTask, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		task, err := decodeTask(m, seen)
		if err != nil {
			return model.Plan{}, sharederrors.Classify(sharederrors.KindExtractorParse, err)
		}
		seen[task.ID] = true
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return model.Plan{}, sharederrors.Classify(sharederrors.KindExtractorParse,
			fmt.Errorf("orchestrator: planner output has zero well-formed tasks"))
	}

	return model.Plan{
		Intent:         rp.Intent,
		IsFollowUp:     rp.IsFollowUp,
		RewrittenQuery: rp.RewrittenQuery,
		UserThought:    rp.UserThought,
		Reasoning:      rp.Reasoning,
		DetectedTopic:  rp.DetectedTopic,
		Tasks:          tasks,
	}, nil
}

var validTaskTypes = map[model.TaskType]bool{
	model.TaskTypeTool:                true,
	model.TaskTypeGeneration:           true,
	model.TaskTypeMemoryControl:        true,
	model.TaskTypeContextClarification: true,
}

func decodeTask(m map[string]interface{}, seenEarlier map[string]bool) (model.PlanTask, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return model.PlanTask{}, fmt.Errorf("orchestrator: task missing id")
	}
	typ := model.TaskType(stringField(m, "type"))
	if !validTaskTypes[typ] {
		return model.PlanTask{}, fmt.Errorf("orchestrator: task %q has invalid type %q", id, typ)
	}

	var deps []string
	if raw, ok := m["dependencies"].([]interface{}); ok {
		for _, d := range raw {
			depID, _ := d.(string)
			if depID == "" || !seenEarlier[depID] {
				return model.PlanTask{}, fmt.Errorf("orchestrator: task %q depends on unknown/forward task %q", id, depID)
			}
			deps = append(deps, depID)
		}
	}

	var params map[string]interface{}
	if raw, ok := m["params"].(map[string]interface{}); ok {
		params = raw
	}

	return model.PlanTask{
		ID:           id,
		Type:         typ,
		Specialist:   stringField(m, "specialist"),
		ToolName:     stringField(m, "tool_name"),
		Prompt:       stringField(m, "prompt"),
		Instruction:  stringField(m, "instruction"),
		Params:       params,
		Dependencies: deps,
	}, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
