package dag

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// tracer emits one span per Execute call plus one child span per task, the
// request-path instrumentation named in SPEC_FULL.md's domain-stack table
// for C12.
var tracer = otel.Tracer("github.com/atlasagent/atlas-core/pkg/dag")

// Deps bundles every collaborator one Execute call needs: the tool
// registry, the model governance pool plus the injected generation
// call, the privileged memory controller, and the requesting user.
type Deps struct {
	Tools   ToolRegistry
	Pool    Governance
	Gen     GenerateFunc
	Memory  MemoryController
	UserID  string
	Metrics Metrics // optional; nil disables task metrics
}

// Metrics is the narrow surface Execute needs to record per-task duration
// and outcome, satisfied by *pkg/metrics.Registry without pulling a
// Prometheus dependency into this package.
type Metrics interface {
	ObserveTask(taskType, status string, d time.Duration)
}

// eventBufferPerTask is generous enough that a plan's worth of thought +
// task_result events never blocks the executing goroutine even if the
// caller drains the channel only after Execute returns.
const eventBufferPerTask = 4

// Execute runs plan's tasks layer by layer: tasks within a layer run
// concurrently via errgroup, cross-layer ordering follows the DAG (spec
// §4.8). It blocks until every layer completes or ctx is cancelled, and
// returns the final per-task results alongside the full stream of
// thought/task_result events already buffered on the returned channel.
func Execute(ctx context.Context, plan model.Plan, deps Deps, now time.Time) (map[string]model.TaskResult, <-chan model.StreamEvent, error) {
	ctx, span := tracer.Start(ctx, "dag.Execute")
	defer span.End()
	span.SetAttributes(attribute.Int("dag.task_count", len(plan.Tasks)), attribute.String("dag.user_id", deps.UserID))

	layers, err := ComputeLayers(plan.Tasks)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan model.StreamEvent, eventBufferPerTask*(len(plan.Tasks)+1))
	results := make(map[string]model.TaskResult, len(plan.Tasks))
	var mu sync.Mutex

	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			close(events)
			return results, events, err
		}

		snapshot := copyResults(results)
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range layer {
			task := task
			g.Go(func() error {
				res := executeTask(gctx, task, snapshot, deps, events, now)
				mu.Lock()
				results[task.ID] = res
				mu.Unlock()
				return nil
			})
		}
		// Task failures are captured in TaskResult, not propagated as
		// group errors; only a context cancellation can fail Wait.
		if werr := g.Wait(); werr != nil {
			close(events)
			return results, events, werr
		}
	}

	close(events)
	return results, events, nil
}

func copyResults(m map[string]model.TaskResult) map[string]model.TaskResult {
	out := make(map[string]model.TaskResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func executeTask(ctx context.Context, task model.PlanTask, prior map[string]model.TaskResult, deps Deps, events chan<- model.StreamEvent, now time.Time) model.TaskResult {
	ctx, span := tracer.Start(ctx, "dag.task")
	defer span.End()
	span.SetAttributes(attribute.String("dag.task_id", task.ID), attribute.String("dag.task_type", string(task.Type)))

	start := time.Now()
	res := dispatchTask(ctx, task, prior, deps, events, now)
	span.SetAttributes(attribute.String("dag.task_status", string(res.Status)))
	if deps.Metrics != nil {
		deps.Metrics.ObserveTask(string(task.Type), string(res.Status), time.Since(start))
	}
	return res
}

func dispatchTask(ctx context.Context, task model.PlanTask, prior map[string]model.TaskResult, deps Deps, events chan<- model.StreamEvent, now time.Time) model.TaskResult {
	switch task.Type {
	case model.TaskTypeTool:
		return executeTool(ctx, task, deps, events)
	case model.TaskTypeGeneration, model.TaskTypeContextClarification:
		return executeGeneration(ctx, task, prior, deps, events, now)
	case model.TaskTypeMemoryControl:
		return executeMemoryControl(ctx, task, deps, events, now)
	default:
		res := model.TaskResult{TaskID: task.ID, Type: task.Type, Status: model.TaskResultError, Error: "unknown task type"}
		events <- model.StreamEvent{Kind: model.StreamEventTaskResult, TaskID: task.ID, Result: &res}
		return res
	}
}

func executeTool(ctx context.Context, task model.PlanTask, deps Deps, events chan<- model.StreamEvent) model.TaskResult {
	tool, ok := deps.Tools.Lookup(task.ToolName)
	if !ok {
		return emitError(events, task, "tool not found: "+task.ToolName)
	}
	if err := tool.Validate(task.Params); err != nil {
		return emitError(events, task, err.Error())
	}
	out, err := tool.Call(ctx, task.Params)
	if err != nil {
		return emitError(events, task, err.Error())
	}
	res := model.TaskResult{TaskID: task.ID, Type: task.Type, ToolName: task.ToolName, Output: out, Status: model.TaskResultOK}
	events <- model.StreamEvent{Kind: model.StreamEventTaskResult, TaskID: task.ID, Result: &res}
	return res
}

func executeGeneration(ctx context.Context, task model.PlanTask, prior map[string]model.TaskResult, deps Deps, events chan<- model.StreamEvent, now time.Time) model.TaskResult {
	prompt := task.Prompt
	if prompt == "" {
		prompt = task.Instruction
	}
	prompt = SubstitutePlaceholders(prompt, prior)

	role := task.Specialist
	if role == "" {
		role = "default"
	}

	raw, err := RunGoverned(ctx, deps.Pool, role, prompt, deps.Gen, now)
	if err != nil {
		return emitError(events, task, err.Error())
	}

	thought, rest := SplitThought(raw)
	if thought != "" {
		events <- model.StreamEvent{Kind: model.StreamEventThought, TaskID: task.ID, Text: thought}
	}
	res := model.TaskResult{TaskID: task.ID, Type: task.Type, Output: rest, Status: model.TaskResultOK}
	events <- model.StreamEvent{Kind: model.StreamEventTaskResult, TaskID: task.ID, Result: &res}
	return res
}

func executeMemoryControl(ctx context.Context, task model.PlanTask, deps Deps, events chan<- model.StreamEvent, now time.Time) model.TaskResult {
	out, err := RunMemoryControl(ctx, deps.Memory, deps.UserID, task.Params, now)
	if err != nil {
		return emitError(events, task, err.Error())
	}
	res := model.TaskResult{TaskID: task.ID, Type: task.Type, Output: out, Status: model.TaskResultOK}
	events <- model.StreamEvent{Kind: model.StreamEventTaskResult, TaskID: task.ID, Result: &res}
	return res
}

func emitError(events chan<- model.StreamEvent, task model.PlanTask, msg string) model.TaskResult {
	res := model.TaskResult{TaskID: task.ID, Type: task.Type, ToolName: task.ToolName, Error: msg, Status: model.TaskResultError}
	events <- model.StreamEvent{Kind: model.StreamEventTaskResult, TaskID: task.ID, Result: &res}
	return res
}
