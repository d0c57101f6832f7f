package model

// TaskType tags the union of task kinds a DAG Plan may contain, replacing
// the dynamic dict-shaped plan the planner LLM originally emitted.
type TaskType string

const (
	TaskTypeTool                 TaskType = "tool"
	TaskTypeGeneration           TaskType = "generation"
	TaskTypeMemoryControl        TaskType = "memory_control"
	TaskTypeContextClarification TaskType = "context_clarification"
)

// PlanTask is one node of the DAG plan. Only the fields relevant to Type
// are expected to be populated; the executor validates this at dispatch
// time instead of trusting the planner's JSON shape.
type PlanTask struct {
	ID           string
	Type         TaskType
	Specialist   string
	ToolName     string
	Prompt       string
	Instruction  string
	Params       map[string]interface{}
	Dependencies []string
}

// Plan is the orchestrator's structured output: an intent classification
// plus a DAG of tasks.
type Plan struct {
	Intent         string
	IsFollowUp     bool
	RewrittenQuery string
	UserThought    string
	Reasoning      string
	DetectedTopic  string
	Tasks          []PlanTask
}

// TaskResultStatus is the outcome of executing one PlanTask.
type TaskResultStatus string

const (
	TaskResultOK     TaskResultStatus = "ok"
	TaskResultError  TaskResultStatus = "error"
)

// TaskResult is what the DAG executor produces per task, consumed by
// {tX.output} placeholder substitution in downstream tasks and by the
// synthesizer.
type TaskResult struct {
	TaskID   string
	Type     TaskType
	ToolName string
	Output   string
	Error    string
	Status   TaskResultStatus
}

// StreamEventKind tags the DAG executor's SSE-facing event stream.
type StreamEventKind string

const (
	StreamEventThought    StreamEventKind = "thought"
	StreamEventTaskResult StreamEventKind = "task_result"
)

// StreamEvent is one item the DAG executor emits on its event channel.
type StreamEvent struct {
	Kind   StreamEventKind
	TaskID string
	Text   string
	Result *TaskResult
}
