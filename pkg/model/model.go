// Package model holds the typed domain structs shared across components:
// User, Session, Turn, Entity, Fact, Episode, Task, Notification,
// SchedulerLock, RequestContext, and the DAG Plan sum types. Nothing here
// talks to a store; these are plain value types passed between layers,
// replacing the dynamic dict-shaped results the agent's planner and
// extractor produced upstream.
package model

import "time"

// MemoryMode controls whether the Memory Write Gate and Context Builder
// participate in a request at all.
type MemoryMode string

const (
	MemoryModeOff      MemoryMode = "OFF"
	MemoryModeStandard MemoryMode = "STANDARD"
	MemoryModeFull     MemoryMode = "FULL"
)

// User is the account anchor for all memory and scheduling state.
type User struct {
	UserID             string
	MemoryMode         MemoryMode
	Timezone           string
	NotificationPrefs  map[string]bool
	InternalOnlyAllow  bool
}

// Session tracks a conversation's turn counter and active topic.
type Session struct {
	SessionID    string
	UserID       string
	TurnIndex    int
	Topic        string
	ActiveDomain string
	CreatedAt    time.Time
}

// TurnRole distinguishes user vs. assistant turns.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is one message in a session's transcript.
type Turn struct {
	SessionID string
	TurnIndex int
	Role      TurnRole
	Content   string
	CreatedAt time.Time
}

// AnchorName returns the canonical, case-stable anchor entity name for a
// user, per spec invariant 4: `__USER__::<user_id>` lowercased.
func AnchorName(userID string) string {
	return "__USER__::" + lower(userID)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// FactStatus is the lifecycle status of a stored Fact edge.
type FactStatus string

const (
	FactStatusActive     FactStatus = "ACTIVE"
	FactStatusSuperseded FactStatus = "SUPERSEDED"
	FactStatusConflicted FactStatus = "CONFLICTED"
	FactStatusRetracted  FactStatus = "RETRACTED"
	FactStatusDeprecated FactStatus = "DEPRECATED"
)

// FactCategory is the graph-facing bridge category from the predicate
// catalog (see pkg/catalog).
type FactCategory string

const (
	FactCategoryIdentity   FactCategory = "identity"
	FactCategoryPersonal   FactCategory = "personal"
	FactCategoryGeneral    FactCategory = "general"
	FactCategorySoftSignal FactCategory = "soft_signal"
)

// Cardinality mirrors the predicate catalog's cardinality type (see
// pkg/catalog.CardinalityType) on the fact row itself, so the graph store
// can bucket hard/soft facts without re-resolving the catalog at read
// time. Defined here rather than reusing catalog.CardinalityType because
// pkg/catalog imports pkg/model.
type Cardinality string

const (
	CardinalityExclusive Cardinality = "EXCLUSIVE"
	CardinalityAdditive  Cardinality = "ADDITIVE"
	CardinalityTemporal  Cardinality = "TEMPORAL"
	CardinalityMeta      Cardinality = "META"
)

// Fact is a directed typed edge (subject) -[FACT]-> (object), scoped to a
// user, matching spec §3's Fact relation entity.
type Fact struct {
	ID                  string
	Subject             string
	Predicate           string
	Object              string
	UserID              string
	Confidence          float64
	Status              FactStatus
	Category            FactCategory
	Cardinality         Cardinality
	CreatedAt           time.Time
	UpdatedAt           time.Time
	SourceTurnIDFirst   string
	SourceTurnIDLast    string
	ValidUntil          *time.Time
	SupersededByTurnID  string
	Attribution         string
}

// EpisodeKind distinguishes a regular summarized window from a
// consolidation of multiple regular episodes.
type EpisodeKind string

const (
	EpisodeKindRegular      EpisodeKind = "REGULAR"
	EpisodeKindConsolidated EpisodeKind = "CONSOLIDATED"
)

// EpisodeStatus is the episode's main lifecycle state.
type EpisodeStatus string

const (
	EpisodeStatusPending    EpisodeStatus = "PENDING"
	EpisodeStatusInProgress EpisodeStatus = "IN_PROGRESS"
	EpisodeStatusReady      EpisodeStatus = "READY"
	EpisodeStatusFailed     EpisodeStatus = "FAILED"
)

// VectorStatus is the independent substate tracking whether the episode's
// embedding made it into the vector store.
type VectorStatus string

const (
	VectorStatusPending VectorStatus = "PENDING"
	VectorStatusReady   VectorStatus = "READY"
	VectorStatusFailed  VectorStatus = "FAILED"
	VectorStatusSkipped VectorStatus = "SKIPPED"
)

// Episode is a summarized, optionally vector-indexed window of turns.
type Episode struct {
	EpisodeID      string
	SessionID      string
	UserID         string
	Kind           EpisodeKind
	Status         EpisodeStatus
	StartTurnIndex int
	EndTurnIndex   int
	Summary        string
	Embedding      []float32
	EmbeddingModel string
	VectorStatus   VectorStatus
	VectorError    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskStatus is the prospective task's lifecycle state.
type TaskStatus string

const (
	TaskStatusOpen   TaskStatus = "OPEN"
	TaskStatusDone   TaskStatus = "DONE"
	TaskStatusClosed TaskStatus = "CLOSED"
)

// ProspectiveTask is a user-set reminder awaiting a due time.
type ProspectiveTask struct {
	TaskID         string
	UserID         string
	RawText        string
	DueAtRaw       string
	DueAtDT        *time.Time
	Status         TaskStatus
	LastNotifiedAt *time.Time
	NotifiedCount  int
}

// Notification is a user-facing alert, possibly tied to a task.
type Notification struct {
	ID            string
	UserID        string
	Message       string
	Type          string
	Read          bool
	CreatedAt     time.Time
	RelatedTaskID string
	Reason        string
}

// SchedulerLock is the single-row distributed primitive backing leader
// election (spec §4.11).
type SchedulerLock struct {
	Name      string
	Holder    string
	ExpiresAt time.Time
}

// RequestContext is the process-local bag of state threaded through one
// chat request: identifiers, the pre-fetched identity facts, the
// assembled context string, and transcript slice.
type RequestContext struct {
	RequestID        string
	UserID           string
	SessionID        string
	UserMessage      string
	IdentityFacts    []Fact
	ContextInjection string
	History          []Turn
	HasConflicts     bool
}
