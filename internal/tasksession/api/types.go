package api

import "time"

// TaskStatus is the closed set of sub-task lifecycle states. Transitions are
// forward-only: pending -> running -> completed|failed.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// rank orders statuses along the forward-only transition chain. Terminal
// states share a rank so completed/failed never displace each other.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusRunning:
		return 1
	case TaskStatusCompleted, TaskStatusFailed:
		return 2
	default:
		return -1
	}
}

// Allows reports whether a transition from s to next moves forward.
// Re-asserting the current status counts as forward (idempotent events).
func (s TaskStatus) Allows(next TaskStatus) bool {
	return next.rank() >= s.rank()
}

// ArtifactKind is the closed set of deliverable content types.
type ArtifactKind string

const (
	ArtifactKindCode     ArtifactKind = "code"
	ArtifactKindHTML     ArtifactKind = "html"
	ArtifactKindMarkdown ArtifactKind = "markdown"
	ArtifactKindJSON     ArtifactKind = "json"
	ArtifactKindText     ArtifactKind = "text"
)

// ExecutionMode describes how the plan's sub-tasks are scheduled server-side.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// SessionStatus is the aggregate status reported for the whole decomposition.
type SessionStatus string

const (
	SessionStatusPlanning        SessionStatus = "planning"
	SessionStatusExecuting       SessionStatus = "executing"
	SessionStatusAwaitingApprove SessionStatus = "awaiting_approval"
	SessionStatusCompleted       SessionStatus = "completed"
	SessionStatusFailed          SessionStatus = "failed"
)

// Artifact is one generated deliverable owned by a task. Immutable once
// created; a task's preview artifact is swapped by wholesale replacement,
// never edited in place.
type Artifact struct {
	ID        string       `json:"id"`
	Kind      ArtifactKind `json:"kind"`
	Title     string       `json:"title,omitempty"`
	Content   string       `json:"content"`
	Language  string       `json:"language,omitempty"`
	Rank      int          `json:"rank"`
	CreatedAt time.Time    `json:"created_at"`
}

// Task tracks one sub-task of the decomposition plan.
type Task struct {
	ID          string     `json:"id"`
	Expert      string     `json:"expert"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	// SortOrder fixes the task's position in the plan; assigned once at
	// plan creation and never changed afterwards.
	SortOrder  int        `json:"sort_order"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Clone returns a structurally independent copy of the task, including its
// artifact slice and timestamp pointers.
func (t Task) Clone() Task {
	cloned := t
	if t.StartedAt != nil {
		started := *t.StartedAt
		cloned.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		cloned.FinishedAt = &finished
	}
	if len(t.Artifacts) > 0 {
		cloned.Artifacts = make([]Artifact, len(t.Artifacts))
		copy(cloned.Artifacts, t.Artifacts)
	}
	return cloned
}

// Session holds the metadata describing the overall decomposition.
type Session struct {
	ID            string        `json:"id"`
	Summary       string        `json:"summary"`
	ExpectedSteps int           `json:"expected_steps"`
	Mode          ExecutionMode `json:"mode"`
	Status        SessionStatus `json:"status"`
}

// ConversationSnapshot is the authoritative server record for one
// conversation, as returned by the snapshot endpoint. TaskSession is nil for
// simple conversations that were never decomposed.
type ConversationSnapshot struct {
	ConversationID string       `json:"conversation_id"`
	TaskSession    *TaskSession `json:"task_session,omitempty"`
}

// TaskSession is the snapshot's task-bearing block: session metadata plus the
// ordered sub-task records.
type TaskSession struct {
	Session Session `json:"session"`
	Tasks   []Task  `json:"tasks"`
}

// ArtifactCount sums artifacts across all sub-tasks in the snapshot block.
func (ts *TaskSession) ArtifactCount() int {
	if ts == nil {
		return 0
	}
	total := 0
	for _, task := range ts.Tasks {
		total += len(task.Artifacts)
	}
	return total
}
