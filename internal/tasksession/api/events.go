package api

import "time"

// ProgressEventType discriminates the payloads carried on the progress stream.
type ProgressEventType string

const (
	EventPlanCreated       ProgressEventType = "plan_created"
	EventTaskStarted       ProgressEventType = "task_started"
	EventTaskCompleted     ProgressEventType = "task_completed"
	EventTaskFailed        ProgressEventType = "task_failed"
	EventArtifactGenerated ProgressEventType = "artifact_generated"
)

// ProgressEvent is one parsed frame from the progress stream. Only the fields
// relevant to its Type are populated; consumers switch on Type.
type ProgressEvent struct {
	Type           ProgressEventType `json:"event_type"`
	ConversationID string            `json:"conversation_id,omitempty"`

	// plan_created
	Session *Session `json:"session,omitempty"`
	Tasks   []Task   `json:"tasks,omitempty"`

	// task_started / task_completed / task_failed / artifact_generated
	TaskID        string     `json:"task_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMS    int64      `json:"duration_ms,omitempty"`
	Output        string     `json:"output,omitempty"`
	ArtifactCount int        `json:"artifact_count,omitempty"`
	Error         string     `json:"error,omitempty"`
	Artifact      *Artifact  `json:"artifact,omitempty"`
}

// LiveMutator is the per-event mutation half of the store contract. It is the
// only surface the event application layer may call.
type LiveMutator interface {
	InitializePlan(session Session, tasks []Task)
	StartTask(taskID string, startedAt time.Time)
	CompleteTask(taskID string, completedAt time.Time, durationMS int64, output string, artifactCount int)
	FailTask(taskID string, errText string)
	AddArtifact(taskID string, artifact Artifact)
	ReplaceArtifacts(taskID string, artifacts []Artifact)
	SelectTask(taskID string)
}

// Rehydrator is the bulk half of the store contract, reserved for the
// restoration controller. Keeping the two halves as separate interfaces stops
// an event handler from ever reaching the bulk paths by accident.
type Rehydrator interface {
	RestoreFromSnapshot(session Session, tasks []Task)
	Clear()
}
