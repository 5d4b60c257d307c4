package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

// ErrUnknownEventType is returned when a progress frame carries a type the
// engine does not recognize.
var ErrUnknownEventType = errors.New("task events: unknown event type")

// Dispatcher is the event application layer: it maps parsed progress-event
// payloads onto the store's live-mutation surface. It never touches the bulk
// rehydration paths.
type Dispatcher struct {
	store  api.LiveMutator
	logger logging.Logger
}

// NewDispatcher wires a dispatcher to the live half of a store.
func NewDispatcher(store api.LiveMutator, logger logging.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: logging.OrNop(logger)}
}

// Apply routes one progress event to the matching store mutation. Malformed
// payloads are rejected with an error; a well-formed event referencing an
// unknown task id is absorbed by the store as a late delivery.
func (d *Dispatcher) Apply(event api.ProgressEvent) error {
	switch event.Type {
	case api.EventPlanCreated:
		if event.Session == nil {
			return errors.New("task events: plan_created without session metadata")
		}
		d.logger.Info("plan created: session=%s steps=%d mode=%s", event.Session.ID, len(event.Tasks), event.Session.Mode)
		d.store.InitializePlan(*event.Session, event.Tasks)
		return nil

	case api.EventTaskStarted:
		if event.TaskID == "" {
			return errors.New("task events: task_started without task id")
		}
		startedAt := time.Now()
		if event.StartedAt != nil {
			startedAt = *event.StartedAt
		}
		d.store.StartTask(event.TaskID, startedAt)
		return nil

	case api.EventTaskCompleted:
		if event.TaskID == "" {
			return errors.New("task events: task_completed without task id")
		}
		completedAt := time.Now()
		if event.CompletedAt != nil {
			completedAt = *event.CompletedAt
		}
		d.store.CompleteTask(event.TaskID, completedAt, event.DurationMS, event.Output, event.ArtifactCount)
		return nil

	case api.EventTaskFailed:
		if event.TaskID == "" {
			return errors.New("task events: task_failed without task id")
		}
		d.store.FailTask(event.TaskID, event.Error)
		return nil

	case api.EventArtifactGenerated:
		if event.TaskID == "" || event.Artifact == nil {
			return errors.New("task events: artifact_generated without task id or artifact")
		}
		artifact := *event.Artifact
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = time.Now()
		}
		d.store.AddArtifact(event.TaskID, artifact)
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, event.Type)
	}
}
