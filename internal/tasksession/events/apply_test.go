package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/store"
)

func planEvent() api.ProgressEvent {
	return api.ProgressEvent{
		Type:    api.EventPlanCreated,
		Session: &api.Session{ID: "sess-1", Summary: "demo", ExpectedSteps: 2, Mode: api.ExecutionModeSequential},
		Tasks: []api.Task{
			{ID: "task-a", Expert: "coder", SortOrder: 0},
			{ID: "task-b", Expert: "writer", SortOrder: 1},
		},
	}
}

func TestDispatcherAppliesLifecycle(t *testing.T) {
	s := store.New(nil)
	d := NewDispatcher(s, nil)

	require.NoError(t, d.Apply(planEvent()))
	require.True(t, s.Initialized())

	startedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, d.Apply(api.ProgressEvent{Type: api.EventTaskStarted, TaskID: "task-a", StartedAt: &startedAt}))
	task, ok := s.Task("task-a")
	require.True(t, ok)
	assert.Equal(t, api.TaskStatusRunning, task.Status)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, startedAt, *task.StartedAt)

	require.NoError(t, d.Apply(api.ProgressEvent{
		Type:     api.EventArtifactGenerated,
		TaskID:   "task-a",
		Artifact: &api.Artifact{ID: "art-1", Kind: api.ArtifactKindCode, Content: "print()", Rank: 0},
	}))

	completedAt := startedAt.Add(3 * time.Second)
	require.NoError(t, d.Apply(api.ProgressEvent{
		Type:          api.EventTaskCompleted,
		TaskID:        "task-a",
		CompletedAt:   &completedAt,
		DurationMS:    3000,
		Output:        "all good",
		ArtifactCount: 1,
	}))
	task, _ = s.Task("task-a")
	assert.Equal(t, api.TaskStatusCompleted, task.Status)
	assert.Equal(t, int64(3000), task.DurationMS)
	assert.Len(t, task.Artifacts, 1)

	require.NoError(t, d.Apply(api.ProgressEvent{Type: api.EventTaskFailed, TaskID: "task-b", Error: "timeout"}))
	task, _ = s.Task("task-b")
	assert.Equal(t, api.TaskStatusFailed, task.Status)
	assert.Equal(t, "timeout", task.Error)
}

func TestDispatcherRejectsMalformedPayloads(t *testing.T) {
	d := NewDispatcher(store.New(nil), nil)

	assert.Error(t, d.Apply(api.ProgressEvent{Type: api.EventPlanCreated}))
	assert.Error(t, d.Apply(api.ProgressEvent{Type: api.EventTaskStarted}))
	assert.Error(t, d.Apply(api.ProgressEvent{Type: api.EventTaskCompleted}))
	assert.Error(t, d.Apply(api.ProgressEvent{Type: api.EventTaskFailed}))
	assert.Error(t, d.Apply(api.ProgressEvent{Type: api.EventArtifactGenerated, TaskID: "task-a"}))

	err := d.Apply(api.ProgressEvent{Type: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDispatcherToleratesLateEvents(t *testing.T) {
	s := store.New(nil)
	d := NewDispatcher(s, nil)
	require.NoError(t, d.Apply(planEvent()))

	// Events for a task id the plan never contained must be absorbed.
	require.NoError(t, d.Apply(api.ProgressEvent{Type: api.EventTaskStarted, TaskID: "ghost"}))
	require.NoError(t, d.Apply(api.ProgressEvent{Type: api.EventTaskFailed, TaskID: "ghost", Error: "x"}))
	assert.Equal(t, 2, s.TaskCount())
	assert.Zero(t, s.RunningCount())
}

func TestDispatcherStampsArtifactCreationTime(t *testing.T) {
	s := store.New(nil)
	d := NewDispatcher(s, nil)
	require.NoError(t, d.Apply(planEvent()))

	require.NoError(t, d.Apply(api.ProgressEvent{
		Type:     api.EventArtifactGenerated,
		TaskID:   "task-a",
		Artifact: &api.Artifact{ID: "art-1", Kind: api.ArtifactKindText, Content: "hi"},
	}))
	task, _ := s.Task("task-a")
	require.Len(t, task.Artifacts, 1)
	assert.False(t, task.Artifacts[0].CreatedAt.IsZero())
}
