package devserver

import (
	"time"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

// DefaultScript returns a small two-expert session used by the watch demo:
// a coder producing an HTML artifact and a writer producing markdown copy.
func DefaultScript() Script {
	session := api.Session{
		ID:            "sess-demo",
		Summary:       "Build a product landing page",
		ExpectedSteps: 2,
		Mode:          api.ExecutionModeParallel,
		Status:        api.SessionStatusExecuting,
	}
	tasks := []api.Task{
		{ID: "task-page", Expert: "coder", Description: "Generate the landing page", SortOrder: 0, Status: api.TaskStatusPending},
		{ID: "task-copy", Expert: "writer", Description: "Draft the hero copy", SortOrder: 1, Status: api.TaskStatusPending},
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	startPage := now
	startCopy := now.Add(200 * time.Millisecond)
	finishPage := now.Add(2 * time.Second)
	finishCopy := now.Add(3 * time.Second)

	pageArtifact := api.Artifact{
		ID:        "art-page",
		Kind:      api.ArtifactKindHTML,
		Title:     "Landing page",
		Content:   "<!doctype html><html><body><h1>Demo</h1></body></html>",
		Rank:      0,
		CreatedAt: finishPage,
	}
	copyArtifact := api.Artifact{
		ID:        "art-copy",
		Kind:      api.ArtifactKindMarkdown,
		Title:     "Hero copy",
		Content:   "# Ship faster\nEverything you need, nothing you don't.",
		Rank:      0,
		CreatedAt: finishCopy,
	}

	return Script{
		ConversationID: "conv-demo",
		Snapshot: api.ConversationSnapshot{
			ConversationID: "conv-demo",
			TaskSession: &api.TaskSession{
				Session: session,
				Tasks:   tasks,
			},
		},
		Events: []TimedEvent{
			{After: 100 * time.Millisecond, Event: api.ProgressEvent{
				Type: api.EventPlanCreated, ConversationID: "conv-demo", Session: &session, Tasks: tasks,
			}},
			{After: 300 * time.Millisecond, Event: api.ProgressEvent{
				Type: api.EventTaskStarted, ConversationID: "conv-demo", TaskID: "task-page", StartedAt: &startPage,
			}},
			{After: 500 * time.Millisecond, Event: api.ProgressEvent{
				Type: api.EventTaskStarted, ConversationID: "conv-demo", TaskID: "task-copy", StartedAt: &startCopy,
			}},
			{After: 1500 * time.Millisecond, Event: api.ProgressEvent{
				Type: api.EventArtifactGenerated, ConversationID: "conv-demo", TaskID: "task-page", Artifact: &pageArtifact,
			}},
			{After: 2 * time.Second, Event: api.ProgressEvent{
				Type: api.EventTaskCompleted, ConversationID: "conv-demo", TaskID: "task-page",
				CompletedAt: &finishPage, DurationMS: 2000, Output: "Landing page generated", ArtifactCount: 1,
			}},
			{After: 2500 * time.Millisecond, Event: api.ProgressEvent{
				Type: api.EventArtifactGenerated, ConversationID: "conv-demo", TaskID: "task-copy", Artifact: &copyArtifact,
			}},
			{After: 3 * time.Second, Event: api.ProgressEvent{
				Type: api.EventTaskCompleted, ConversationID: "conv-demo", TaskID: "task-copy",
				CompletedAt: &finishCopy, DurationMS: 2800, Output: "Copy drafted", ArtifactCount: 1,
			}},
		},
	}
}
