package store

import "github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"

// View returns the derived read view (tasks in ascending sort order) together
// with its version stamp. The returned slice is the cached snapshot: it is
// never mutated after being handed out, so callers may hold it across later
// store mutations.
func (s *Store) View() ([]api.Task, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view, s.version
}

// Version returns the current cache version.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Session returns the tracked session metadata, if a plan is established.
func (s *Store) Session() (api.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.hasSession
}

// Task returns a copy of one task record by id.
func (s *Store) Task(taskID string) (api.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return api.Task{}, false
	}
	return task.Clone(), true
}

// SelectedTaskID returns the currently inspected task id, empty when nothing
// is selected.
func (s *Store) SelectedTaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SelectedArtifacts returns a copy of the selected task's artifact list,
// already sorted by rank. Nil when nothing is selected.
func (s *Store) SelectedArtifacts() []api.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return nil
	}
	task, ok := s.tasks[s.selected]
	if !ok || len(task.Artifacts) == 0 {
		return nil
	}
	artifacts := make([]api.Artifact, len(task.Artifacts))
	copy(artifacts, task.Artifacts)
	return artifacts
}

// Initialized reports whether a plan has been established.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// TaskCount returns the number of tracked tasks.
func (s *Store) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// RunningCount returns the size of the running index.
func (s *Store) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// HasRunning reports whether any task is currently running.
func (s *Store) HasRunning() bool {
	return s.RunningCount() > 0
}

// PendingCount returns how many tracked tasks are still pending.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, task := range s.tasks {
		if task.Status == api.TaskStatusPending {
			count++
		}
	}
	return count
}

// ArtifactCount sums artifacts across all tracked tasks; the restoration
// controller's conflict rule compares this against the snapshot's count.
func (s *Store) ArtifactCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, task := range s.tasks {
		total += len(task.Artifacts)
	}
	return total
}
