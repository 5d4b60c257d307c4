package store

import (
	"sort"
	"sync"
	"time"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

// Observer receives change notifications after a store mutation commits.
// Callbacks run outside the store lock; implementations may call back into
// the store's read surface.
type Observer interface {
	StoreChanged(version uint64)
	SelectionChanged(taskID string)
}

// Store is the keyed task collection for one tracked session: a task-id map
// as the sole mutation target, a running-id index, the current selection, and
// a derived sort-order-stable read view stamped with a version counter.
//
// The map half is mutated through api.LiveMutator by the event application
// layer; the bulk half (restore/clear) is reserved for the restoration
// controller via api.Rehydrator. All operations are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	logger logging.Logger

	session     api.Session
	hasSession  bool
	tasks       map[string]*api.Task
	running     map[string]struct{}
	selected    string
	initialized bool

	// view is rebuilt as a fresh slice of task copies on every mutation, so
	// a slice handed out earlier is never retroactively changed.
	view    []api.Task
	version uint64

	observers []Observer
}

// New constructs an empty store. A nil logger is replaced with a no-op one.
func New(logger logging.Logger) *Store {
	return &Store{
		logger:  logging.OrNop(logger),
		tasks:   make(map[string]*api.Task),
		running: make(map[string]struct{}),
	}
}

// AddObserver registers an observer for change notifications.
func (s *Store) AddObserver(observer Observer) {
	if observer == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, observer)
	s.mu.Unlock()
}

var _ api.LiveMutator = (*Store)(nil)
var _ api.Rehydrator = (*Store)(nil)

// InitializePlan replaces the whole session with a fresh plan. It always
// succeeds, discarding any prior session. Tasks arriving without a status are
// treated as pending; the running index starts empty.
func (s *Store) InitializePlan(session api.Session, tasks []api.Task) {
	s.mu.Lock()
	s.resetLocked()
	s.session = session
	s.hasSession = true
	for i := range tasks {
		task := tasks[i].Clone()
		if task.Status == "" {
			task.Status = api.TaskStatusPending
		}
		sortArtifacts(task.Artifacts)
		s.tasks[task.ID] = &task
	}
	s.initialized = true
	s.commitLocked()
	version, notify := s.snapshotObserversLocked()
	s.mu.Unlock()

	for _, observer := range notify {
		observer.StoreChanged(version)
	}
}

// RestoreFromSnapshot rehydrates the store from an authoritative server
// snapshot. Unlike InitializePlan it derives the running index from each
// task's supplied status and auto-selects the first task (by sort order) that
// already has artifacts, falling back to the first task overall.
func (s *Store) RestoreFromSnapshot(session api.Session, tasks []api.Task) {
	s.mu.Lock()
	s.resetLocked()
	s.session = session
	s.hasSession = true
	for i := range tasks {
		task := tasks[i].Clone()
		if task.Status == "" {
			task.Status = api.TaskStatusPending
		}
		sortArtifacts(task.Artifacts)
		s.tasks[task.ID] = &task
		if task.Status == api.TaskStatusRunning {
			s.running[task.ID] = struct{}{}
		}
	}
	s.initialized = true

	ordered := make([]*api.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		ordered = append(ordered, task)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SortOrder < ordered[j].SortOrder })
	for _, task := range ordered {
		if len(task.Artifacts) > 0 {
			s.selected = task.ID
			break
		}
	}
	if s.selected == "" && len(ordered) > 0 {
		s.selected = ordered[0].ID
	}

	s.commitLocked()
	version, notify := s.snapshotObserversLocked()
	selected := s.selected
	s.mu.Unlock()

	for _, observer := range notify {
		observer.StoreChanged(version)
		if selected != "" {
			observer.SelectionChanged(selected)
		}
	}
}

// Clear resets the store to its empty state. The version counter keeps
// counting upward so consumers polling it never observe a rollback.
func (s *Store) Clear() {
	s.mu.Lock()
	s.resetLocked()
	s.commitLocked()
	version, notify := s.snapshotObserversLocked()
	s.mu.Unlock()

	for _, observer := range notify {
		observer.StoreChanged(version)
	}
}

// StartTask marks a task running and records its start time. A missing id
// leaves the record set untouched but still commits a consistent view.
func (s *Store) StartTask(taskID string, startedAt time.Time) {
	s.mutate(taskID, "start", func(task *api.Task) {
		if !task.Status.Allows(api.TaskStatusRunning) {
			s.logger.Warn("ignoring backward transition %s -> running for task %s", task.Status, taskID)
			return
		}
		task.Status = api.TaskStatusRunning
		started := startedAt
		task.StartedAt = &started
	})
}

// CompleteTask marks a task completed and records finish time, duration, and
// output. When nothing is selected yet and the task produced at least one
// artifact, it becomes the selected task; an existing selection is never
// overridden.
func (s *Store) CompleteTask(taskID string, completedAt time.Time, durationMS int64, output string, artifactCount int) {
	s.mutate(taskID, "complete", func(task *api.Task) {
		if !task.Status.Allows(api.TaskStatusCompleted) {
			s.logger.Warn("ignoring backward transition %s -> completed for task %s", task.Status, taskID)
			return
		}
		task.Status = api.TaskStatusCompleted
		finished := completedAt
		task.FinishedAt = &finished
		task.DurationMS = durationMS
		task.Output = output
		if s.selected == "" && artifactCount > 0 {
			s.selected = taskID
		}
	})
}

// FailTask marks a task failed and records the error text. Never changes the
// selection.
func (s *Store) FailTask(taskID string, errText string) {
	s.mutate(taskID, "fail", func(task *api.Task) {
		if !task.Status.Allows(api.TaskStatusFailed) {
			s.logger.Warn("ignoring backward transition %s -> failed for task %s", task.Status, taskID)
			return
		}
		task.Status = api.TaskStatusFailed
		task.Error = errText
	})
}

// AddArtifact appends an artifact to the owning task, keeps the artifact list
// sorted by rank, and moves the selection to the task when it is not already
// there.
func (s *Store) AddArtifact(taskID string, artifact api.Artifact) {
	s.mutate(taskID, "add artifact", func(task *api.Task) {
		task.Artifacts = append(task.Artifacts, artifact)
		sortArtifacts(task.Artifacts)
		if s.selected != taskID {
			s.selected = taskID
		}
	})
}

// ReplaceArtifacts swaps a task's artifact list wholesale, used when a
// preview is regenerated rather than accumulated.
func (s *Store) ReplaceArtifacts(taskID string, artifacts []api.Artifact) {
	s.mutate(taskID, "replace artifacts", func(task *api.Task) {
		replaced := make([]api.Artifact, len(artifacts))
		copy(replaced, artifacts)
		sortArtifacts(replaced)
		task.Artifacts = replaced
	})
}

// SelectTask changes which task's artifacts are inspected. Passing the empty
// string clears the selection. Selection is not a data mutation: the derived
// view and version are left alone, only selection observers fire.
func (s *Store) SelectTask(taskID string) {
	s.mu.Lock()
	if taskID != "" {
		if _, ok := s.tasks[taskID]; !ok {
			s.logger.Debug("select for unknown task %s ignored", taskID)
			s.mu.Unlock()
			return
		}
	}
	changed := s.selected != taskID
	s.selected = taskID
	_, notify := s.snapshotObserversLocked()
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, observer := range notify {
		observer.SelectionChanged(taskID)
	}
}

// mutate runs fn against the named task under the lock, reconciles the
// running index with the task's resulting status, and commits a new view.
// A missing task id is a silent no-op on the record fields; the commit still
// happens so the version counter and view stay in step with the call stream.
func (s *Store) mutate(taskID, op string, fn func(task *api.Task)) {
	s.mu.Lock()
	prevSelected := s.selected
	task, ok := s.tasks[taskID]
	if ok {
		fn(task)
		if task.Status == api.TaskStatusRunning {
			s.running[taskID] = struct{}{}
		} else {
			delete(s.running, taskID)
		}
	} else {
		s.logger.Debug("%s for unknown task %s treated as late delivery", op, taskID)
		delete(s.running, taskID)
	}
	s.commitLocked()
	version, notify := s.snapshotObserversLocked()
	selected := s.selected
	s.mu.Unlock()

	for _, observer := range notify {
		observer.StoreChanged(version)
		if selected != prevSelected {
			observer.SelectionChanged(selected)
		}
	}
}

// resetLocked returns every field except the version counter to its initial
// value.
func (s *Store) resetLocked() {
	s.session = api.Session{}
	s.hasSession = false
	s.tasks = make(map[string]*api.Task)
	s.running = make(map[string]struct{})
	s.selected = ""
	s.initialized = false
}

// commitLocked rebuilds the derived view from the task map and bumps the
// version by exactly one.
func (s *Store) commitLocked() {
	view := make([]api.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		view = append(view, task.Clone())
	}
	sort.Slice(view, func(i, j int) bool { return view[i].SortOrder < view[j].SortOrder })
	s.view = view
	s.version++
}

func (s *Store) snapshotObserversLocked() (uint64, []Observer) {
	notify := make([]Observer, len(s.observers))
	copy(notify, s.observers)
	return s.version, notify
}

func sortArtifacts(artifacts []api.Artifact) {
	sort.SliceStable(artifacts, func(i, j int) bool { return artifacts[i].Rank < artifacts[j].Rank })
}
