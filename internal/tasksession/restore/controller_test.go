package restore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/store"
)

type fakeFetcher struct {
	calls    int
	snapshot *api.ConversationSnapshot
	err      error
	// onFetch runs inside FetchSnapshot, before returning; used to simulate
	// a stream starting mid-flight.
	onFetch func()
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, conversationID string) (*api.ConversationSnapshot, error) {
	f.calls++
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeProbe struct{ generating bool }

func (p *fakeProbe) Generating(string) bool { return p.generating }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func snapshotWith(tasks ...api.Task) *api.ConversationSnapshot {
	return &api.ConversationSnapshot{
		ConversationID: "conv-1",
		TaskSession: &api.TaskSession{
			Session: api.Session{ID: "sess-1", Status: api.SessionStatusExecuting, ExpectedSteps: len(tasks)},
			Tasks:   tasks,
		},
	}
}

func newController(t *testing.T, s *store.Store, fetcher *fakeFetcher, probe StreamProbe, opts ...func(*Options)) (*Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	options := Options{ConversationID: "conv-1", Enabled: true, Clock: clock.Now}
	for _, opt := range opts {
		opt(&options)
	}
	return NewController(options, s, fetcher, probe, Hooks{}), clock
}

func TestMountRehydratesEmptyStore(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: snapshotWith(
		api.Task{ID: "task-a", SortOrder: 0, Status: api.TaskStatusCompleted},
		api.Task{ID: "task-b", SortOrder: 1, Status: api.TaskStatusPending},
	)}
	c, _ := newController(t, s, fetcher, nil)

	require.NoError(t, c.HandleMount(context.Background()))
	assert.Equal(t, StateRestored, c.State())
	assert.Equal(t, 2, s.TaskCount())
	assert.Equal(t, 1, fetcher.calls)
	assert.NoError(t, c.LastError())
}

func TestDebounceAllowsOneFetchPerWindow(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: snapshotWith(api.Task{ID: "task-a", SortOrder: 0})}
	c, clock := newController(t, s, fetcher, nil)

	require.NoError(t, c.HandleMount(context.Background()))
	require.NoError(t, c.Restore(context.Background()))
	assert.Equal(t, 1, fetcher.calls, "second trigger inside the window must be skipped")

	clock.Advance(DefaultDebounce)
	require.NoError(t, c.Restore(context.Background()))
	assert.Equal(t, 2, fetcher.calls)
}

func TestLiveStreamGuardSkipsFetch(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: snapshotWith(api.Task{ID: "task-a", SortOrder: 0})}
	probe := &fakeProbe{generating: true}
	c, _ := newController(t, s, fetcher, probe)

	require.NoError(t, c.HandleMount(context.Background()))
	assert.Zero(t, fetcher.calls)
	assert.True(t, c.StreamWasActive())
	assert.Equal(t, StateIdle, c.State())
}

func TestConflictRuleSnapshotDominates(t *testing.T) {
	s := store.New(nil)
	s.InitializePlan(api.Session{ID: "sess-1"}, []api.Task{
		{ID: "task-a", SortOrder: 0},
		{ID: "task-b", SortOrder: 1},
	})

	fetcher := &fakeFetcher{snapshot: snapshotWith(
		api.Task{ID: "task-a", SortOrder: 0, Artifacts: []api.Artifact{{ID: "art-1"}, {ID: "art-2"}}},
		api.Task{ID: "task-b", SortOrder: 1, Artifacts: []api.Artifact{{ID: "art-3"}}},
	)}
	c, _ := newController(t, s, fetcher, nil)

	require.NoError(t, c.HandleMount(context.Background()))
	assert.Equal(t, 3, s.ArtifactCount(), "snapshot with artifacts must replace an artifact-less local view")
}

func TestConflictRuleKeepsRicherLocalState(t *testing.T) {
	s := store.New(nil)
	s.InitializePlan(api.Session{ID: "sess-1"}, []api.Task{
		{ID: "task-a", SortOrder: 0},
		{ID: "task-b", SortOrder: 1},
	})
	for i, id := range []string{"art-1", "art-2", "art-3"} {
		s.AddArtifact("task-a", api.Artifact{ID: id, Rank: i})
	}

	fetcher := &fakeFetcher{snapshot: snapshotWith(
		api.Task{ID: "task-a", SortOrder: 0},
		api.Task{ID: "task-b", SortOrder: 1},
	)}
	c, _ := newController(t, s, fetcher, nil)

	require.NoError(t, c.HandleMount(context.Background()))
	assert.Equal(t, StateRestored, c.State())
	assert.Equal(t, 3, s.ArtifactCount(), "a staler server read must not downgrade the live view")
}

func TestFetchFailureClearsStore(t *testing.T) {
	s := store.New(nil)
	s.InitializePlan(api.Session{ID: "sess-1"}, []api.Task{
		{ID: "task-a", SortOrder: 0},
		{ID: "task-b", SortOrder: 1},
	})
	fetchErr := errors.New("connection refused")
	fetcher := &fakeFetcher{err: fetchErr}
	c, _ := newController(t, s, fetcher, nil)

	err := c.HandleMount(context.Background())
	require.Error(t, err)
	var typed *FetchError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "conv-1", typed.ConversationID)
	assert.ErrorIs(t, err, fetchErr)

	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, s.TaskCount())
	assert.False(t, s.Initialized())
	assert.Error(t, c.LastError())
}

func TestNoTaskSessionRestoresWithoutMutation(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: &api.ConversationSnapshot{ConversationID: "conv-1"}}
	var restored bool
	c := NewController(Options{ConversationID: "conv-1", Enabled: true}, s, fetcher, nil, Hooks{
		OnRestored: func(*api.TaskSession) { restored = true },
	})

	require.NoError(t, c.HandleMount(context.Background()))
	assert.Equal(t, StateRestored, c.State())
	assert.Zero(t, s.TaskCount())
	assert.False(t, restored, "onRestored fires only for task-bearing snapshots")
}

func TestLateStreamDiscardsFetchedSnapshot(t *testing.T) {
	s := store.New(nil)
	probe := &fakeProbe{}
	fetcher := &fakeFetcher{snapshot: snapshotWith(api.Task{ID: "task-a", SortOrder: 0})}
	// The stream opens while the fetch is in flight.
	fetcher.onFetch = func() { probe.generating = true }
	c, _ := newController(t, s, fetcher, probe)

	require.NoError(t, c.HandleMount(context.Background()))
	assert.Equal(t, StateRestored, c.State())
	assert.Zero(t, s.TaskCount(), "late snapshot must not clobber the fresh stream's state")
}

func TestRunningTaskEmitsInfoNote(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: snapshotWith(
		api.Task{ID: "task-a", SortOrder: 0, Status: api.TaskStatusRunning},
	)}
	var note string
	c := NewController(Options{ConversationID: "conv-1", Enabled: true}, s, fetcher, nil, Hooks{
		OnInfoNote: func(n string) { note = n },
	})

	require.NoError(t, c.HandleMount(context.Background()))
	assert.NotEmpty(t, note)
}

func TestAwaitingApprovalRaisesBoundaryFlag(t *testing.T) {
	s := store.New(nil)
	snapshot := snapshotWith(
		api.Task{ID: "task-a", SortOrder: 0, Status: api.TaskStatusPending},
	)
	snapshot.TaskSession.Session.Status = api.SessionStatusAwaitingApprove
	fetcher := &fakeFetcher{snapshot: snapshot}
	var flagged bool
	c := NewController(Options{ConversationID: "conv-1", Enabled: true}, s, fetcher, nil, Hooks{
		OnApprovalRequired: func(required bool) { flagged = required },
	})

	require.NoError(t, c.HandleMount(context.Background()))
	assert.True(t, flagged)
	assert.True(t, c.WaitingForApproval())
}

func TestVisibilityHiddenLatchesStreamState(t *testing.T) {
	s := store.New(nil)
	probe := &fakeProbe{generating: true}
	fetcher := &fakeFetcher{snapshot: snapshotWith(api.Task{ID: "task-a", SortOrder: 0})}
	c, clock := newController(t, s, fetcher, probe)

	require.NoError(t, c.HandleVisibility(context.Background(), false))

	// Stream dies while hidden; refocus must reconcile from the server.
	probe.generating = false
	clock.Advance(DefaultDebounce)
	require.NoError(t, c.HandleVisibility(context.Background(), true))
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, StateRestored, c.State())
}

func TestDisabledOrUnidentifiedControllerDoesNothing(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: snapshotWith(api.Task{ID: "task-a", SortOrder: 0})}

	disabled := NewController(Options{ConversationID: "conv-1"}, s, fetcher, nil, Hooks{})
	require.NoError(t, disabled.HandleMount(context.Background()))

	anonymous := NewController(Options{Enabled: true}, s, fetcher, nil, Hooks{})
	require.NoError(t, anonymous.HandleMount(context.Background()))

	assert.Zero(t, fetcher.calls)
}

func TestResetRearmsDebounceAndFlags(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: snapshotWith(api.Task{ID: "task-a", SortOrder: 0})}
	c, _ := newController(t, s, fetcher, nil)

	require.NoError(t, c.HandleMount(context.Background()))
	require.Equal(t, 1, fetcher.calls)

	c.Reset()
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.StreamWasActive())
	assert.Equal(t, 1, s.TaskCount(), "reset must not clear the store")

	// Same instant, but the debounce timer was reset with the controller.
	require.NoError(t, c.HandleMount(context.Background()))
	assert.Equal(t, 2, fetcher.calls)
}

type recordingMetrics struct{ outcomes []string }

func (m *recordingMetrics) ObserveRestore(outcome string) { m.outcomes = append(m.outcomes, outcome) }

func TestOutcomesReachMetrics(t *testing.T) {
	s := store.New(nil)
	fetcher := &fakeFetcher{snapshot: snapshotWith(api.Task{ID: "task-a", SortOrder: 0})}
	metrics := &recordingMetrics{}
	c, _ := newController(t, s, fetcher, nil, func(o *Options) { o.Metrics = metrics })

	require.NoError(t, c.HandleMount(context.Background()))
	require.NoError(t, c.Restore(context.Background()))
	assert.Equal(t, []string{OutcomeRehydrated, OutcomeSkippedDebounce}, metrics.outcomes)
}
