package restore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

// State names the controller's position in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRestoring State = "restoring"
	StateRestored  State = "restored"
)

// DefaultDebounce is the minimum gap between restoration attempts for one
// conversation.
const DefaultDebounce = 5 * time.Second

// Outcome labels how a restoration pass resolved; exported for metrics.
const (
	OutcomeRehydrated      = "rehydrated"
	OutcomeKeptLocal       = "kept_local"
	OutcomeNoSession       = "no_session"
	OutcomeDiscardedLate   = "discarded_late_stream"
	OutcomeFetchFailed     = "fetch_failed"
	OutcomeSkippedDebounce = "skipped_debounce"
	OutcomeSkippedStream   = "skipped_stream_active"
	OutcomeSkippedInFlight = "skipped_in_flight"
)

// FetchError wraps a snapshot fetch failure so callers can branch on it.
type FetchError struct {
	ConversationID string
	Err            error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("restore: fetching snapshot for conversation %s: %v", e.ConversationID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves the authoritative conversation snapshot. Timeouts and
// retries belong to the implementation, not to the controller.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, conversationID string) (*api.ConversationSnapshot, error)
}

// StreamProbe reports whether a live progress-event stream is currently open
// for a conversation.
type StreamProbe interface {
	Generating(conversationID string) bool
}

// Store is the slice of the task collection store the controller needs: the
// bulk rehydration half plus the reads feeding the conflict rule and the
// post-restore checks.
type Store interface {
	api.Rehydrator
	TaskCount() int
	ArtifactCount() int
	PendingCount() int
	HasRunning() bool
	Session() (api.Session, bool)
}

// Mirror receives advisory copies of restored sessions for first-paint reuse.
type Mirror interface {
	RecordRestore(conversationID string, session *api.TaskSession)
}

// MetricsRecorder counts restoration outcomes.
type MetricsRecorder interface {
	ObserveRestore(outcome string)
}

// Hooks are the controller's outward notifications. All fields are optional.
type Hooks struct {
	// OnRestored fires after a successful pass over a task-bearing snapshot,
	// whether or not the store was rehydrated.
	OnRestored func(session *api.TaskSession)
	// OnInfoNote carries the user-visible note when the reconciled state
	// still shows running work.
	OnInfoNote func(note string)
	// OnApprovalRequired raises the human-in-the-loop boundary flag.
	OnApprovalRequired func(required bool)
}

// Options configures a controller instance.
type Options struct {
	ConversationID string
	Enabled        bool
	// Debounce defaults to DefaultDebounce when zero.
	Debounce time.Duration
	// Clock defaults to time.Now; injectable for tests.
	Clock   func() time.Time
	Logger  logging.Logger
	Mirror  Mirror
	Metrics MetricsRecorder
}

// Controller reconciles local store state with the server's authoritative
// snapshot on mount and on tab refocus, without disrupting a live stream.
// One controller tracks one conversation.
type Controller struct {
	opts    Options
	store   Store
	fetcher Fetcher
	probe   StreamProbe
	hooks   Hooks
	logger  logging.Logger
	clock   func() time.Time

	mu               sync.Mutex
	state            State
	inFlight         bool
	lastAttempt      time.Time
	streamWasActive  bool
	hiddenStreamLive bool
	waitingApproval  bool
	lastErr          error
}

// NewController wires a controller. fetcher and store are required; probe may
// be nil when no live stream exists for the surface.
func NewController(opts Options, st Store, fetcher Fetcher, probe StreamProbe, hooks Hooks) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		opts:    opts,
		store:   st,
		fetcher: fetcher,
		probe:   probe,
		hooks:   hooks,
		logger:  logging.OrNop(opts.Logger),
		clock:   clock,
		state:   StateIdle,
	}
}

// HandleMount runs the restoration pass for the initial mount of a
// conversation view.
func (c *Controller) HandleMount(ctx context.Context) error {
	return c.restore(ctx)
}

// HandleVisibility reacts to tab visibility changes. Going hidden snapshots
// whether a live stream is active; coming back triggers a restoration pass,
// which is how a stream that silently died while hidden gets detected.
func (c *Controller) HandleVisibility(ctx context.Context, visible bool) error {
	if !visible {
		live := c.probe != nil && c.probe.Generating(c.opts.ConversationID)
		c.mu.Lock()
		c.hiddenStreamLive = live
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	wasLive := c.hiddenStreamLive
	c.hiddenStreamLive = false
	c.mu.Unlock()
	if wasLive && (c.probe == nil || !c.probe.Generating(c.opts.ConversationID)) {
		c.logger.Info("stream for conversation %s ended while tab was hidden, reconciling", c.opts.ConversationID)
	}
	return c.restore(ctx)
}

// Restore is the manually invocable trigger (explicit refresh). It obeys the
// same guards as the automatic triggers.
func (c *Controller) Restore(ctx context.Context) error {
	return c.restore(ctx)
}

func (c *Controller) restore(ctx context.Context) error {
	if c.opts.ConversationID == "" || !c.opts.Enabled {
		return nil
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.observe(OutcomeSkippedInFlight)
		return nil
	}
	now := c.clock()
	if !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.opts.Debounce {
		c.mu.Unlock()
		c.observe(OutcomeSkippedDebounce)
		return nil
	}
	if c.probe != nil && c.probe.Generating(c.opts.ConversationID) {
		c.streamWasActive = true
		c.mu.Unlock()
		c.logger.Debug("live stream open for conversation %s, skipping restore", c.opts.ConversationID)
		c.observe(OutcomeSkippedStream)
		return nil
	}
	c.lastAttempt = now
	c.inFlight = true
	c.state = StateRestoring
	c.mu.Unlock()

	snapshot, err := c.fetcher.FetchSnapshot(ctx, c.opts.ConversationID)
	if err != nil {
		fetchErr := &FetchError{ConversationID: c.opts.ConversationID, Err: err}
		c.mu.Lock()
		c.inFlight = false
		c.state = StateIdle
		c.lastErr = fetchErr
		c.mu.Unlock()
		// Stale local state must not outlive a failed reconciliation.
		c.store.Clear()
		c.logger.Error("restore failed for conversation %s: %v", c.opts.ConversationID, err)
		c.observe(OutcomeFetchFailed)
		return fetchErr
	}

	outcome := c.apply(snapshot)
	c.observe(outcome)
	return nil
}

// apply resolves a successfully fetched snapshot against local state and
// finishes the pass.
func (c *Controller) apply(snapshot *api.ConversationSnapshot) string {
	// A stream that opened while the fetch was in flight owns the state now;
	// overwriting it with the older server read would clobber live updates.
	if c.probe != nil && c.probe.Generating(c.opts.ConversationID) {
		c.finish(nil)
		c.logger.Info("discarding late restore for conversation %s, live stream started mid-flight", c.opts.ConversationID)
		return OutcomeDiscardedLate
	}

	if snapshot == nil || snapshot.TaskSession == nil {
		c.finish(nil)
		return OutcomeNoSession
	}

	session := snapshot.TaskSession
	localTasks := c.store.TaskCount()
	localArtifacts := c.store.ArtifactCount()
	snapshotArtifacts := session.ArtifactCount()

	rehydrate := localTasks == 0 || (snapshotArtifacts > 0 && localArtifacts == 0)
	if rehydrate {
		c.store.RestoreFromSnapshot(session.Session, session.Tasks)
		if c.opts.Mirror != nil {
			c.opts.Mirror.RecordRestore(c.opts.ConversationID, session)
		}
	} else {
		c.logger.Debug("keeping local state for conversation %s: local %d artifacts vs snapshot %d",
			c.opts.ConversationID, localArtifacts, snapshotArtifacts)
	}

	c.finish(session)

	if c.store.HasRunning() && c.hooks.OnInfoNote != nil {
		c.hooks.OnInfoNote("a task may still be executing on the server")
	}
	if sess, ok := c.store.Session(); ok {
		if sess.Status == api.SessionStatusAwaitingApprove && c.store.PendingCount() > 0 {
			c.mu.Lock()
			c.waitingApproval = true
			c.mu.Unlock()
			if c.hooks.OnApprovalRequired != nil {
				c.hooks.OnApprovalRequired(true)
			}
		}
	}

	if rehydrate {
		return OutcomeRehydrated
	}
	return OutcomeKeptLocal
}

// finish commits the Restored state and emits OnRestored for task-bearing
// snapshots.
func (c *Controller) finish(session *api.TaskSession) {
	c.mu.Lock()
	c.inFlight = false
	c.state = StateRestored
	c.lastErr = nil
	c.mu.Unlock()
	if session != nil && c.hooks.OnRestored != nil {
		c.hooks.OnRestored(session)
	}
}

func (c *Controller) observe(outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveRestore(outcome)
	}
}

// Reset returns the controller to its initial flags on unmount or
// conversation switch. It deliberately leaves the store alone; clearing task
// state is the owner's call.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.lastAttempt = time.Time{}
	c.streamWasActive = false
	c.hiddenStreamLive = false
	c.waitingApproval = false
	c.lastErr = nil
}

// State returns the controller's lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRestoring reports whether a restoration pass is in flight.
func (c *Controller) IsRestoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// IsRestored reports whether the last pass completed.
func (c *Controller) IsRestored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRestored
}

// StreamWasActive reports whether a trigger ever found a live stream open.
func (c *Controller) StreamWasActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamWasActive
}

// WaitingForApproval reports the human-in-the-loop boundary flag.
func (c *Controller) WaitingForApproval() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitingApproval
}

// LastError returns the most recent restoration failure, nil after a
// successful pass.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
