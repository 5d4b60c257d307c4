package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/store"
)

const defaultBuffer = 16

// ChangeEvent tells a watcher that the tracked store moved.
type ChangeEvent struct {
	ConversationID string
	Version        uint64
	SelectedTaskID string
	// Selection is true when the event was produced by a selection change
	// rather than a data mutation.
	Selection bool
}

// Bus fans store change notifications out to UI consumers, keyed by
// conversation id. Slow watchers drop events instead of blocking the
// mutation path.
type Bus struct {
	mu       sync.RWMutex
	watchers map[string]map[uint64]*watchRegistration
	nextID   uint64
}

type watchRegistration struct {
	ch chan *ChangeEvent
}

func NewBus() *Bus {
	return &Bus{watchers: make(map[string]map[uint64]*watchRegistration)}
}

// Watch subscribes to change events for one conversation until ctx is done.
func (b *Bus) Watch(ctx context.Context, conversationID string) (<-chan *ChangeEvent, error) {
	if conversationID == "" {
		return nil, errors.New("task events: conversation id is required")
	}

	ch := make(chan *ChangeEvent, defaultBuffer)
	id := atomic.AddUint64(&b.nextID, 1)

	b.mu.Lock()
	if _, ok := b.watchers[conversationID]; !ok {
		b.watchers[conversationID] = make(map[uint64]*watchRegistration)
	}
	b.watchers[conversationID][id] = &watchRegistration{ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.removeWatcher(conversationID, id)
	}()

	return ch, nil
}

// Observer returns a store.Observer that publishes this conversation's store
// changes onto the bus.
func (b *Bus) Observer(conversationID string, selected func() string) store.Observer {
	return &busObserver{bus: b, conversationID: conversationID, selected: selected}
}

type busObserver struct {
	bus            *Bus
	conversationID string
	selected       func() string
}

func (o *busObserver) StoreChanged(version uint64) {
	event := &ChangeEvent{ConversationID: o.conversationID, Version: version}
	if o.selected != nil {
		event.SelectedTaskID = o.selected()
	}
	o.bus.dispatch(o.conversationID, event)
}

func (o *busObserver) SelectionChanged(taskID string) {
	o.bus.dispatch(o.conversationID, &ChangeEvent{
		ConversationID: o.conversationID,
		SelectedTaskID: taskID,
		Selection:      true,
	})
}

func (b *Bus) dispatch(conversationID string, event *ChangeEvent) {
	b.mu.RLock()
	watchers := b.watchers[conversationID]
	copies := make([]*watchRegistration, 0, len(watchers))
	for _, reg := range watchers {
		copies = append(copies, reg)
	}
	b.mu.RUnlock()

	for _, reg := range copies {
		b.safeSend(reg, event)
	}
}

func (b *Bus) safeSend(reg *watchRegistration, event *ChangeEvent) {
	defer func() {
		if recover() != nil {
			// The watcher channel was closed after we copied the registration.
			// Ignore the event and keep publishing to other watchers.
		}
	}()

	select {
	case reg.ch <- event:
	default:
	}
}

func (b *Bus) removeWatcher(conversationID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	watchers := b.watchers[conversationID]
	if watchers == nil {
		return
	}
	if reg, ok := watchers[id]; ok {
		delete(watchers, id)
		close(reg.ch)
	}
	if len(watchers) == 0 {
		delete(b.watchers, conversationID)
	}
}
