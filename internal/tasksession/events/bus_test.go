package events

import (
	"context"
	"testing"
	"time"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/store"
)

func TestBusDeliversChangeEvents(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Watch(ctx, "conv-1")
	if err != nil {
		t.Fatalf("watch returned error: %v", err)
	}

	s := store.New(nil)
	s.AddObserver(bus.Observer("conv-1", s.SelectedTaskID))
	s.InitializePlan(api.Session{ID: "sess-1"}, []api.Task{{ID: "task-a", SortOrder: 0}})

	select {
	case evt := <-ch:
		if evt == nil || evt.ConversationID != "conv-1" || evt.Version == 0 {
			t.Fatalf("unexpected event payload: %#v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestBusPublishesSelectionChanges(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Watch(ctx, "conv-1")
	if err != nil {
		t.Fatalf("watch returned error: %v", err)
	}

	s := store.New(nil)
	s.InitializePlan(api.Session{ID: "sess-1"}, []api.Task{{ID: "task-a", SortOrder: 0}})
	s.AddObserver(bus.Observer("conv-1", s.SelectedTaskID))
	s.SelectTask("task-a")

	select {
	case evt := <-ch:
		if !evt.Selection || evt.SelectedTaskID != "task-a" {
			t.Fatalf("unexpected event payload: %#v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for selection event")
	}
}

func TestBusCleansUpWatchers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Watch(ctx, "conv-2")
	if err != nil {
		t.Fatalf("watch returned error: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}

	if err := func() error {
		_, err := bus.Watch(context.Background(), "")
		return err
	}(); err == nil {
		t.Fatalf("expected error for empty conversation id")
	}
}

func TestBusIsolatesConversations(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other, err := bus.Watch(ctx, "conv-other")
	if err != nil {
		t.Fatalf("watch returned error: %v", err)
	}

	s := store.New(nil)
	s.AddObserver(bus.Observer("conv-1", nil))
	s.Clear()

	select {
	case evt := <-other:
		t.Fatalf("watcher for another conversation received %#v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
