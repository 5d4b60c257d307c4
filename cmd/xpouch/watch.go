package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/events"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/metrics"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/mirror"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/restore"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/snapshot"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/store"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/stream"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newWatchCommand() *cobra.Command {
	var (
		conversationID string
		serverURL      string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a conversation's task session live",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				serverURL = cfg.ServerBaseURL
			}
			if !isTTY() {
				color.NoColor = true
			}
			return runWatch(cmd.Context(), serverURL, conversationID)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "conv-demo", "conversation id to follow")
	cmd.Flags().StringVar(&serverURL, "server", "", "backend base URL (default from config)")
	return cmd
}

func runWatch(parent context.Context, serverURL, conversationID string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.NewComponentLogger("watch")

	collector, err := metrics.NewCollector(cfg.MetricsNamespace, nil)
	if err != nil {
		return fmt.Errorf("setting up metrics: %w", err)
	}
	firstPaint, err := mirror.New(cfg.MirrorSize)
	if err != nil {
		return err
	}

	taskStore := store.New(logging.NewComponentLogger("store"))
	taskStore.AddObserver(collector)

	dispatcher := events.NewDispatcher(taskStore, logging.NewComponentLogger("events"))
	streamClient := stream.NewClient(serverURL, nil, dispatcher, logging.NewComponentLogger("stream"))
	snapshotClient := snapshot.NewClient(serverURL, nil, logging.NewComponentLogger("snapshot"))

	controller := restore.NewController(restore.Options{
		ConversationID: conversationID,
		Enabled:        cfg.RestoreEnabled,
		Debounce:       cfg.RestoreDebounce,
		Logger:         logging.NewComponentLogger("restore"),
		Mirror:         firstPaint,
		Metrics:        collector,
	}, taskStore, snapshotClient, streamClient, restore.Hooks{
		OnInfoNote: func(note string) {
			fmt.Println(yellow("note: " + note))
		},
		OnApprovalRequired: func(required bool) {
			if required {
				fmt.Println(cyan("waiting for approval before execution continues"))
			}
		},
	})

	if cached, ok := firstPaint.FirstPaint(conversationID); ok {
		fmt.Println(gray(fmt.Sprintf("cached view: %d tasks from last session", len(cached.Tasks))))
	}
	if err := controller.HandleMount(ctx); err != nil {
		logger.Warn("initial restore failed: %v", err)
		fmt.Println(red("could not restore session state: " + err.Error()))
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return streamClient.RunUntilClosed(ctx, conversationID, cfg.StreamBackoff)
	})
	group.Go(func() error {
		renderLoop(ctx, taskStore)
		return nil
	})

	fmt.Println(bold("watching conversation " + conversationID))
	return group.Wait()
}

// renderLoop reprints the task table whenever the store's cache version
// moves.
func renderLoop(ctx context.Context, taskStore *store.Store) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			view, version := taskStore.View()
			if version == lastVersion {
				continue
			}
			lastVersion = version
			printView(view, taskStore.SelectedTaskID(), version)
		}
	}
}

func printView(view []api.Task, selected string, version uint64) {
	fmt.Println(gray(fmt.Sprintf("-- view v%d --", version)))
	for _, task := range view {
		marker := "  "
		if task.ID == selected {
			marker = bold("> ")
		}
		line := fmt.Sprintf("%s%s %s %s %s", marker, statusBadge(task.Status), bold(task.Expert), task.Description, taskSuffix(task))
		fmt.Println(strings.TrimRight(line, " "))
	}
}

func statusBadge(status api.TaskStatus) string {
	switch status {
	case api.TaskStatusRunning:
		return yellow("[running  ]")
	case api.TaskStatusCompleted:
		return green("[completed]")
	case api.TaskStatusFailed:
		return red("[failed   ]")
	default:
		return gray("[pending  ]")
	}
}

func taskSuffix(task api.Task) string {
	parts := make([]string, 0, 2)
	if task.DurationMS > 0 {
		parts = append(parts, fmt.Sprintf("%.1fs", float64(task.DurationMS)/1000))
	}
	if n := len(task.Artifacts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d artifact(s)", n))
	}
	if task.Error != "" {
		parts = append(parts, red(task.Error))
	}
	return gray(strings.Join(parts, " · "))
}
