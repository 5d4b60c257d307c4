package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 512 * 1024
)

// Applier consumes parsed progress events; in practice the event application
// layer's dispatcher.
type Applier interface {
	Apply(event api.ProgressEvent) error
}

// Client consumes a conversation's server-sent progress stream and feeds each
// parsed frame to the application layer. While a stream is open the client
// reports the conversation as generating, which is the live-stream guard the
// restoration controller checks.
type Client struct {
	baseURL    string
	httpClient *http.Client
	applier    Applier
	logger     logging.Logger

	mu         sync.Mutex
	generating map[string]bool
}

// NewClient builds a stream client against baseURL. httpClient may be nil; a
// client without timeout is used so long-lived streams are not cut off.
func NewClient(baseURL string, httpClient *http.Client, applier Applier, logger logging.Logger) *Client {
	if httpClient == nil {
		// No client-side timeout: the stream is expected to stay open.
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		applier:    applier,
		logger:     logging.OrNop(logger),
		generating: make(map[string]bool),
	}
}

// Generating reports whether a progress stream is currently open for the
// conversation. Implements the restoration controller's StreamProbe.
func (c *Client) Generating(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating[conversationID]
}

func (c *Client) setGenerating(conversationID string, value bool) {
	c.mu.Lock()
	c.generating[conversationID] = value
	c.mu.Unlock()
}

// Run opens the event stream for one conversation and applies frames until
// the stream ends or ctx is cancelled. The generating flag is dropped on any
// exit path, including a silently dying connection.
func (c *Client) Run(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("stream: conversation id is required")
	}

	url := fmt.Sprintf("%s/api/conversations/%s/events", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("stream: building request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream: connecting to %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d from %s", resp.StatusCode, url)
	}

	c.setGenerating(conversationID, true)
	defer c.setGenerating(conversationID, false)
	c.logger.Info("progress stream open for conversation %s", conversationID)

	return c.consume(ctx, conversationID, resp.Body)
}

func (c *Client) consume(ctx context.Context, conversationID string, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	var eventName string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, ":"):
			// Comment frame, typically a heartbeat.
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			c.handleFrame(conversationID, eventName, payload)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("stream: reading events for conversation %s: %w", conversationID, err)
	}
	c.logger.Info("progress stream closed for conversation %s", conversationID)
	return nil
}

func (c *Client) handleFrame(conversationID, eventName, payload string) {
	if eventName == "connected" {
		return
	}

	var event api.ProgressEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		c.logger.Warn("dropping undecodable frame for conversation %s: %v", conversationID, err)
		return
	}
	if event.Type == "" {
		event.Type = api.ProgressEventType(eventName)
	}
	if event.ConversationID == "" {
		event.ConversationID = conversationID
	}
	if err := c.applier.Apply(event); err != nil {
		c.logger.Warn("dropping frame for conversation %s: %v", conversationID, err)
	}
}

// RunUntilClosed keeps the stream open across transient disconnects until ctx
// is done, waiting backoff between attempts.
func (c *Client) RunUntilClosed(ctx context.Context, conversationID string, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		err := c.Run(ctx, conversationID)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warn("stream for conversation %s dropped: %v", conversationID, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}
