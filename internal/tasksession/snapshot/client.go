package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

const (
	defaultTimeout  = 15 * time.Second
	maxSnapshotSize = 8 * 1024 * 1024
)

// ErrNotFound is returned when the server has no record of the conversation.
var ErrNotFound = errors.New("snapshot: conversation not found")

// Client fetches authoritative conversation snapshots over HTTP. It
// implements the restoration controller's Fetcher interface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a snapshot client against baseURL. httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logging.OrNop(logger),
	}
}

// FetchSnapshot retrieves the server's record for one conversation.
func (c *Client) FetchSnapshot(ctx context.Context, conversationID string) (*api.ConversationSnapshot, error) {
	if conversationID == "" {
		return nil, errors.New("snapshot: conversation id is required")
	}

	url := fmt.Sprintf("%s/api/conversations/%s", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot: fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	default:
		return nil, fmt.Errorf("snapshot: unexpected status %d from %s", resp.StatusCode, url)
	}

	var result api.ConversationSnapshot
	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxSnapshotSize))
	if err := decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("snapshot: decoding response for %s: %w", conversationID, err)
	}
	if result.ConversationID == "" {
		result.ConversationID = conversationID
	}
	tasks := 0
	if result.TaskSession != nil {
		tasks = len(result.TaskSession.Tasks)
	}
	c.logger.Debug("fetched snapshot for conversation %s (%d tasks)", conversationID, tasks)
	return &result, nil
}
