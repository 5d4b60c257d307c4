package mirror

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

const defaultMaxEntries = 32

// Cache is the advisory first-paint mirror: the last restored task session
// per conversation, kept so a remounting view can paint instantly before the
// authoritative snapshot arrives. It is never a source of truth; the
// restoration controller's conflict rule always decides against the server
// record.
type Cache struct {
	entries *lru.Cache[string, *api.TaskSession]
}

// New builds a mirror bounded to maxEntries conversations (defaulted when
// non-positive).
func New(maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	entries, err := lru.New[string, *api.TaskSession](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("mirror: creating lru cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// RecordRestore stores a structurally independent copy of a restored session.
func (c *Cache) RecordRestore(conversationID string, session *api.TaskSession) {
	if conversationID == "" || session == nil {
		return
	}
	c.entries.Add(conversationID, cloneSession(session))
}

// FirstPaint returns a copy of the last recorded session for a conversation.
func (c *Cache) FirstPaint(conversationID string) (*api.TaskSession, bool) {
	session, ok := c.entries.Get(conversationID)
	if !ok {
		return nil, false
	}
	return cloneSession(session), true
}

// Forget drops a conversation's mirror entry.
func (c *Cache) Forget(conversationID string) {
	c.entries.Remove(conversationID)
}

// Len returns the number of mirrored conversations.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func cloneSession(session *api.TaskSession) *api.TaskSession {
	cloned := &api.TaskSession{Session: session.Session}
	if len(session.Tasks) > 0 {
		cloned.Tasks = make([]api.Task, len(session.Tasks))
		for i, task := range session.Tasks {
			cloned.Tasks[i] = task.Clone()
		}
	}
	return cloned
}
