// Per-conversation continuation state for stateful-response providers
package orchestrator

import "sync"

// ContinuationContext tracks the last server-side response identifier per
// conversation. It is owned by one Orchestrator value and read immediately
// before building a stateful continuation request. The sequential ping-pong
// model means no concurrent access within a conversation, but one
// orchestrator may serve distinct conversation ids from different
// goroutines, so access is guarded.
type ContinuationContext struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewContinuationContext creates an empty continuation context.
func NewContinuationContext() *ContinuationContext {
	return &ContinuationContext{ids: make(map[string]string)}
}

// Record stores the latest response identifier for a conversation. Empty
// identifiers are ignored so a provider that stopped reporting ids does not
// erase earlier state.
func (c *ContinuationContext) Record(conversationID, responseID string) {
	if conversationID == "" || responseID == "" {
		return
	}
	c.mu.Lock()
	c.ids[conversationID] = responseID
	c.mu.Unlock()
}

// Lookup returns the last recorded response identifier for a conversation.
func (c *ContinuationContext) Lookup(conversationID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[conversationID]
	return id, ok
}

// Forget removes a conversation's state, e.g. when the caller resets it.
func (c *ContinuationContext) Forget(conversationID string) {
	c.mu.Lock()
	delete(c.ids, conversationID)
	c.mu.Unlock()
}
