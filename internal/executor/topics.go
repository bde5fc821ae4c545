package executor

import "sync"

// Topics maps function ids to their in-flight execution ids so the
// stream gateway can resolve a subscription request to a live topic.
//
// A function may have several concurrent executions; Resolve returns the
// most recently started one, which is what a dashboard tailing "this
// function's logs" expects. Executions deregister only after the
// subscribe grace period, so a subscriber arriving just after completion
// still resolves and sees a clean end-of-stream.
type Topics struct {
	mu     sync.RWMutex
	active map[string][]string
}

// NewTopics creates an empty registry.
func NewTopics() *Topics {
	return &Topics{active: make(map[string][]string)}
}

// Begin records an execution as active for its function.
func (t *Topics) Begin(functionID, executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[functionID] = append(t.active[functionID], executionID)
}

// End removes an execution from its function's active set.
func (t *Topics) End(functionID, executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.active[functionID]
	for i, id := range ids {
		if id == executionID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(t.active, functionID)
		return
	}
	t.active[functionID] = ids
}

// Resolve returns the topic of the newest active execution for the
// function, or false when none is in flight.
func (t *Topics) Resolve(functionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.active[functionID]
	if len(ids) == 0 {
		return "", false
	}
	return ids[len(ids)-1], true
}

// ActiveCount reports the number of in-flight executions for a function.
func (t *Topics) ActiveCount(functionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active[functionID])
}
