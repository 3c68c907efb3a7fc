// Package flight collapses concurrent identical requests into one unit
// of in-flight work. Unlike result-sharing coalescers, waiters do not
// reuse the leader's payload: once the leader finishes, each waiter runs
// its own read against the now-current state. This bounds concurrent
// work without handing one caller's response to another.
package flight

import "sync"

// Group tracks in-flight work by request key.
type Group struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewGroup returns an empty flight group.
func NewGroup() *Group {
	return &Group{inflight: make(map[string]chan struct{})}
}

// Run executes fn for the given key. The first caller for a key becomes
// the leader; callers arriving while the leader runs block until it
// completes, then execute fn themselves. The leader's entry is cleared
// and signaled even when fn fails or panics.
func (g *Group) Run(key string, fn func() error) error {
	g.mu.Lock()
	if ch, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		<-ch
		return fn()
	}

	ch := make(chan struct{})
	g.inflight[key] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inflight, key)
		g.mu.Unlock()
		close(ch)
	}()

	return fn()
}

// Inflight reports how many keys currently have work in flight.
func (g *Group) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
