package syncer

import "sync"

// Guard admits at most one run per user at a time.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewGuard constructs an empty Guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// TryAcquire claims userID. The returned release must be called once the run ends.
func (g *Guard) TryAcquire(userID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[userID]; busy {
		return nil, false
	}
	g.active[userID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, userID)
			g.mu.Unlock()
		})
	}, true
}
