package storage

import "sync"

// Gate serializes migration against traffic per record kind. Migration takes
// the exclusive side for the duration of a kind's plan application; reads and
// writes take the shared side, so a kind under migration admits no traffic
// while other kinds remain available.
type Gate struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{locks: make(map[string]*sync.RWMutex)}
}

func (g *Gate) lock(kind string) *sync.RWMutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[kind]
	if !ok {
		l = &sync.RWMutex{}
		g.locks[kind] = l
	}
	return l
}

// Exclusive acquires the exclusive scope for a kind.
func (g *Gate) Exclusive(kind string) func() {
	l := g.lock(kind)
	l.Lock()
	return l.Unlock
}

// Shared acquires the shared scope for a kind.
func (g *Gate) Shared(kind string) func() {
	l := g.lock(kind)
	l.RLock()
	return l.RUnlock
}
