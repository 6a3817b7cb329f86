package osthread

import (
	"sync"
)

// Gate is a binary semaphore used to park and wake a single worker.
//
// At most one signal is retained: posting an already-signalled gate is a
// no-op. Once closed, waiters return immediately and posts are discarded.
// The zero value is not usable, see [NewGate].
type Gate struct {
	ch     chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewGate returns an open, unsignalled gate.
func NewGate() *Gate {
	return &Gate{
		ch:     make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Post signals the gate without blocking. It reports false if the gate
// was already signalled, or closed.
func (g *Gate) Post() bool {
	select {
	case <-g.closed:
		return false
	default:
	}
	select {
	case g.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate is signalled, consuming the signal, and returns
// true. It returns false if the gate is (or becomes) closed.
func (g *Gate) Wait() bool {
	select {
	case <-g.ch:
		return true
	case <-g.closed:
		return false
	}
}

// TryWait consumes a pending signal, if any, without blocking.
func (g *Gate) TryWait() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Close releases any current and future waiters. Safe to call repeatedly.
func (g *Gate) Close() {
	g.once.Do(func() { close(g.closed) })
}

// Closed reports whether Close has been called.
func (g *Gate) Closed() bool {
	select {
	case <-g.closed:
		return true
	default:
		return false
	}
}
