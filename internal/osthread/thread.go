package osthread

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrUnsupported is returned when CPU pinning is requested on a platform
// without support for it.
var ErrUnsupported = errors.New("osthread: cpu affinity not supported on this platform")

// Config describes how a unit of execution is started.
type Config struct {
	// OnCancel is invoked, at most once, by Thread.Cancel. Cancellation is
	// cooperative: it is the hook's job to make fn return.
	OnCancel func()

	// CPU pins the thread to the given CPU, if non-negative. Pinning implies
	// LockOSThread.
	CPU int

	// LockOSThread wires the goroutine to its own OS thread for its lifetime.
	LockOSThread bool
}

// Thread is a started unit of execution.
type Thread struct {
	done       chan struct{}
	onCancel   func()
	cancelOnce sync.Once
	tid        atomic.Int64
	cpu        int
}

// StartFunc is the signature of Start, allowing callers to substitute it.
type StartFunc func(cfg Config, fn func()) (*Thread, error)

// Start runs fn on a new goroutine, configured as per cfg. Setup failures
// (thread locking or pinning) are reported synchronously, in which case fn
// is never called.
func Start(cfg Config, fn func()) (*Thread, error) {
	if fn == nil {
		return nil, errors.New("osthread: nil function")
	}
	t := &Thread{
		done:     make(chan struct{}),
		onCancel: cfg.OnCancel,
		cpu:      -1,
	}
	lock := cfg.LockOSThread || cfg.CPU >= 0
	setup := make(chan error, 1)
	go func() {
		defer close(t.done)
		if lock {
			runtime.LockOSThread()
			// deliberately never unlocked: a pinned thread is discarded on exit
			t.tid.Store(int64(currentThreadID()))
		}
		if cfg.CPU >= 0 {
			if err := setAffinity(cfg.CPU); err != nil {
				setup <- fmt.Errorf("osthread: pin to cpu %d: %w", cfg.CPU, err)
				return
			}
			t.cpu = cfg.CPU
		}
		setup <- nil
		fn()
	}()
	if err := <-setup; err != nil {
		<-t.done
		return nil, err
	}
	return t, nil
}

// Join blocks until the thread's function has returned.
func (t *Thread) Join() {
	if t != nil {
		<-t.done
	}
}

// Done is closed once the thread's function has returned.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Cancel requests the thread stop, via the configured OnCancel hook.
func (t *Thread) Cancel() {
	if t == nil {
		return
	}
	t.cancelOnce.Do(func() {
		if t.onCancel != nil {
			t.onCancel()
		}
	})
}

// TID returns the OS thread id, or 0 if the thread is not locked (or the
// platform does not expose one).
func (t *Thread) TID() int { return int(t.tid.Load()) }

// CPU returns the pinned CPU, or -1.
func (t *Thread) CPU() int { return t.cpu }
