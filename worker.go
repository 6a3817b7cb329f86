package workqueue

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-workqueue/internal/osthread"
)

// Callback is invoked by a worker. For queue workers item is the item to
// process, valid for the duration of the call (and beyond, until the queue
// is reset). For task workers item is nil.
//
// A callback must not block indefinitely, and must not call methods that
// change the structure of the pool or its queues. It may call
// [Pool.StopWorker], [Pool.QuitWorker], [Pool.Post] and [Pool.Stats].
type Callback[T any] func(id int, item *T)

// worker is a slot in the pool.
type worker[T any] struct {
	callback Callback[T]
	gate     *osthread.Gate
	thread   *osthread.Thread

	errMu sync.Mutex
	err   error

	processed atomic.Uint64
	posts     atomic.Uint64 // Post calls, task workers
	acked     atomic.Uint64 // posts observed as served, task workers
	wakes     atomic.Uint64 // gate signals sent
	seen      atomic.Uint64 // gate signals observed by the worker
	state     atomicWorkerState
	req       atomicRequest
	done      atomic.Bool

	id     int
	stripe int
	stride uint64
	kind   WorkerKind
	group  Group
}

func (w *worker[T]) setErr(err error) {
	w.errMu.Lock()
	w.err = err
	w.errMu.Unlock()
}

func (w *worker[T]) lastErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// wake signals the gate, counting the signal so that barriers can tell a
// parked worker from one that is about to wake.
func (w *worker[T]) wake() {
	w.wakes.Add(1)
	w.gate.Post()
}

// parked reports whether the worker is blocked on its gate, with no wake
// pending.
func (w *worker[T]) parked() bool {
	return w.state.Load() == WorkerStop && w.seen.Load() == w.wakes.Load()
}

// consumes reports whether the worker reads queues.
func (w *worker[T]) consumes() bool { return w.kind != KindTask }

// origin is the worker's initial progress on a fresh entry.
func (w *worker[T]) origin() uint64 {
	if w.kind == KindBatch {
		return uint64(w.stripe)
	}
	return 0
}

func (p *Pool[T]) groupState(g Group) *atomicGroupState {
	if g == GroupBatch {
		return &p.batch
	}
	return &p.stream
}

// exit is the terminal transition of every dispatch loop.
func (p *Pool[T]) exit(w *worker[T]) {
	w.done.Store(true)
	w.state.Store(WorkerQuit)
	w.gate.Close()
	p.logger.Debug().
		Int(`worker`, w.id).
		Str(`kind`, w.kind.String()).
		Uint64(`processed`, w.processed.Load()).
		Log(`worker exited`)
}

// park blocks on the gate in WorkerStop, returning false if the worker
// must exit instead of resuming. A queue worker woken only to pause goes
// back to the gate if its group is still stopped afterwards.
func (p *Pool[T]) park(w *worker[T], group *atomicGroupState, bo *osthread.Backoff) bool {
	for {
		w.state.Store(WorkerStop)
		if !w.gate.Wait() {
			return false
		}
		if group.Load() == GroupQuit || w.req.Load() == requestQuit {
			return false
		}
		// running must be visible before the wake is marked seen
		w.state.Store(WorkerRun)
		w.seen.Store(w.wakes.Load())

		if group.Load() != GroupWait {
			return true
		}
		p.pause(w, group, bo)
		if !w.consumes() || group.Load() != GroupStop {
			return true
		}
	}
}

// pause spins in WorkerWait until the group leaves GroupWait.
func (p *Pool[T]) pause(w *worker[T], group *atomicGroupState, bo *osthread.Backoff) {
	w.state.Store(WorkerWait)
	for group.Load() == GroupWait {
		bo.Pause()
	}
	bo.Reset()
	w.state.Store(WorkerRun)
}

// runQueue is the dispatch loop of stream and batch workers. Each cycle
// consumes at most one item per registered entry, in registry order,
// advancing by the worker's stride.
func (p *Pool[T]) runQueue(w *worker[T]) {
	defer p.exit(w)
	group := p.groupState(w.group)
	bo := p.backoff()

	w.done.Store(true)
	if !p.park(w, group, &bo) {
		return
	}
	p.logger.Debug().Int(`worker`, w.id).Str(`kind`, w.kind.String()).Log(`worker started`)

	for {
		// loaded before polling, so a stop or quit is only honored after a
		// poll that started later found nothing
		g, r := group.Load(), w.req.Load()
		if g == GroupWait {
			p.pause(w, group, &bo)
			continue
		}

		if p.poll(w) {
			w.done.Store(false)
			bo.Reset()
			continue
		}

		w.done.Store(true)
		switch {
		case g == GroupQuit || r == requestQuit:
			return
		case g == GroupStop || r == requestStop:
			if !p.park(w, group, &bo) {
				return
			}
			bo.Reset()
		default:
			bo.Pause()
		}
	}
}

// poll reports whether any item was consumed.
func (p *Pool[T]) poll(w *worker[T]) (progressed bool) {
	for e := p.reg.head; e != nil; e = e.next {
		pos := e.progress[w.id].Load()
		if pos >= e.queue.published.Load() {
			continue
		}
		p.invoke(w, e.queue.item(pos))
		e.progress[w.id].Store(pos + w.stride)
		progressed = true
	}
	return
}

// runTask is the dispatch loop of task workers: park, then run the
// callback once per wake, if there are unserved posts and the group is
// running.
func (p *Pool[T]) runTask(w *worker[T]) {
	defer p.exit(w)
	group := p.groupState(w.group)
	bo := p.backoff()

	p.logger.Debug().Int(`worker`, w.id).Str(`kind`, w.kind.String()).Log(`worker started`)

	for {
		w.done.Store(true)
		if !p.park(w, group, &bo) {
			return
		}
		if group.Load() == GroupQuit || w.req.Load() == requestQuit {
			return
		}
		posts := w.posts.Load()
		if posts == w.acked.Load() {
			continue
		}
		w.done.Store(false)
		if group.Load() == GroupRun && w.req.Load() == requestNone {
			p.invoke(w, nil)
		}
		w.acked.Store(posts)
	}
}

func (p *Pool[T]) invoke(w *worker[T], item *T) {
	defer func() {
		w.processed.Add(1)
		if r := recover(); r != nil {
			err := &WorkerError{Op: `callback`, ID: w.id, Kind: w.kind, Err: &PanicError{Value: r}}
			w.setErr(err)
			p.logger.Err().
				Err(err).
				Int(`worker`, w.id).
				Log(`callback panicked`)
		}
	}()
	w.callback(w.id, item)
}

func (p *Pool[T]) backoff() osthread.Backoff {
	return osthread.Backoff{
		SpinCount: p.opts.spinCount,
		MaxSleep:  p.opts.maxPollInterval,
	}
}
