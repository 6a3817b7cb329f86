package workqueue

import (
	"sync"
	"sync/atomic"
)

// Entry is the registration of a ChunkedQueue with a Pool. It tracks how
// far each worker has consumed the queue.
//
// For a batch worker, progress starts at its stripe offset and advances by
// the batch size, so the batch partitions the queue between its workers.
// For a stream worker, progress starts at 0 and advances by 1.
type Entry[T any] struct {
	pool  *Pool[T]
	queue *ChunkedQueue[T]

	// progress is indexed by worker id. Each element is written only by its
	// worker, except while the pool is quiesced.
	progress []atomic.Uint64

	prev, next *Entry[T]
	attached   atomic.Bool
}

// registry is the ordered list of entries, polled in insertion order.
// Workers traverse it without locking, so it is only mutated while every
// queue worker is paused (see Pool.quiesce). mu guards it against
// concurrent snapshots.
type registry[T any] struct {
	mu    sync.Mutex
	head  *Entry[T]
	tail  *Entry[T]
	count int
}

func (r *registry[T]) link(e *Entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.prev = r.tail
	if r.tail != nil {
		r.tail.next = e
	} else {
		r.head = e
	}
	r.tail = e
	r.count++
}

func (r *registry[T]) unlink(e *Entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		r.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		r.tail = e.prev
	}
	e.prev, e.next = nil, nil
	r.count--
}

func (r *registry[T]) snapshot() []*Entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*Entry[T], 0, r.count)
	for e := r.head; e != nil; e = e.next {
		entries = append(entries, e)
	}
	return entries
}

// Queue returns the registered queue.
func (e *Entry[T]) Queue() *ChunkedQueue[T] { return e.queue }

// Attached reports whether the entry is still registered.
func (e *Entry[T]) Attached() bool { return e.attached.Load() }

// Progress returns the index of the next item worker id will consume.
func (e *Entry[T]) Progress(id int) uint64 {
	if id <= 0 || id >= len(e.progress) {
		return 0
	}
	return e.progress[id].Load()
}

// Remaining returns how many published items worker id has yet to consume.
func (e *Entry[T]) Remaining(id int) uint64 {
	w, err := e.pool.lookup(id)
	if err != nil || !w.consumes() {
		return 0
	}
	pos, published := e.progress[id].Load(), e.queue.published.Load()
	if pos >= published {
		return 0
	}
	return (published - pos + w.stride - 1) / w.stride
}

// NextRound allocates from the first chunk only, as a ring: once it is
// full, this waits for the entry's consumers to catch up, cleans the entry
// (see [Pool.Clean]), and returns slot 0. It is the entry-scoped
// equivalent of [ChunkedQueue.NextBounded], with the chunk capacity as the
// bound.
func (e *Entry[T]) NextRound() (*T, error) {
	q := e.queue
	if q.destroyed {
		return nil, q.fail("next round", ErrQueueDestroyed)
	}
	q.Publish()
	if q.produced.Load() >= uint64(q.chunkCap) {
		if err := e.pool.WaitDone(e); err != nil {
			return nil, err
		}
		if err := e.pool.Clean(e); err != nil {
			return nil, err
		}
	}
	return q.allocate(e.pool, "next round")
}

// reset restores every worker's progress to its origin.
func (e *Entry[T]) reset() {
	for id := 1; id < len(e.progress); id++ {
		var origin uint64
		if w := e.pool.slots[id].Load(); w != nil {
			origin = w.origin()
		}
		e.progress[id].Store(origin)
	}
}

// caughtUp reports whether every live queue worker has consumed every
// published item.
func (e *Entry[T]) caughtUp() bool {
	published := e.queue.published.Load()
	return e.pool.all(func(w *worker[T]) bool {
		return !w.consumes() ||
			w.state.Load() == WorkerQuit ||
			e.progress[w.id].Load() >= published
	})
}

// Attach registers q, appending it to the registry. Progress of each
// worker starts at its stripe offset. The registry is only modified while
// queue workers are paused.
func (p *Pool[T]) Attach(q *ChunkedQueue[T]) (*Entry[T], error) {
	if q == nil || q.destroyed {
		return nil, &QueueError{Op: "attach", Err: ErrQueueDestroyed}
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()

	if p.destroyed.Load() {
		return nil, ErrPoolDestroyed
	}

	e := &Entry[T]{
		pool:     p,
		queue:    q,
		progress: make([]atomic.Uint64, len(p.slots)),
	}
	e.reset()

	p.quiesce(func() { p.reg.link(e) })
	e.attached.Store(true)

	p.logger.Debug().
		Int(`entries`, p.entryCount()).
		Uint64(`produced`, q.Produced()).
		Log(`queue attached`)
	return e, nil
}

// Detach waits for the entry's consumers to catch up, then unregisters it,
// destroying its queue if destroyQueue is true.
func (p *Pool[T]) Detach(e *Entry[T], destroyQueue bool) error {
	if err := p.WaitDone(e); err != nil {
		return err
	}

	if err := p.owns(e); err != nil {
		return err
	}
	if !p.destroyed.Load() {
		p.ctl.Lock()
		defer p.ctl.Unlock()
	}

	p.quiesce(func() {
		p.reg.unlink(e)
		e.attached.Store(false)
		if destroyQueue {
			e.queue.Destroy()
		}
	})

	p.logger.Debug().
		Int(`entries`, p.entryCount()).
		Bool(`destroyed`, destroyQueue).
		Log(`queue detached`)
	return nil
}

// Clean resets the entry's queue, and every worker's progress on it, so
// the queue can be refilled from index 0.
func (p *Pool[T]) Clean(e *Entry[T]) error {
	if err := p.owns(e); err != nil {
		return err
	}
	if !p.destroyed.Load() {
		p.ctl.Lock()
		defer p.ctl.Unlock()
	}
	p.quiesce(func() {
		e.queue.Reset()
		e.reset()
	})
	return nil
}

// WaitDone blocks until every queue worker has consumed every published
// item of the entry. Workers that have quit are ignored, but stopped
// workers are not: waiting on a stopped pool with a backlog never returns.
func (p *Pool[T]) WaitDone(e *Entry[T]) error {
	if err := p.owns(e); err != nil {
		return err
	}
	p.awaitCond(`entry`, e.caughtUp)
	return nil
}

// WaitAllDone is [Pool.WaitDone] for every registered entry.
func (p *Pool[T]) WaitAllDone() {
	entries := p.reg.snapshot()
	p.awaitCond(`registry`, func() bool {
		for _, e := range entries {
			if !e.caughtUp() {
				return false
			}
		}
		return true
	})
}

// Quiesce runs fn while every queue worker is paused.
// Once the pool is destroyed, it waits for the workers to exit instead.
func (p *Pool[T]) Quiesce(fn func()) {
	if !p.destroyed.Load() {
		p.ctl.Lock()
		defer p.ctl.Unlock()
	}
	p.quiesce(fn)
}

// Rewind resets progress on every entry registered for q. It must only be
// called from within [Pool.Quiesce].
func (p *Pool[T]) Rewind(q *ChunkedQueue[T]) {
	for e := p.reg.head; e != nil; e = e.next {
		if e.queue == q {
			e.reset()
		}
	}
	p.logger.Debug().
		Int(`chunk_capacity`, q.chunkCap).
		Log(`queue rewound`)
}

// Entries returns the registered entries, in poll order.
func (p *Pool[T]) Entries() []*Entry[T] { return p.reg.snapshot() }

// quiesce runs fn with every queue worker paused in WorkerWait, then
// restores both group states. Restoring needs no wake: paused workers spin
// on the group state. Callers must hold ctl, unless the pool is destroyed,
// in which case the quitting workers are joined before fn runs.
func (p *Pool[T]) quiesce(fn func()) {
	if p.destroyed.Load() {
		p.join()
		fn()
		return
	}
	if p.Workers() == 0 {
		fn()
		return
	}
	stream, batch := p.stream.Load(), p.batch.Load()
	p.suspend(true)
	defer func() {
		p.stream.Store(stream)
		p.batch.Store(batch)
	}()
	fn()
}

func (p *Pool[T]) owns(e *Entry[T]) error {
	if e == nil || e.pool != p || !e.attached.Load() {
		return ErrForeignEntry
	}
	return nil
}

func (p *Pool[T]) entryCount() int {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.reg.count
}
