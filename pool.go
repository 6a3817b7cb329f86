package workqueue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-workqueue/internal/osthread"
	"github.com/joeycumines/logiface"
)

// Pool is a fixed-capacity set of workers, split into two groups: stream
// workers (each independently consuming every registered queue, or running
// a task callback) and at most one batch of workers (consuming disjoint
// stripes of every registered queue).
//
// Workers start parked, with both groups in [GroupStop]; call
// [Pool.ResumeAll] to start them. Every pool must be released with
// [Pool.Destroy].
//
// Control methods (spawning, lifecycle, registry) are serialized, and may
// be called from any goroutine, except from within a worker callback.
type Pool[T any] struct {
	logger      *logiface.Logger[logiface.Event]
	warnLimiter *catrate.Limiter
	opts        *poolOptions

	// slots[0] is the root sentinel, and is never used.
	slots []atomic.Pointer[worker[T]]

	reg registry[T]

	// ctl serializes control operations.
	ctl sync.Mutex

	// length is the next free worker id.
	length     atomic.Int32
	batchFirst atomic.Int32
	batchCount atomic.Int32

	stream atomicGroupState
	batch  atomicGroupState

	destroyed atomic.Bool
}

var _ Barrier[struct{}] = (*Pool[struct{}])(nil)

// NewPool creates a pool with room for workers workers.
func NewPool[T any](workers int, opts ...PoolOption) (*Pool[T], error) {
	if workers < 0 {
		return nil, fmt.Errorf("workqueue: invalid worker capacity %d", workers)
	}
	cfg, err := resolvePoolOptions(opts)
	if err != nil {
		return nil, err
	}
	p := &Pool[T]{
		logger: cfg.logger,
		opts:   cfg,
		slots:  make([]atomic.Pointer[worker[T]], workers+1),
	}
	if len(cfg.warnRates) != 0 {
		if p.warnLimiter, err = newWarnLimiter(cfg.warnRates); err != nil {
			return nil, err
		}
	}
	p.length.Store(1)
	p.stream.Store(GroupStop)
	p.batch.Store(GroupStop)
	return p, nil
}

// Capacity returns the maximum number of workers.
func (p *Pool[T]) Capacity() int { return len(p.slots) - 1 }

// Workers returns the number of spawned workers.
func (p *Pool[T]) Workers() int { return int(p.length.Load()) - 1 }

// StreamState returns the stream group state.
func (p *Pool[T]) StreamState() GroupState { return p.stream.Load() }

// BatchState returns the batch group state.
func (p *Pool[T]) BatchState() GroupState { return p.batch.Load() }

// Batch returns the first id and size of the batch group, or zeros if no
// batch has been armed.
func (p *Pool[T]) Batch() (firstID, count int) {
	return int(p.batchFirst.Load()), int(p.batchCount.Load())
}

// SpawnStream spawns one stream worker, returning its id. Stream workers
// consume every item of every registered queue.
func (p *Pool[T]) SpawnStream(callback Callback[T], opts ...SpawnOption) (int, error) {
	return p.spawnOne(KindStream, callback, opts)
}

// SpawnTask spawns one task worker, returning its id. Task workers belong
// to the stream group, and run callback (with a nil item) once per
// [Pool.Post], while the stream group is running.
func (p *Pool[T]) SpawnTask(callback Callback[T], opts ...SpawnOption) (int, error) {
	return p.spawnOne(KindTask, callback, opts)
}

// SpawnBatch arms the batch group with count workers, returning the id of
// the first. The worker at position k consumes items k, k+count, k+2*count
// and so on, of every registered queue.
//
// Arming is all-or-nothing: if any worker fails to start, those already
// started are cancelled and joined, and the batch group remains unarmed.
// Only one batch group may be armed per pool.
func (p *Pool[T]) SpawnBatch(callback Callback[T], count int, opts ...SpawnOption) (int, error) {
	if callback == nil {
		return 0, errors.New("workqueue: nil callback")
	}
	if count <= 0 {
		return 0, fmt.Errorf("workqueue: invalid batch size %d", count)
	}
	so, err := resolveSpawnOptions(opts)
	if err != nil {
		return 0, err
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()

	if p.destroyed.Load() {
		return 0, ErrPoolDestroyed
	}
	if p.batchCount.Load() != 0 {
		return 0, fmt.Errorf("workqueue: batch group already armed: %w", ErrCapacityExceeded)
	}
	first := int(p.length.Load())
	if first+count > len(p.slots) {
		return 0, fmt.Errorf("workqueue: no room for %d batch workers (%d of %d in use): %w",
			count, first-1, p.Capacity(), ErrCapacityExceeded)
	}

	for i := range count {
		w := p.newWorker(first+i, KindBatch, GroupBatch, callback)
		w.stripe = i
		w.stride = uint64(count)
		if err := p.start(w, so); err != nil {
			p.unwind(first, i)
			p.logger.Warning().
				Err(err).
				Int(`first`, first).
				Int(`count`, count).
				Int(`started`, i).
				Log(`batch spawn unwound`)
			return 0, err
		}
	}

	p.length.Store(int32(first + count))
	p.batchFirst.Store(int32(first))
	p.batchCount.Store(int32(count))
	p.wakeSpawned(GroupBatch, first, first+count)

	p.logger.Debug().Int(`first`, first).Int(`count`, count).Log(`batch group armed`)
	return first, nil
}

func (p *Pool[T]) spawnOne(kind WorkerKind, callback Callback[T], opts []SpawnOption) (int, error) {
	if callback == nil {
		return 0, errors.New("workqueue: nil callback")
	}
	so, err := resolveSpawnOptions(opts)
	if err != nil {
		return 0, err
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()

	if p.destroyed.Load() {
		return 0, ErrPoolDestroyed
	}
	id := int(p.length.Load())
	if id >= len(p.slots) {
		return 0, fmt.Errorf("workqueue: no free slot for %s worker (capacity %d): %w",
			kind, p.Capacity(), ErrCapacityExceeded)
	}

	w := p.newWorker(id, kind, GroupStream, callback)
	if err := p.start(w, so); err != nil {
		return 0, err
	}
	p.length.Store(int32(id + 1))
	if kind != KindTask {
		p.wakeSpawned(GroupStream, id, id+1)
	}
	return id, nil
}

func (p *Pool[T]) newWorker(id int, kind WorkerKind, group Group, callback Callback[T]) *worker[T] {
	w := &worker[T]{
		callback: callback,
		gate:     osthread.NewGate(),
		id:       id,
		stride:   1,
		kind:     kind,
		group:    group,
	}
	w.state.Store(WorkerStop)
	w.done.Store(true)
	return w
}

// start sets the worker's progress on every registered entry, publishes
// it to its slot, and starts its thread.
func (p *Pool[T]) start(w *worker[T], so *spawnOptions) error {
	for e := p.reg.head; e != nil; e = e.next {
		e.progress[w.id].Store(w.origin())
	}
	p.slots[w.id].Store(w)

	run := p.runQueue
	if w.kind == KindTask {
		run = p.runTask
	}
	t, err := p.opts.startThread(osthread.Config{
		CPU:          p.cpuFor(w.id, so),
		LockOSThread: p.opts.lockOSThread,
		OnCancel: func() {
			w.req.raise(requestQuit)
			w.gate.Close()
		},
	}, func() { run(w) })
	if err != nil {
		p.slots[w.id].Store(nil)
		err = &WorkerError{Op: `spawn`, ID: w.id, Kind: w.kind, Err: fmt.Errorf("%w: %w", ErrCapability, err)}
		w.setErr(err)
		return err
	}
	w.thread = t

	p.logger.Debug().
		Int(`worker`, w.id).
		Str(`kind`, w.kind.String()).
		Int(`cpu`, t.CPU()).
		Log(`worker spawned`)
	return nil
}

// unwind cancels and joins the first n workers of a partially spawned batch.
func (p *Pool[T]) unwind(first, n int) {
	for id := first; id < first+n; id++ {
		if w := p.slots[id].Load(); w != nil {
			w.thread.Cancel()
		}
	}
	for id := first; id < first+n; id++ {
		if w := p.slots[id].Load(); w != nil {
			w.thread.Join()
			p.slots[id].Store(nil)
		}
	}
}

// wakeSpawned starts new queue workers if their group is already past
// GroupStop, since they start parked.
func (p *Pool[T]) wakeSpawned(g Group, from, to int) {
	if s := p.groupState(g).Load(); s == GroupStop || s == GroupQuit {
		return
	}
	for id := from; id < to; id++ {
		if w := p.slots[id].Load(); w != nil {
			w.wake()
		}
	}
}

func (p *Pool[T]) cpuFor(id int, so *spawnOptions) int {
	if so.hasCPU {
		return so.cpu
	}
	if n := len(p.opts.pinnedCPUs); n != 0 {
		return p.opts.pinnedCPUs[(id-1)%n]
	}
	return -1
}

// each calls fn for every spawned worker, in id order.
func (p *Pool[T]) each(fn func(w *worker[T])) {
	n := int(p.length.Load())
	for id := 1; id < n; id++ {
		if w := p.slots[id].Load(); w != nil {
			fn(w)
		}
	}
}

// all reports whether cond holds for every spawned worker.
func (p *Pool[T]) all(cond func(w *worker[T]) bool) bool {
	n := int(p.length.Load())
	for id := 1; id < n; id++ {
		if w := p.slots[id].Load(); w != nil && !cond(w) {
			return false
		}
	}
	return true
}

func (p *Pool[T]) lookup(id int) (*worker[T], error) {
	if id <= 0 || id >= int(p.length.Load()) {
		return nil, fmt.Errorf("workqueue: worker %d: %w", id, ErrUnknownWorker)
	}
	w := p.slots[id].Load()
	if w == nil {
		return nil, fmt.Errorf("workqueue: worker %d: %w", id, ErrUnknownWorker)
	}
	return w, nil
}

// SuspendAll pauses every worker: both groups are set to [GroupWait], then
// this blocks until every queue worker has acknowledged, and every task
// worker is either parked or acknowledged. Suspended workers spin, for a
// low-latency [Pool.ResumeAll].
func (p *Pool[T]) SuspendAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.destroyed.Load() {
		return
	}
	p.suspend(false)
}

// suspend moves groups to GroupWait, and waits for the acknowledgements.
// In quiesce mode, groups being quit are paused too, and task workers are
// ignored, since they never read the registry.
func (p *Pool[T]) suspend(quiesce bool) {
	for _, g := range []*atomicGroupState{&p.stream, &p.batch} {
		if quiesce || g.Load() != GroupQuit {
			g.Store(GroupWait)
		}
	}
	p.each(func(w *worker[T]) {
		if w.consumes() {
			w.wake()
		}
	})
	p.await(`suspend`, func(w *worker[T]) bool {
		if !quiesce && p.groupState(w.group).Load() == GroupQuit {
			return true
		}
		switch w.state.Load() {
		case WorkerWait, WorkerQuit:
			return true
		case WorkerStop:
			return !w.consumes()
		}
		return quiesce && !w.consumes()
	})
}

// ResumeAll sets both groups to [GroupRun]. It is a no-op if both are
// running. Workers of a group that was in [GroupWait] are spinning, and
// observe the change without a wake, while queue workers of a group that
// was in [GroupStop] are parked, and are woken. Groups that have been quit
// stay quit.
func (p *Pool[T]) ResumeAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.destroyed.Load() {
		return
	}
	p.resume()
}

func (p *Pool[T]) resume() {
	stream, batch := p.stream.Load(), p.batch.Load()
	if stream == GroupRun && batch == GroupRun {
		return
	}
	if stream != GroupQuit {
		p.stream.Store(GroupRun)
	}
	if batch != GroupQuit {
		p.batch.Store(GroupRun)
	}
	p.each(func(w *worker[T]) {
		prev := stream
		if w.group == GroupBatch {
			prev = batch
		}
		if prev == GroupStop && w.consumes() {
			w.wake()
		}
	})
}

// StopAll stops both groups, see [Pool.StopStreamAll].
func (p *Pool[T]) StopAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.destroyed.Load() {
		return
	}
	p.stop(GroupStream)
	p.stop(GroupBatch)
}

// StopStreamAll sets the stream group to [GroupStop], and blocks until
// every stream worker has drained every registered entry, and parked. Once
// it returns, no stream worker is mid-callback.
func (p *Pool[T]) StopStreamAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.destroyed.Load() {
		return
	}
	p.stop(GroupStream)
}

// StopBatchAll is the batch group equivalent of [Pool.StopStreamAll].
func (p *Pool[T]) StopBatchAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.destroyed.Load() {
		return
	}
	p.stop(GroupBatch)
}

func (p *Pool[T]) stop(g Group) {
	state := p.groupState(g)
	if state.Load() == GroupQuit {
		return
	}
	state.Store(GroupStop)
	p.await(`stop `+g.String(), func(w *worker[T]) bool {
		if w.group != g {
			return true
		}
		return w.parked() || w.state.Load() == WorkerQuit
	})
}

// QuitAll sets both groups to [GroupQuit]. Running workers exit once they
// have drained every registered entry. It does not wake parked workers:
// call [Pool.ResumeAll] first, or use [Pool.Destroy].
func (p *Pool[T]) QuitAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.stream.Store(GroupQuit)
	p.batch.Store(GroupQuit)
}

// QuitStreamAll sets the stream group to [GroupQuit].
func (p *Pool[T]) QuitStreamAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.stream.Store(GroupQuit)
}

// QuitBatchAll sets the batch group to [GroupQuit].
func (p *Pool[T]) QuitBatchAll() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.batch.Store(GroupQuit)
}

// Post wakes worker id. For a task worker, each wake with an unserved
// post runs its callback once.
func (p *Pool[T]) Post(id int) error {
	w, err := p.lookup(id)
	if err != nil {
		return err
	}
	w.posts.Add(1)
	w.wake()
	return nil
}

// WaitIdle blocks until task worker id has served every post made before
// the call, and parked again.
func (p *Pool[T]) WaitIdle(id int) error {
	w, err := p.lookup(id)
	if err != nil {
		return err
	}
	target := w.posts.Load()
	p.awaitCond(`idle`, func() bool {
		if w.state.Load() == WorkerQuit {
			return true
		}
		return w.parked() && w.acked.Load() >= target
	})
	return nil
}

// StopWorker asks worker id to park once it has drained every entry, and
// to ignore posts, until [Pool.ResumeWorker]. It does not wait.
func (p *Pool[T]) StopWorker(id int) error {
	w, err := p.lookup(id)
	if err != nil {
		return err
	}
	w.req.raise(requestStop)
	return nil
}

// ResumeWorker clears a stop requested by [Pool.StopWorker], waking the
// worker.
func (p *Pool[T]) ResumeWorker(id int) error {
	w, err := p.lookup(id)
	if err != nil {
		return err
	}
	w.req.clearStop()
	w.wake()
	return nil
}

// QuitWorker asks worker id to exit once it has drained every entry, or
// immediately if it is parked.
func (p *Pool[T]) QuitWorker(id int) error {
	w, err := p.lookup(id)
	if err != nil {
		return err
	}
	w.req.raise(requestQuit)
	w.wake()
	return nil
}

// CheckStatus returns the first error recorded by any worker, in id order,
// e.g. a recovered callback panic.
func (p *Pool[T]) CheckStatus() error {
	n := int(p.length.Load())
	for id := 1; id < n; id++ {
		if w := p.slots[id].Load(); w != nil {
			if err := w.lastErr(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Destroy shuts the pool down: it resumes paused workers, quits both
// groups, calls hook (if not nil), then joins every worker thread.
// Registered entries are dropped, but their queues are left intact.
// Destroy is idempotent, and safe to call on a pool with no workers.
//
// The hook runs without any pool lock held, so it may flush producers or
// detach entries. Structural changes made from the hook wait for the
// workers to exit instead of pausing them.
func (p *Pool[T]) Destroy(hook func()) {
	if p == nil {
		return
	}
	start, ok := p.beginDestroy()
	if !ok {
		return
	}

	if hook != nil {
		hook()
	}

	p.join()

	p.reg.mu.Lock()
	for e := p.reg.head; e != nil; e = e.next {
		e.attached.Store(false)
	}
	p.reg.head, p.reg.tail, p.reg.count = nil, nil, 0
	p.reg.mu.Unlock()

	p.logger.Debug().
		Int(`workers`, p.Workers()).
		Dur(`elapsed`, time.Since(start)).
		Log(`pool destroyed`)
}

func (p *Pool[T]) beginDestroy() (time.Time, bool) {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.destroyed.Swap(true) {
		return time.Time{}, false
	}
	start := time.Now()
	p.resume()
	p.stream.Store(GroupQuit)
	p.batch.Store(GroupQuit)
	// task workers park between posts, regardless of group state
	p.each(func(w *worker[T]) { w.wake() })
	return start, true
}

// join waits for every worker thread to exit.
func (p *Pool[T]) join() { p.each(func(w *worker[T]) { w.thread.Join() }) }

// Destroyed reports whether Destroy has been called.
func (p *Pool[T]) Destroyed() bool { return p.destroyed.Load() }
