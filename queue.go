package workqueue

import (
	"math"
	"sync/atomic"
)

// Barrier is the consumer side of a ChunkedQueue. The queue synchronizes
// with it before any structural change: growing its chunk pointer table, or
// rewinding at a bound. [*Pool] implements Barrier. A nil Barrier is valid,
// and means the queue has no concurrent consumers.
type Barrier[T any] interface {
	// WaitAllDone blocks until every consumer has caught up with every
	// queue it consumes.
	WaitAllDone()

	// Quiesce runs fn while no consumer is running.
	Quiesce(fn func())

	// Rewind resets consumer progress on q, to match a queue reset. It is
	// only called from within fn, passed to Quiesce.
	Rewind(q *ChunkedQueue[T])
}

// ChunkedQueue is an append-only sequence of fixed-capacity chunks, with a
// single producer, and any number of consumers tracking their own progress.
//
// Items are addressed by absolute index, see [ChunkedQueue.Location]. The
// address of an item never changes once allocated: growth reallocates only
// the table of chunk pointers, never chunk contents.
//
// Publication is deferred by one operation. The slot returned by Next is
// counted by Produced immediately, but only becomes visible to consumers
// (counted by Published) when the next allocating call is made, or Publish
// is called. The producer must finish writing a slot before then.
//
// All methods except Location, ChunkCapacity, Produced, Published and Stats
// must be called from the producer goroutine.
type ChunkedQueue[T any] struct {
	// published is the consumer-visible item count (store-release,
	// load-acquire). Consumers may read items below it without locking.
	published atomic.Uint64

	// produced is the allocation count, and the index of the next slot.
	// Only the producer writes it.
	produced atomic.Uint64

	chunkCount atomic.Int64
	tableLen   atomic.Int64
	growths    atomic.Uint64
	resets     atomic.Uint64

	// chunks is the pointer table. Its header is only replaced while every
	// consumer is caught up and paused, and an element is only assigned
	// before the publication of any item it holds.
	chunks [][]T

	chunkCap  int
	maxChunks int
	pending   bool
	destroyed bool
}

// QueueStats is a point-in-time snapshot of a ChunkedQueue.
type QueueStats struct {
	ChunkCapacity int
	Chunks        int
	TableSize     int
	Produced      uint64
	Published     uint64
	Growths       uint64
	Resets        uint64
}

// NewChunkedQueue allocates a queue holding at least minCapacity items per
// chunk, never fewer than [MinChunkCapacity]. The first chunk is allocated
// eagerly.
func NewChunkedQueue[T any](minCapacity int, opts ...QueueOption) (*ChunkedQueue[T], error) {
	cfg, err := resolveQueueOptions(opts)
	if err != nil {
		return nil, err
	}
	chunkCap := max(minCapacity, MinChunkCapacity)
	q := &ChunkedQueue[T]{
		chunks:    make([][]T, cfg.tableSize),
		chunkCap:  chunkCap,
		maxChunks: cfg.maxChunks,
	}
	q.tableLen.Store(int64(cfg.tableSize))
	q.chunks[0] = make([]T, chunkCap)
	q.chunkCount.Store(1)
	return q, nil
}

// ChunkCapacity returns the number of items per chunk.
func (q *ChunkedQueue[T]) ChunkCapacity() int { return q.chunkCap }

// Location maps an absolute item index to its chunk, and offset within it.
func (q *ChunkedQueue[T]) Location(i uint64) (chunk, offset int) {
	c := uint64(q.chunkCap)
	return int(i / c), int(i % c)
}

// Produced returns the number of slots handed out since the last reset.
func (q *ChunkedQueue[T]) Produced() uint64 { return q.produced.Load() }

// Published returns the number of items visible to consumers.
func (q *ChunkedQueue[T]) Published() uint64 { return q.published.Load() }

// At returns the item at index i, or nil if i has not been allocated.
func (q *ChunkedQueue[T]) At(i uint64) *T {
	if q.destroyed || i >= q.produced.Load() {
		return nil
	}
	return q.item(i)
}

// Current returns the slot most recently returned by an allocating call,
// if it has not yet been published.
func (q *ChunkedQueue[T]) Current() *T {
	if !q.pending {
		return nil
	}
	return q.item(q.produced.Load() - 1)
}

// item is the consumer read path, valid for i < Published.
func (q *ChunkedQueue[T]) item(i uint64) *T {
	c, off := q.Location(i)
	return &q.chunks[c][off]
}

// Publish makes the outstanding slot, if any, visible to consumers.
func (q *ChunkedQueue[T]) Publish() {
	if q.pending {
		q.pending = false
		q.published.Store(q.produced.Load())
	}
}

// Next publishes the outstanding slot, then returns the next writable slot,
// zeroed. When the chunk pointer table is exhausted it is doubled, after
// waiting for b to report every consumer done. On error the queue state is
// unchanged, apart from the publication.
func (q *ChunkedQueue[T]) Next(b Barrier[T]) (*T, error) {
	if q.destroyed {
		return nil, q.fail("next", ErrQueueDestroyed)
	}
	q.Publish()
	return q.allocate(b, "next")
}

// NextBounded behaves like Next, except that once limit items have been
// produced, it waits for every consumer to drain, resets the queue (and
// consumer progress), and returns the slot at index 0. Produced never
// exceeds limit. A non-positive limit disables the bound.
func (q *ChunkedQueue[T]) NextBounded(b Barrier[T], limit int) (*T, error) {
	if q.destroyed {
		return nil, q.fail("next bounded", ErrQueueDestroyed)
	}
	q.Publish()
	if limit > 0 && q.produced.Load() >= uint64(limit) {
		q.rewind(b)
	}
	return q.allocate(b, "next bounded")
}

// Push allocates a slot, stores v in it, and publishes it.
func (q *ChunkedQueue[T]) Push(b Barrier[T], v T) (*T, error) {
	slot, err := q.Next(b)
	if err != nil {
		return nil, err
	}
	*slot = v
	q.Publish()
	return slot, nil
}

// Reset logically empties the queue, keeping all chunk storage for reuse.
// Consumers must be detached, or caught up and paused, see [Pool.Clean].
func (q *ChunkedQueue[T]) Reset() {
	q.pending = false
	q.published.Store(0)
	q.produced.Store(0)
	q.resets.Add(1)
}

// Destroy releases all storage. The queue must not be attached to a pool,
// see [Pool.Detach].
func (q *ChunkedQueue[T]) Destroy() {
	if q == nil || q.destroyed {
		return
	}
	q.Reset()
	q.destroyed = true
	q.chunks = nil
	q.chunkCount.Store(0)
	q.tableLen.Store(0)
}

// Stats returns a snapshot of the queue's counters. It is safe to call
// from any goroutine.
func (q *ChunkedQueue[T]) Stats() QueueStats {
	return QueueStats{
		ChunkCapacity: q.chunkCap,
		Chunks:        int(q.chunkCount.Load()),
		TableSize:     int(q.tableLen.Load()),
		Produced:      q.produced.Load(),
		Published:     q.published.Load(),
		Growths:       q.growths.Load(),
		Resets:        q.resets.Load(),
	}
}

func (q *ChunkedQueue[T]) allocate(b Barrier[T], op string) (*T, error) {
	i := q.produced.Load()
	c, off := q.Location(i)

	if c >= len(q.chunks) || q.chunks[c] == nil {
		if q.maxChunks > 0 && q.chunkCount.Load() >= int64(q.maxChunks) {
			return nil, q.fail(op, ErrAllocation)
		}
		if c >= len(q.chunks) {
			if err := q.grow(b); err != nil {
				return nil, q.fail(op, err)
			}
		}
		q.chunks[c] = make([]T, q.chunkCap)
		q.chunkCount.Add(1)
	}

	slot := &q.chunks[c][off]
	var zero T
	*slot = zero
	q.produced.Store(i + 1)
	q.pending = true
	return slot, nil
}

// grow doubles the chunk pointer table.
func (q *ChunkedQueue[T]) grow(b Barrier[T]) error {
	n := len(q.chunks)
	if n > math.MaxInt/2 {
		return ErrAllocation
	}
	replace := func() {
		table := make([][]T, n*2)
		copy(table, q.chunks)
		q.chunks = table
		q.tableLen.Store(int64(len(table)))
		q.growths.Add(1)
	}
	if b == nil {
		replace()
		return nil
	}
	b.WaitAllDone()
	b.Quiesce(replace)
	return nil
}

func (q *ChunkedQueue[T]) rewind(b Barrier[T]) {
	if b == nil {
		q.Reset()
		return
	}
	b.WaitAllDone()
	b.Quiesce(func() {
		q.Reset()
		b.Rewind(q)
	})
}

func (q *ChunkedQueue[T]) fail(op string, err error) error {
	return &QueueError{Op: op, Produced: q.produced.Load(), Err: err}
}
