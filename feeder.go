package workqueue

import (
	"context"
	"errors"

	"github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/logiface"
)

// FeederConfig models optional configuration, for NewFeeder.
type FeederConfig struct {
	// Batcher configures batching of submissions. MaxConcurrency is always
	// forced to 1, since the feeder is the queue's only producer.
	Batcher *microbatch.BatcherConfig

	// Logger is used to report failed batches, if set.
	Logger *logiface.Logger[logiface.Event]

	// Bound switches allocation to [ChunkedQueue.NextBounded], if positive.
	Bound int
}

// Feeder accepts items from any number of goroutines, and appends them to
// a queue from a single goroutine, in batches. Each item is published once
// written, and the last of each batch when the batch completes.
//
// While a Feeder is open, it is the queue's producer: nothing else may
// call the queue's allocating methods.
type Feeder[T any] struct {
	batcher *microbatch.Batcher[*feedJob[T]]
	queue   *ChunkedQueue[T]
	barrier Barrier[T]
	logger  *logiface.Logger[logiface.Event]
	bound   int
}

type feedJob[T any] struct {
	err   error
	item  T
	index uint64
}

// NewFeeder starts a Feeder appending to q. The barrier is passed to the
// queue's allocating methods, and is normally the pool q is attached to.
// The config may be nil.
func NewFeeder[T any](q *ChunkedQueue[T], b Barrier[T], config *FeederConfig) *Feeder[T] {
	if q == nil {
		panic(errors.New("workqueue: nil queue"))
	}
	var cfg FeederConfig
	if config != nil {
		cfg = *config
	}
	var bc microbatch.BatcherConfig
	if cfg.Batcher != nil {
		bc = *cfg.Batcher
	}
	bc.MaxConcurrency = 1

	f := &Feeder[T]{
		queue:   q,
		barrier: b,
		logger:  cfg.Logger,
		bound:   cfg.Bound,
	}
	f.batcher = microbatch.NewBatcher(&bc, f.process)
	return f
}

// Submit appends v to the queue, returning once it has been published, and
// its index in the queue (which is only meaningful until the queue is
// next reset).
func (f *Feeder[T]) Submit(ctx context.Context, v T) (uint64, error) {
	res, err := f.batcher.Submit(ctx, &feedJob[T]{item: v})
	if err != nil {
		return 0, err
	}
	if err := res.Wait(ctx); err != nil {
		return 0, err
	}
	return res.Job.index, res.Job.err
}

// Close stops accepting submissions, and cancels any pending batch, failing
// its jobs. The queue is left as-is.
func (f *Feeder[T]) Close() error { return f.batcher.Close() }

// Shutdown stops accepting submissions, and waits for pending batches to be
// appended, falling back to Close if ctx is done first.
func (f *Feeder[T]) Shutdown(ctx context.Context) error { return f.batcher.Shutdown(ctx) }

func (f *Feeder[T]) process(ctx context.Context, jobs []*feedJob[T]) error {
	defer f.queue.Publish()

	var failed error
	for _, job := range jobs {
		if failed == nil {
			failed = ctx.Err()
		}
		if failed != nil {
			job.err = failed
			continue
		}
		slot, err := f.next()
		if err != nil {
			failed = err
			job.err = err
			continue
		}
		*slot = job.item
		job.index = f.queue.Produced() - 1
	}

	if failed != nil {
		f.logger.Warning().
			Err(failed).
			Int(`jobs`, len(jobs)).
			Log(`feeder batch failed`)
	}
	return nil
}

func (f *Feeder[T]) next() (*T, error) {
	if f.bound > 0 {
		return f.queue.NextBounded(f.barrier, f.bound)
	}
	return f.queue.Next(f.barrier)
}
