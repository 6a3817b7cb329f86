package workqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocation indicates storage for a queue, chunk, pointer table or
	// entry could not be obtained.
	ErrAllocation = errors.New("workqueue: allocation failed")

	// ErrCapability indicates the platform layer failed to start, configure
	// or pin a worker thread.
	ErrCapability = errors.New("workqueue: platform capability failure")

	// ErrCapacityExceeded is returned when spawning with no free worker slot,
	// or when arming a second batch group while one is live.
	ErrCapacityExceeded = errors.New("workqueue: capacity exceeded")

	// ErrPoolDestroyed is returned by operations on a destroyed pool.
	ErrPoolDestroyed = errors.New("workqueue: pool destroyed")

	// ErrQueueDestroyed is returned by allocating operations on a destroyed queue.
	ErrQueueDestroyed = errors.New("workqueue: queue destroyed")

	// ErrUnknownWorker is returned for a worker id that is not in use.
	ErrUnknownWorker = errors.New("workqueue: unknown worker")

	// ErrForeignEntry is returned when an entry is passed to a pool that does
	// not own it, or after it has been detached.
	ErrForeignEntry = errors.New("workqueue: entry not attached to this pool")
)

// WorkerError describes a failure affecting a specific worker slot.
type WorkerError struct {
	Err  error
	Op   string
	ID   int
	Kind WorkerKind
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("workqueue: %s worker %d (%s): %v", e.Op, e.ID, e.Kind, e.Err)
}

// Unwrap returns the underlying error, so [errors.Is] matches the sentinels.
func (e *WorkerError) Unwrap() error { return e.Err }

// QueueError describes a failed queue operation.
type QueueError struct {
	Err error
	Op  string
	// Produced is the allocation count at the time of the failure, which is
	// also the state the queue was left in.
	Produced uint64
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("workqueue: queue %s at %d: %v", e.Op, e.Produced, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

// PanicError is recorded against a worker whose callback panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workqueue: callback panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
