// Package workqueue provides a worker pool fed by chunked, append-only
// queues, for pipelines with a single producer and one or more consumer
// threads.
//
// # Architecture
//
// A [ChunkedQueue] stores items in fixed-capacity chunks, addressed by
// absolute index. Item addresses never change, so consumers read items in
// place while the producer keeps appending. The producer publishes items by
// advancing an atomic count; each consumer tracks its own progress.
//
// A [Pool] owns up to a fixed number of workers, in two groups:
//   - stream workers ([Pool.SpawnStream]) each consume every item of every
//     registered queue, in order (fan-out)
//   - one batch group ([Pool.SpawnBatch]) of S workers, where the worker at
//     position k consumes items k, k+S, k+2S, ... (partitioning)
//
// Task workers ([Pool.SpawnTask]) consume no queue: they run their callback
// once per [Pool.Post].
//
// Queues are registered with [Pool.Attach], which returns an [Entry]
// holding the per-worker progress. Workers poll every entry, in
// registration order, consuming at most one item per entry per cycle.
//
// # Lifecycle
//
// Both groups start in [GroupStop], with workers parked. The state of each
// group is changed by:
//   - [Pool.ResumeAll]: run, waking parked workers
//   - [Pool.SuspendAll]: pause, workers spin, for a fast resume
//   - [Pool.StopAll]: drain every entry, then park (a synchronous barrier)
//   - [Pool.QuitAll]: drain every entry, then exit
//   - [Pool.Destroy]: quit, and join every worker
//
// Structural changes (attaching or detaching an entry, growing a queue's
// chunk table, rewinding a bounded queue) happen only while every queue
// worker is paused. There is no lock on the read path.
//
// # Producers
//
// Each queue has exactly one producer. [Feeder] accepts items from any number
// of goroutines, batching them into the producer with go-microbatch, and
// [Pump] drains a channel into a queue, long-polling it with go-longpoll.
//
// # Usage
//
//	pool, err := workqueue.NewPool[Token](3)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Destroy(nil)
//
//	if _, err := pool.SpawnBatch(func(id int, t *Token) { handle(t) }, 3); err != nil {
//	    log.Fatal(err)
//	}
//
//	queue, _ := workqueue.NewChunkedQueue[Token](0)
//	entry, _ := pool.Attach(queue)
//	pool.ResumeAll()
//
//	for _, t := range tokens {
//	    queue.Push(pool, t)
//	}
//	pool.WaitDone(entry)
package workqueue
