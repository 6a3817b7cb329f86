package workqueue

// PoolStats is a point-in-time snapshot of a Pool. Fields are read
// individually, so a snapshot taken while workers run is not atomic.
type PoolStats struct {
	Workers      []WorkerStats
	Queues       []QueueStats
	Capacity     int
	BatchFirstID int
	BatchCount   int
	StreamState  GroupState
	BatchState   GroupState
	Destroyed    bool
}

// WorkerStats describes one worker.
type WorkerStats struct {
	Err       error
	Processed uint64
	ID        int
	Stripe    int
	Stride    int
	TID       int
	CPU       int
	Kind      WorkerKind
	Group     Group
	State     WorkerState
	Done      bool
}

// Stats returns a snapshot of the pool, its workers, and the queues of its
// registered entries (in poll order). It is safe to call from any
// goroutine, including worker callbacks.
func (p *Pool[T]) Stats() PoolStats {
	first, count := p.Batch()
	s := PoolStats{
		Capacity:     p.Capacity(),
		BatchFirstID: first,
		BatchCount:   count,
		StreamState:  p.stream.Load(),
		BatchState:   p.batch.Load(),
		Destroyed:    p.destroyed.Load(),
	}
	p.each(func(w *worker[T]) {
		ws := WorkerStats{
			Err:       w.lastErr(),
			Processed: w.processed.Load(),
			ID:        w.id,
			Stripe:    w.stripe,
			Stride:    int(w.stride),
			CPU:       -1,
			Kind:      w.kind,
			Group:     w.group,
			State:     w.state.Load(),
			Done:      w.done.Load(),
		}
		if w.thread != nil {
			ws.TID = w.thread.TID()
			ws.CPU = w.thread.CPU()
		}
		s.Workers = append(s.Workers, ws)
	})
	for _, e := range p.reg.snapshot() {
		s.Queues = append(s.Queues, e.queue.Stats())
	}
	return s
}

// Processed sums the items (or tasks) processed by every worker.
func (s PoolStats) Processed() (total uint64) {
	for _, w := range s.Workers {
		total += w.Processed
	}
	return
}
