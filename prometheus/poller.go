// Package prometheus exports workqueue pool snapshots as Prometheus
// metrics.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/joeycumines/go-workqueue"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is used when NewPoller is given no namespace.
const DefaultNamespace = "workqueue"

// StatsSource provides pool snapshots. [workqueue.Pool] implements it.
type StatsSource interface {
	Stats() workqueue.PoolStats
}

// Poller periodically copies pool snapshots into Prometheus gauges.
type Poller struct {
	interval time.Duration

	mu      sync.RWMutex
	sources map[string]StatsSource

	workers        *prom.GaugeVec
	groupState     *prom.GaugeVec
	workerState    *prom.GaugeVec
	workerDone     *prom.GaugeVec
	workerItems    *prom.GaugeVec
	queueProduced  *prom.GaugeVec
	queuePublished *prom.GaugeVec
	queueChunks    *prom.GaugeVec

	stateMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

var (
	groupStates  = []workqueue.GroupState{workqueue.GroupStop, workqueue.GroupRun, workqueue.GroupWait, workqueue.GroupQuit}
	workerStates = []workqueue.WorkerState{workqueue.WorkerStop, workqueue.WorkerRun, workqueue.WorkerWait, workqueue.WorkerQuit}
)

// NewPoller creates a poller, registering its collectors with reg
// (prom.DefaultRegisterer if nil). A non-positive interval defaults to one
// second.
func NewPoller(namespace string, reg prom.Registerer, interval time.Duration) (*Poller, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	p := &Poller{
		interval:       interval,
		sources:        make(map[string]StatsSource),
		workers:        gauge("pool_workers", "Spawned workers per pool.", "pool"),
		groupState:     gauge("group_state", "Group state (1 for the current state).", "pool", "group", "state"),
		workerState:    gauge("worker_state", "Worker state (1 for the current state).", "pool", "worker", "state"),
		workerDone:     gauge("worker_done", "Whether the worker drained every entry in its last cycle.", "pool", "worker"),
		workerItems:    gauge("worker_processed", "Items (or tasks) processed by the worker, snapshot.", "pool", "worker", "kind"),
		queueProduced:  gauge("queue_produced", "Slots allocated since the last reset, per registered queue.", "pool", "entry"),
		queuePublished: gauge("queue_published", "Items visible to consumers, per registered queue.", "pool", "entry"),
		queueChunks:    gauge("queue_chunks", "Allocated chunks, per registered queue.", "pool", "entry"),
	}

	for _, c := range []**prom.GaugeVec{
		&p.workers, &p.groupState, &p.workerState, &p.workerDone,
		&p.workerItems, &p.queueProduced, &p.queuePublished, &p.queueChunks,
	} {
		var err error
		if *c, err = registerCollector(reg, *c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddPool adds or replaces a source, by name.
func (p *Poller) AddPool(name string, source StatsSource) {
	if p == nil || source == nil {
		return
	}
	if name == "" {
		name = "pool"
	}
	p.mu.Lock()
	p.sources[name] = source
	p.mu.Unlock()
}

// RemovePool removes a source, and its metrics.
func (p *Poller) RemovePool(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.sources, name)
	p.mu.Unlock()
	labels := prom.Labels{"pool": name}
	for _, v := range []*prom.GaugeVec{
		p.workers, p.groupState, p.workerState, p.workerDone,
		p.workerItems, p.queueProduced, p.queuePublished, p.queueChunks,
	} {
		v.DeletePartialMatch(labels)
	}
}

// Start begins periodic polling. Repeated calls are no-ops.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop stops polling, waiting for the loop to exit. Repeated calls are safe.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.stateMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.stateMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.Update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Update()
		}
	}
}

// Update copies a snapshot of every source into the gauges.
func (p *Poller) Update() {
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, source := range p.sources {
		p.record(name, source.Stats())
	}
}

func (p *Poller) record(pool string, s workqueue.PoolStats) {
	p.workers.WithLabelValues(pool).Set(float64(len(s.Workers)))

	for _, g := range []struct {
		group workqueue.Group
		state workqueue.GroupState
	}{{workqueue.GroupStream, s.StreamState}, {workqueue.GroupBatch, s.BatchState}} {
		for _, state := range groupStates {
			p.groupState.WithLabelValues(pool, g.group.String(), state.String()).Set(boolFloat(state == g.state))
		}
	}

	for _, w := range s.Workers {
		id := strconv.Itoa(w.ID)
		for _, state := range workerStates {
			p.workerState.WithLabelValues(pool, id, state.String()).Set(boolFloat(state == w.State))
		}
		p.workerDone.WithLabelValues(pool, id).Set(boolFloat(w.Done))
		p.workerItems.WithLabelValues(pool, id, w.Kind.String()).Set(float64(w.Processed))
	}

	// entries come and go, so stale series are dropped before re-recording
	for _, v := range []*prom.GaugeVec{p.queueProduced, p.queuePublished, p.queueChunks} {
		v.DeletePartialMatch(prom.Labels{"pool": pool})
	}
	for i, q := range s.Queues {
		entry := strconv.Itoa(i)
		p.queueProduced.WithLabelValues(pool, entry).Set(float64(q.Produced))
		p.queuePublished.WithLabelValues(pool, entry).Set(float64(q.Published))
		p.queueChunks.WithLabelValues(pool, entry).Set(float64(q.Chunks))
	}
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}
	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("prometheus: collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
