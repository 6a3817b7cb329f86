// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package workqueue

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/joeycumines/go-workqueue/internal/osthread"
	"github.com/joeycumines/logiface"
)

const (
	// MinChunkCapacity is the smallest number of items per queue chunk.
	MinChunkCapacity = 4096
	// DefaultTableSize is the initial length of a queue's chunk pointer table.
	DefaultTableSize = 512
	// DefaultSlowWaitThreshold is how long a quiescence wait may take before
	// it is logged as slow.
	DefaultSlowWaitThreshold = time.Second
)

// DefaultWarnRates limits slow-wait warnings, per category.
var DefaultWarnRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

// poolOptions holds configuration options for Pool creation.
type poolOptions struct {
	logger            *logiface.Logger[logiface.Event]
	warnRates         map[time.Duration]int
	startThread       osthread.StartFunc
	pinnedCPUs        []int
	spinCount         int
	maxPollInterval   time.Duration
	slowWaitThreshold time.Duration
	lockOSThread      bool
}

// --- Pool Options ---

// PoolOption configures a Pool instance.
type PoolOption interface {
	applyPool(*poolOptions) error
}

type poolOptionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (p *poolOptionImpl) applyPool(opts *poolOptions) error {
	return p.applyPoolFunc(opts)
}

// WithLogger sets the structured logger used by the pool. A nil logger
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSpinCount sets how many times a polling worker yields the processor
// before it starts sleeping between polls.
func WithSpinCount(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return errors.New("workqueue: spin count must be non-negative")
		}
		opts.spinCount = n
		return nil
	}}
}

// WithMaxPollInterval caps the coarse sleep between polls, for idle workers
// and for quiescence waits.
func WithMaxPollInterval(d time.Duration) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if d <= 0 {
			return errors.New("workqueue: max poll interval must be positive")
		}
		opts.maxPollInterval = d
		return nil
	}}
}

// WithPinnedCPUs pins workers to CPUs, round-robin by worker id, unless
// overridden per spawn by [WithCPU]. Pinning failures surface as
// [ErrCapability] from the spawn call.
func WithPinnedCPUs(cpus ...int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		for _, cpu := range cpus {
			if cpu < 0 {
				return fmt.Errorf("workqueue: invalid cpu %d", cpu)
			}
		}
		opts.pinnedCPUs = append([]int(nil), cpus...)
		return nil
	}}
}

// WithLockOSThread runs each worker on its own, dedicated, OS thread.
func WithLockOSThread(enabled bool) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.lockOSThread = enabled
		return nil
	}}
}

// WithSlowWaitThreshold sets how long a quiescence wait (WaitDone,
// WaitAllDone, the pause barriers) may run before a warning is logged.
// Zero disables the warning.
func WithSlowWaitThreshold(d time.Duration) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if d < 0 {
			return errors.New("workqueue: slow wait threshold must be non-negative")
		}
		opts.slowWaitThreshold = d
		return nil
	}}
}

// WithWarnRates rate limits slow-wait warnings, per category (the kind of
// wait), using go-catrate semantics. An empty map disables rate limiting.
// The map is copied.
func WithWarnRates(rates map[time.Duration]int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.warnRates = maps.Clone(rates)
		return nil
	}}
}

// withStartFunc replaces the platform thread starter, for tests.
func withStartFunc(fn osthread.StartFunc) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.startThread = fn
		return nil
	}}
}

// resolvePoolOptions applies PoolOption instances to poolOptions.
func resolvePoolOptions(opts []PoolOption) (*poolOptions, error) {
	cfg := &poolOptions{
		warnRates:         maps.Clone(DefaultWarnRates),
		startThread:       osthread.Start,
		spinCount:         osthread.DefaultSpinCount,
		maxPollInterval:   osthread.DefaultMaxSleep,
		slowWaitThreshold: DefaultSlowWaitThreshold,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Spawn Options ---

type spawnOptions struct {
	cpu    int
	hasCPU bool
}

// SpawnOption configures a single spawn call.
type SpawnOption interface {
	applySpawn(*spawnOptions) error
}

type spawnOptionImpl struct {
	applySpawnFunc func(*spawnOptions) error
}

func (s *spawnOptionImpl) applySpawn(opts *spawnOptions) error {
	return s.applySpawnFunc(opts)
}

// WithCPU pins the spawned worker(s) to cpu. For a batch, every worker in
// the batch is pinned to the same CPU. A negative cpu disables pinning,
// overriding [WithPinnedCPUs].
func WithCPU(cpu int) SpawnOption {
	return &spawnOptionImpl{func(opts *spawnOptions) error {
		opts.cpu = cpu
		opts.hasCPU = true
		return nil
	}}
}

func resolveSpawnOptions(opts []SpawnOption) (*spawnOptions, error) {
	cfg := &spawnOptions{cpu: -1}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySpawn(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Queue Options ---

type queueOptions struct {
	maxChunks int
	tableSize int
}

// QueueOption configures a ChunkedQueue.
type QueueOption interface {
	applyQueue(*queueOptions) error
}

type queueOptionImpl struct {
	applyQueueFunc func(*queueOptions) error
}

func (q *queueOptionImpl) applyQueue(opts *queueOptions) error {
	return q.applyQueueFunc(opts)
}

// WithMaxChunks limits the number of chunks a queue may allocate. Allocating
// beyond it fails with [ErrAllocation]. Zero means unlimited.
func WithMaxChunks(n int) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		if n < 0 {
			return errors.New("workqueue: max chunks must be non-negative")
		}
		opts.maxChunks = n
		return nil
	}}
}

// WithInitialTable sets the initial length of the chunk pointer table,
// which doubles whenever it is exhausted.
func WithInitialTable(n int) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		if n <= 0 {
			return errors.New("workqueue: initial table size must be positive")
		}
		opts.tableSize = n
		return nil
	}}
}

func resolveQueueOptions(opts []QueueOption) (*queueOptions, error) {
	cfg := &queueOptions{tableSize: DefaultTableSize}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyQueue(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
