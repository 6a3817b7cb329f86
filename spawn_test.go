package workqueue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-workqueue/internal/osthread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStarter fails the nth call to Start (1-based), once.
type flakyStarter struct {
	calls   atomic.Int32
	running atomic.Int32
	failAt  int32
}

func (s *flakyStarter) start(cfg osthread.Config, fn func()) (*osthread.Thread, error) {
	if s.calls.Add(1) == s.failAt {
		return nil, errors.New("no more threads")
	}
	return osthread.Start(cfg, func() {
		s.running.Add(1)
		defer s.running.Add(-1)
		fn()
	})
}

func TestSpawnBatch_UnwindsOnFailure(t *testing.T) {
	starter := &flakyStarter{failAt: 3}
	logger, buf := newTestLogger()
	p := newTestPool[int](t, 4, WithLogger(logger), withStartFunc(starter.start))

	_, err := p.SpawnBatch(func(int, *int) {}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapability)
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, 3, werr.ID)
	assert.Equal(t, KindBatch, werr.Kind)
	assert.Equal(t, `spawn`, werr.Op)

	assert.Zero(t, p.Workers())
	first, count := p.Batch()
	assert.Zero(t, first)
	assert.Zero(t, count)
	assert.Zero(t, starter.running.Load(), "started workers are joined")
	assert.Empty(t, p.Stats().Workers)
	assert.Contains(t, buf.String(), `batch spawn unwound`)

	first, err = p.SpawnBatch(func(int, *int) {}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 3, p.Workers())
	require.Eventually(t, func() bool { return starter.running.Load() == 3 }, 2*time.Second, time.Millisecond)
}

func TestSpawnStream_Failure(t *testing.T) {
	starter := &flakyStarter{failAt: 1}
	p := newTestPool[int](t, 1, withStartFunc(starter.start))

	_, err := p.SpawnStream(func(int, *int) {})
	assert.ErrorIs(t, err, ErrCapability)
	assert.Zero(t, p.Workers())

	id, err := p.SpawnStream(func(int, *int) {})
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestSpawn_PinningFailure(t *testing.T) {
	p := newTestPool[int](t, 1)
	_, err := p.SpawnStream(func(int, *int) {}, WithCPU(1<<16))
	assert.ErrorIs(t, err, ErrCapability)
	assert.Zero(t, p.Workers())
}

func TestSpawn_PinnedCPUsRoundRobin(t *testing.T) {
	p := newTestPool[int](t, 3, WithPinnedCPUs(4, 7))
	so := &spawnOptions{cpu: -1}
	assert.Equal(t, 4, p.cpuFor(1, so))
	assert.Equal(t, 7, p.cpuFor(2, so))
	assert.Equal(t, 4, p.cpuFor(3, so))
	assert.Equal(t, 9, p.cpuFor(3, &spawnOptions{cpu: 9, hasCPU: true}))
	assert.Equal(t, -1, p.cpuFor(3, &spawnOptions{cpu: -1, hasCPU: true}))
}
