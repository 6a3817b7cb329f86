package workqueue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_PostRunsCallback(t *testing.T) {
	p := newTestPool[int](t, 1)
	var calls atomic.Int32
	id, err := p.SpawnTask(func(_ int, item *int) {
		assert.Nil(t, item)
		calls.Add(1)
	})
	require.NoError(t, err)
	p.ResumeAll()

	for i := 1; i <= 3; i++ {
		require.NoError(t, p.Post(id))
		require.NoError(t, p.WaitIdle(id))
		assert.Equal(t, int32(i), calls.Load())
	}
	s := p.Stats()
	require.Len(t, s.Workers, 1)
	assert.Equal(t, KindTask, s.Workers[0].Kind)
	assert.Equal(t, GroupStream, s.Workers[0].Group)
	assert.Equal(t, uint64(3), s.Workers[0].Processed)
}

func TestTask_StoppedGroupDropsPosts(t *testing.T) {
	p := newTestPool[int](t, 1)
	var calls atomic.Int32
	id, err := p.SpawnTask(func(int, *int) { calls.Add(1) })
	require.NoError(t, err)

	// the stream group starts stopped
	require.NoError(t, p.Post(id))
	require.NoError(t, p.WaitIdle(id))
	assert.Zero(t, calls.Load())

	p.ResumeAll()
	p.StopStreamAll()
	require.NoError(t, p.Post(id))
	require.NoError(t, p.WaitIdle(id))
	assert.Zero(t, calls.Load())

	p.ResumeAll()
	require.NoError(t, p.Post(id))
	require.NoError(t, p.WaitIdle(id))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTask_StopAndResumeWorker(t *testing.T) {
	p := newTestPool[int](t, 1)
	var calls atomic.Int32
	id, err := p.SpawnTask(func(int, *int) { calls.Add(1) })
	require.NoError(t, err)
	p.ResumeAll()

	require.NoError(t, p.StopWorker(id))
	require.NoError(t, p.Post(id))
	require.NoError(t, p.WaitIdle(id))
	assert.Zero(t, calls.Load())

	require.NoError(t, p.ResumeWorker(id))
	require.NoError(t, p.WaitIdle(id))
	assert.Zero(t, calls.Load(), "resume does not replay dropped posts")

	require.NoError(t, p.Post(id))
	require.NoError(t, p.WaitIdle(id))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTask_PostFromCallback(t *testing.T) {
	p := newTestPool[int](t, 2)
	var pings, pongs atomic.Int32
	var pong int
	ping, err := p.SpawnTask(func(int, *int) {
		pings.Add(1)
		_ = p.Post(pong)
	})
	require.NoError(t, err)
	pong, err = p.SpawnTask(func(int, *int) { pongs.Add(1) })
	require.NoError(t, err)
	p.ResumeAll()

	require.NoError(t, p.Post(ping))
	require.NoError(t, p.WaitIdle(ping))
	require.Eventually(t, func() bool { return pongs.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, p.WaitIdle(pong))
	assert.Equal(t, int32(1), pings.Load())
}

func TestTask_QuitWorker(t *testing.T) {
	p := newTestPool[int](t, 1)
	id, err := p.SpawnTask(func(int, *int) {})
	require.NoError(t, err)

	require.NoError(t, p.QuitWorker(id))
	waitState(t, p, id, WorkerQuit)
	require.NoError(t, p.WaitIdle(id))
	require.NoError(t, p.Post(id), "posting an exited worker is harmless")
}

func TestTask_DestroyWakesParked(t *testing.T) {
	p := newTestPool[int](t, 2)
	_, err := p.SpawnTask(func(int, *int) {})
	require.NoError(t, err)
	_, err = p.SpawnTask(func(int, *int) {})
	require.NoError(t, err)
	p.ResumeAll()

	p.Destroy(nil)
	for _, w := range p.Stats().Workers {
		assert.Equal(t, WorkerQuit, w.State)
	}
}
