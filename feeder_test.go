package workqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-microbatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeeder(t *testing.T, q *ChunkedQueue[int], b Barrier[int], bound int) *Feeder[int] {
	t.Helper()
	logger, _ := newTestLogger()
	f := NewFeeder(q, b, &FeederConfig{
		Batcher: &microbatch.BatcherConfig{
			MaxSize:       8,
			FlushInterval: time.Millisecond,
		},
		Logger: logger,
		Bound:  bound,
	})
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFeeder_ConcurrentSubmit(t *testing.T) {
	p := newTestPool[int](t, 1)
	rec := newRecorder()
	id, err := p.SpawnStream(rec.callback)
	require.NoError(t, err)
	q := newTestQueue[int](t)
	e, err := p.Attach(q)
	require.NoError(t, err)
	p.ResumeAll()

	f := newTestFeeder(t, q, p, 0)

	const submitters, each = 8, 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indexes = make(map[uint64]int)
	)
	for s := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				v := s*each + i
				index, err := f.Submit(context.Background(), v)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				indexes[index] = v
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.NoError(t, f.Shutdown(context.Background()))

	assert.Equal(t, uint64(submitters*each), q.Published())
	require.Len(t, indexes, submitters*each, "indexes are unique")
	for index, v := range indexes {
		assert.Equal(t, v, *q.At(index))
	}

	require.NoError(t, p.WaitDone(e))
	assert.Len(t, rec.get(id), submitters*each)
	assert.Equal(t, sequence(0, submitters*each), rec.all())
}

func TestFeeder_Bounded(t *testing.T) {
	p := newTestPool[int](t, 1)
	rec := newRecorder()
	id, err := p.SpawnStream(rec.callback)
	require.NoError(t, err)
	q := newTestQueue[int](t)
	e, err := p.Attach(q)
	require.NoError(t, err)
	p.ResumeAll()

	f := newTestFeeder(t, q, p, 4)
	for v := range 10 {
		_, err := f.Submit(context.Background(), v)
		require.NoError(t, err)
		assert.LessOrEqual(t, q.Produced(), uint64(4))
	}
	require.NoError(t, p.WaitDone(e))

	assert.Equal(t, sequence(0, 10), rec.get(id))
	assert.Equal(t, uint64(2), q.Stats().Resets)
}

func TestFeeder_AllocationFailure(t *testing.T) {
	q := newTestQueue[int](t, WithMaxChunks(1))
	for range q.ChunkCapacity() {
		_, err := q.Next(nil)
		require.NoError(t, err)
	}
	q.Publish()

	logger, buf := newTestLogger()
	f := NewFeeder(q, nil, &FeederConfig{Logger: logger})
	defer f.Close()

	_, err := f.Submit(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Contains(t, buf.String(), `feeder batch failed`)
}

func TestFeeder_SubmitAfterClose(t *testing.T) {
	f := NewFeeder[int](newTestQueue[int](t), nil, nil)
	require.NoError(t, f.Close())
	_, err := f.Submit(context.Background(), 1)
	assert.Error(t, err)
}

func TestNewFeeder_NilQueue(t *testing.T) {
	assert.Panics(t, func() { NewFeeder[int](nil, nil, nil) })
}
