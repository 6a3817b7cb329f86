package workqueue

import (
	"bytes"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// syncBuffer is an io.Writer safe for use by concurrently logging workers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestLogger returns a debug level JSON logger writing to the returned
// buffer.
func newTestLogger() (*logiface.Logger[logiface.Event], *syncBuffer) {
	buf := new(syncBuffer)
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(buf),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(logiface.LevelDebug),
	)
	return logger.Logger(), buf
}

// recorder collects the items each worker processed, in order.
type recorder struct {
	mu    sync.Mutex
	items map[int][]int
}

func newRecorder() *recorder { return &recorder{items: make(map[int][]int)} }

func (r *recorder) callback(id int, item *int) {
	r.mu.Lock()
	r.items[id] = append(r.items[id], *item)
	r.mu.Unlock()
}

func (r *recorder) get(id int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items[id])
}

func (r *recorder) all() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []int
	for _, v := range r.items {
		all = append(all, v...)
	}
	slices.Sort(all)
	return all
}

func sequence(from, to int) []int {
	s := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		s = append(s, i)
	}
	return s
}

func newTestPool[T any](t *testing.T, workers int, opts ...PoolOption) *Pool[T] {
	t.Helper()
	opts = append([]PoolOption{WithMaxPollInterval(100 * time.Microsecond)}, opts...)
	p, err := NewPool[T](workers, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Destroy(nil) })
	return p
}

func newTestQueue[T any](t *testing.T, opts ...QueueOption) *ChunkedQueue[T] {
	t.Helper()
	q, err := NewChunkedQueue[T](0, opts...)
	require.NoError(t, err)
	return q
}

func pushAll(t *testing.T, q *ChunkedQueue[int], b Barrier[int], values []int) {
	t.Helper()
	for _, v := range values {
		_, err := q.Push(b, v)
		require.NoError(t, err)
	}
}

// waitState waits for worker id to acknowledge state.
func waitState[T any](t *testing.T, p *Pool[T], id int, state WorkerState) {
	t.Helper()
	require.Eventually(t, func() bool {
		w, err := p.lookup(id)
		return err == nil && w.state.Load() == state
	}, 2*time.Second, time.Millisecond, "worker %d never reached %s", id, state)
}
