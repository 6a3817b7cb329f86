package prometheus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-workqueue"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceStub struct {
	stats workqueue.PoolStats
}

func (s sourceStub) Stats() workqueue.PoolStats { return s.stats }

func familyByName(t *testing.T, reg *prom.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestPoller_RecordsSnapshot(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewPoller("", reg, time.Hour)
	require.NoError(t, err)

	poller.AddPool("tokens", sourceStub{stats: workqueue.PoolStats{
		StreamState: workqueue.GroupRun,
		BatchState:  workqueue.GroupStop,
		Workers: []workqueue.WorkerStats{
			{ID: 1, Kind: workqueue.KindBatch, State: workqueue.WorkerStop, Processed: 4, Done: true},
			{ID: 2, Kind: workqueue.KindStream, State: workqueue.WorkerRun, Processed: 9},
		},
		Queues: []workqueue.QueueStats{{Produced: 10, Published: 9, Chunks: 1}},
	}})
	poller.Update()

	assert.Equal(t, 2.0, testutil.ToFloat64(poller.workers.WithLabelValues("tokens")))
	assert.Equal(t, 1.0, testutil.ToFloat64(poller.groupState.WithLabelValues("tokens", "stream", "run")))
	assert.Equal(t, 0.0, testutil.ToFloat64(poller.groupState.WithLabelValues("tokens", "stream", "stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(poller.groupState.WithLabelValues("tokens", "batch", "stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(poller.workerState.WithLabelValues("tokens", "1", "stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(poller.workerDone.WithLabelValues("tokens", "1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(poller.workerDone.WithLabelValues("tokens", "2")))
	assert.Equal(t, 9.0, testutil.ToFloat64(poller.workerItems.WithLabelValues("tokens", "2", "stream")))
	assert.Equal(t, 9.0, testutil.ToFloat64(poller.queuePublished.WithLabelValues("tokens", "0")))

	f := familyByName(t, reg, "workqueue_queue_produced")
	require.NotNil(t, f)
	require.Len(t, f.GetMetric(), 1)
	assert.Equal(t, 10.0, f.GetMetric()[0].GetGauge().GetValue())
}

func TestPoller_RemovePoolDropsSeries(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewPoller("wq", reg, time.Hour)
	require.NoError(t, err)

	poller.AddPool("a", sourceStub{stats: workqueue.PoolStats{Queues: []workqueue.QueueStats{{Chunks: 2}}}})
	poller.Update()
	require.NotNil(t, familyByName(t, reg, "wq_queue_chunks"))

	poller.RemovePool("a")
	assert.Nil(t, familyByName(t, reg, "wq_queue_chunks"))
}

func TestPoller_ReusesRegisteredCollectors(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewPoller("", reg, time.Second)
	require.NoError(t, err)
	second, err := NewPoller("", reg, time.Second)
	require.NoError(t, err)
	assert.Same(t, first.workers, second.workers)
}

func TestPoller_PollsLivePool(t *testing.T) {
	pool, err := workqueue.NewPool[int](1)
	require.NoError(t, err)
	defer pool.Destroy(nil)

	var seen atomic.Int64
	_, err = pool.SpawnStream(func(_ int, item *int) { seen.Add(int64(*item)) })
	require.NoError(t, err)
	q, err := workqueue.NewChunkedQueue[int](0)
	require.NoError(t, err)
	e, err := pool.Attach(q)
	require.NoError(t, err)
	pool.ResumeAll()
	for i := 1; i <= 3; i++ {
		_, err := q.Push(pool, i)
		require.NoError(t, err)
	}
	require.NoError(t, pool.WaitDone(e))

	reg := prom.NewRegistry()
	poller, err := NewPoller("", reg, 5*time.Millisecond)
	require.NoError(t, err)
	poller.AddPool("live", pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	poller.Start(ctx)
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(poller.workerItems.WithLabelValues("live", "1", "stream")) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(6), seen.Load())

	poller.Stop()
	poller.Stop()
}

func TestPoller_MetricsPassLint(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewPoller("", reg, time.Hour)
	require.NoError(t, err)

	poller.AddPool("tokens", sourceStub{stats: workqueue.PoolStats{
		StreamState: workqueue.GroupRun,
		BatchState:  workqueue.GroupRun,
		Workers: []workqueue.WorkerStats{
			{ID: 1, Kind: workqueue.KindStream, State: workqueue.WorkerRun, Processed: 3},
		},
		Queues: []workqueue.QueueStats{{Produced: 3, Published: 3, Chunks: 1}},
	}})
	poller.Update()

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.NotNil(t, familyByName(t, reg, DefaultNamespace+"_worker_processed"))
}
