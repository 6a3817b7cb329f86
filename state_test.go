package workqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "stop", GroupStop.String())
	assert.Equal(t, "run", GroupRun.String())
	assert.Equal(t, "wait", GroupWait.String())
	assert.Equal(t, "quit", GroupQuit.String())
	assert.Equal(t, "unknown", GroupState(99).String())

	assert.Equal(t, "stop", WorkerStop.String())
	assert.Equal(t, "run", WorkerRun.String())
	assert.Equal(t, "wait", WorkerWait.String())
	assert.Equal(t, "quit", WorkerQuit.String())
	assert.Equal(t, "unknown", WorkerState(99).String())

	assert.Equal(t, "stream", KindStream.String())
	assert.Equal(t, "batch", KindBatch.String())
	assert.Equal(t, "task", KindTask.String())
	assert.Equal(t, "unknown", WorkerKind(0).String())

	assert.Equal(t, "stream", GroupStream.String())
	assert.Equal(t, "batch", GroupBatch.String())
}

func TestAtomicRequest(t *testing.T) {
	var r atomicRequest
	assert.Equal(t, requestNone, r.Load())

	r.raise(requestStop)
	assert.Equal(t, requestStop, r.Load())
	r.clearStop()
	assert.Equal(t, requestNone, r.Load())

	r.raise(requestQuit)
	r.raise(requestStop)
	assert.Equal(t, requestQuit, r.Load(), "quit is never downgraded")
	r.clearStop()
	assert.Equal(t, requestQuit, r.Load())
}
