package workqueue

import (
	"sync/atomic"
)

// GroupState is the state requested of a whole group of workers.
//
// Transitions (driven by Pool methods):
//
//	GroupStop -> GroupRun   [ResumeAll, gates posted]
//	GroupRun  -> GroupWait  [SuspendAll]
//	GroupWait -> GroupRun   [ResumeAll, no wake needed]
//	GroupRun  -> GroupStop  [StopAll, barrier]
//	any       -> GroupQuit  [QuitAll, terminal for live workers]
type GroupState uint32

const (
	// GroupStop parks workers on their gate once they have drained every
	// entry. It is the initial state of both groups.
	GroupStop GroupState = iota
	// GroupRun lets workers poll their entries.
	GroupRun
	// GroupWait pauses workers in a spin loop, for a low-latency resume.
	GroupWait
	// GroupQuit terminates workers once drained.
	GroupQuit
)

func (s GroupState) String() string {
	switch s {
	case GroupStop:
		return "stop"
	case GroupRun:
		return "run"
	case GroupWait:
		return "wait"
	case GroupQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// WorkerState is the state a worker has acknowledged. Only the worker
// writes its own state.
//
//	WorkerStop -> WorkerRun   [woken from gate]
//	WorkerRun  -> WorkerWait  [group is GroupWait]
//	WorkerWait -> WorkerRun   [group left GroupWait]
//	WorkerRun  -> WorkerStop  [stop requested, all entries drained]
//	WorkerRun  -> WorkerQuit  [quit requested, all entries drained]
//	WorkerStop -> WorkerQuit  [woken from gate, quit requested]
//
// WorkerQuit is terminal.
type WorkerState uint32

const (
	// WorkerStop is parked on the gate. New workers start here.
	WorkerStop WorkerState = iota
	WorkerRun
	WorkerWait
	WorkerQuit
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStop:
		return "stop"
	case WorkerRun:
		return "run"
	case WorkerWait:
		return "wait"
	case WorkerQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// request is the per-worker "self" flag, written by the pool (or by the
// worker's own callback through the pool) and read by the worker.
type request uint32

const (
	requestNone request = iota
	requestStop
	requestQuit
)

// WorkerKind identifies the dispatch loop a worker runs.
type WorkerKind uint8

const (
	// KindStream workers traverse every item of every entry.
	KindStream WorkerKind = iota + 1
	// KindBatch workers consume a disjoint stripe of every entry.
	KindBatch
	// KindTask workers run their callback once per Post, and consume no queue.
	KindTask
)

func (k WorkerKind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindBatch:
		return "batch"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Group is one of the pool's two disjoint worker groups.
type Group uint8

const (
	GroupStream Group = iota
	GroupBatch
)

func (g Group) String() string {
	if g == GroupBatch {
		return "batch"
	}
	return "stream"
}

type atomicGroupState struct{ v atomic.Uint32 }

func (x *atomicGroupState) Load() GroupState   { return GroupState(x.v.Load()) }
func (x *atomicGroupState) Store(s GroupState) { x.v.Store(uint32(s)) }

type atomicWorkerState struct{ v atomic.Uint32 }

func (x *atomicWorkerState) Load() WorkerState   { return WorkerState(x.v.Load()) }
func (x *atomicWorkerState) Store(s WorkerState) { x.v.Store(uint32(s)) }

type atomicRequest struct{ v atomic.Uint32 }

func (x *atomicRequest) Load() request { return request(x.v.Load()) }

// raise upgrades the request, never downgrading a quit.
func (x *atomicRequest) raise(r request) {
	for {
		old := x.v.Load()
		if request(old) >= r || x.v.CompareAndSwap(old, uint32(r)) {
			return
		}
	}
}

// clearStop drops a stop request, leaving any quit request in place.
func (x *atomicRequest) clearStop() {
	x.v.CompareAndSwap(uint32(requestStop), uint32(requestNone))
}
