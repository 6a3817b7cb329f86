// Package osthread is the platform-capability layer beneath the worker pool.
//
// It exposes exactly what the pool needs from the host: a unit of execution
// that can be started, joined and (cooperatively) cancelled, a binary
// wait/signal [Gate], and a coarse sleep/yield [Backoff]. Threads may
// optionally be locked to an OS thread and pinned to a CPU, which is the only
// part of this package with platform-specific code.
package osthread
