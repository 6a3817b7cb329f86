package osthread

import (
	"runtime"
	"time"
)

const (
	// DefaultSpinCount is the number of yields before a Backoff starts to sleep.
	DefaultSpinCount = 64
	// DefaultMaxSleep caps the sleep between polls.
	DefaultMaxSleep = time.Millisecond
	minSleep        = 5 * time.Microsecond
)

// Backoff is the coarse sleep/yield primitive used by polling loops. It
// yields the processor for the first SpinCount calls to Pause, then sleeps
// for an exponentially increasing interval, capped at MaxSleep.
//
// A Backoff is owned by a single goroutine.
type Backoff struct {
	SpinCount int
	MaxSleep  time.Duration

	spins int
	sleep time.Duration
}

// Pause yields or sleeps, depending on how many times it has been called
// since the last Reset.
func (b *Backoff) Pause() {
	spinCount := b.SpinCount
	if spinCount < 0 {
		spinCount = 0
	}
	if b.spins < spinCount {
		b.spins++
		runtime.Gosched()
		return
	}
	maxSleep := b.MaxSleep
	if maxSleep <= 0 {
		maxSleep = DefaultMaxSleep
	}
	switch {
	case b.sleep < minSleep:
		b.sleep = minSleep
	case b.sleep < maxSleep:
		b.sleep *= 2
	}
	if b.sleep > maxSleep {
		b.sleep = maxSleep
	}
	time.Sleep(b.sleep)
}

// Sleeping reports whether the next Pause will sleep rather than yield.
func (b *Backoff) Sleeping() bool {
	return b.spins >= b.SpinCount
}

// Reset returns the Backoff to spinning. Call it after making progress.
func (b *Backoff) Reset() {
	b.spins = 0
	b.sleep = 0
}

// Yield gives up the processor once.
func Yield() { runtime.Gosched() }
