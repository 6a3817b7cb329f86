//go:build !linux

package osthread

import (
	"runtime"
)

func setAffinity(int) error { return ErrUnsupported }

func currentThreadID() int { return 0 }

// NumCPU returns the number of logical CPUs.
func NumCPU() int { return runtime.NumCPU() }
