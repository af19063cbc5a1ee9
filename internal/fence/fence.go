// Package fence waits on sync_file style fence descriptors.
//
// A fence is an integer descriptor that becomes readable once the GPU work
// it represents has completed. NoFence (-1) is always signalled.
package fence

import (
	"errors"
	"time"
)

// NoFence marks an absent, already signalled fence.
const NoFence = -1

var (
	// ErrTimeout is returned when a fence did not signal within the bound.
	ErrTimeout = errors.New("fence: wait timed out")
	// ErrBadFence is returned for descriptors that cannot be polled.
	ErrBadFence = errors.New("fence: invalid descriptor")
	// ErrUnsupportedPlatform is returned where fences cannot be polled.
	ErrUnsupportedPlatform = errors.New("fence: unsupported platform")
)

// pollSlice bounds a single poll so context cancellation is noticed.
const pollSlice = 100 * time.Millisecond
