//go:build linux

package fence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Wait blocks until fd signals, ctx is done or timeout elapses. A timeout of
// zero or less waits without bound other than ctx.
func Wait(ctx context.Context, fd int, timeout time.Duration) error {
	if fd < 0 {
		return nil
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrTimeout
			}
			return err
		}
		slice := pollSlice
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return ErrTimeout
			}
			if left < slice {
				slice = left
			}
		}
		fds[0].Revents = 0
		n, err := unix.Poll(fds, int(slice/time.Millisecond)+1)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return ErrBadFence
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
			if fds[0].Revents&unix.POLLERR != 0 {
				return fmt.Errorf("fence %d signalled with error", fd)
			}
			return nil
		}
	}
}

// Close releases a fence descriptor. NoFence is ignored.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
