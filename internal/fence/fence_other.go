//go:build !linux

package fence

import (
	"context"
	"time"
)

func Wait(ctx context.Context, fd int, timeout time.Duration) error {
	if fd < 0 {
		return nil
	}
	return ErrUnsupportedPlatform
}

func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return ErrUnsupportedPlatform
}
