//go:build unix

/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gralloc

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Errno maps err onto the errno a C caller of the allocator expects. The
// result is 0 for a nil error.
func Errno(err error) unix.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrTimeout):
		return unix.ETIME
	case errors.Is(err, ErrAllocationFailed):
		return unix.ENOMEM
	case errors.Is(err, ErrUnsupportedFormat):
		return unix.ENOTSUP
	case errors.Is(err, ErrNoBackendAvailable):
		return unix.ENODEV
	case errors.Is(err, ErrMapFailed):
		return unix.EFAULT
	case errors.Is(err, ErrClosed):
		return unix.ESHUTDOWN
	}
	return unix.EINVAL
}
