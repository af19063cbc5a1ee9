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

import "errors"

var (
	// ErrUnsupportedFormat is returned for descriptors naming an unknown
	// format or empty dimensions.
	ErrUnsupportedFormat = errors.New("gralloc: unsupported format")
	// ErrNoBackendAvailable is returned when no configured backend, the
	// fallback included, can serve a descriptor.
	ErrNoBackendAvailable = errors.New("gralloc: no backend available")
	// ErrAllocationFailed is returned when the selected backend rejects an
	// allocation.
	ErrAllocationFailed = errors.New("gralloc: allocation failed")
	// ErrInvalidHandle is returned for unknown, malformed or released handles.
	ErrInvalidHandle = errors.New("gralloc: invalid handle")
	// ErrInvalidState is returned when an access operation does not match the
	// buffer map state.
	ErrInvalidState = errors.New("gralloc: invalid buffer state")
	// ErrMapFailed is returned when the backend cannot map a buffer.
	ErrMapFailed = errors.New("gralloc: map failed")
	// ErrTimeout is returned when an acquire fence does not signal in time.
	ErrTimeout = errors.New("gralloc: fence wait timed out")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("gralloc: driver closed")
)
