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

package drv

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/phreer/celadon-minigbm/internal/shm"
)

// NewMemfd returns a backend that allocates every buffer object from an
// anonymous memfd. It is always available and serves as the fallback.
func NewMemfd(opts Options) *SystemBackend {
	if opts.Name == "" {
		opts.Name = "memfd"
	}
	name := "gralloc-" + opts.Name
	check := opts.CheckMemory
	return newSystemBackend(opts, func(size uint64) (int, error) {
		if check {
			if err := checkAvailable(size); err != nil {
				return -1, err
			}
		}
		fd, err := shm.MemfdCreate(name, int64(size))
		if err != nil {
			return -1, fmt.Errorf("%w: %v", ErrNoMemory, err)
		}
		return fd, nil
	}, false)
}

// checkAvailable refuses sizes larger than the memory the kernel reports as
// available. A failing probe does not block the allocation.
func checkAvailable(size uint64) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	if size > vm.Available {
		return fmt.Errorf("%w: %d bytes requested, %d available", ErrNoMemory, size, vm.Available)
	}
	return nil
}
