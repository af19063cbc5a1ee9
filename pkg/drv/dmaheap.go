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

	"github.com/phreer/celadon-minigbm/internal/shm"
)

// NewDMAHeap returns a backend allocating from the dma-buf heap at path
// (the system heap when empty). CPU access is bracketed with dma-buf sync
// ioctls so non-coherent heaps stay correct.
func NewDMAHeap(path string, opts Options) (*SystemBackend, error) {
	if path == "" {
		path = shm.DefaultHeapPath
	}
	if !shm.HeapAvailable(path) {
		return nil, fmt.Errorf("%w: dma-buf heap %s not present", ErrUnsupported, path)
	}
	if opts.Name == "" {
		opts.Name = "dmaheap"
	}
	name := opts.Name
	return newSystemBackend(opts, func(size uint64) (int, error) {
		fd, err := shm.HeapAlloc(path, size)
		if err != nil {
			return -1, fmt.Errorf("%w: %v", ErrNoMemory, err)
		}
		_ = shm.SetName(fd, "gralloc-"+name)
		return fd, nil
	}, true), nil
}
