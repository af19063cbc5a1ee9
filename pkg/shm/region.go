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

package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"

	internalshm "github.com/phreer/celadon-minigbm/internal/shm"
)

// Allocation modes accepted by NewAllocator.
const (
	ModeAuto  = "auto"
	ModeHeap  = "heap"
	ModeMemfd = "memfd"
	ModeNone  = "none"
)

var (
	// ErrUnavailable is returned when the requested allocator cannot work
	// on this platform.
	ErrUnavailable = errors.New("shm: reserved region allocator unavailable")
	// ErrInvalidSize is returned for zero sized regions.
	ErrInvalidSize = errors.New("shm: invalid region size")
	// ErrNoSpace is returned when the system lacks memory for a region.
	ErrNoSpace = errors.New("shm: not enough memory for region")
)

// Region is a reserved memory region backed by a descriptor.
type Region struct {
	name string
	size uint64
	fd   int

	mu     sync.Mutex
	mapped *internalshm.MappedRegion
}

// Wrap adopts fd as a region of size bytes. The region owns fd.
func Wrap(fd int, name string, size uint64) *Region {
	return &Region{name: name, size: size, fd: fd}
}

func (r *Region) Name() string { return r.name }

func (r *Region) Size() uint64 { return r.size }

// Fd returns the descriptor, -1 once closed.
func (r *Region) Fd() int { return r.fd }

// Map maps the region read-write on first use and returns the mapping.
func (r *Region) Map() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapped != nil {
		return r.mapped.Addr, nil
	}
	if r.fd < 0 {
		return nil, fmt.Errorf("region %q is closed", r.name)
	}
	m, err := internalshm.MapRegion(internalshm.MapOptions{
		Fd:    r.fd,
		Size:  int(r.size),
		Read:  true,
		Write: true,
	})
	if err != nil {
		return nil, err
	}
	r.mapped = m
	return m.Addr, nil
}

// Mapped reports whether Map has been called.
func (r *Region) Mapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapped != nil
}

// Close unmaps the region and closes its descriptor.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.mapped != nil {
		err = internalshm.UnmapRegion(r.mapped)
		r.mapped = nil
	}
	if r.fd >= 0 {
		if cerr := internalshm.Close(r.fd); cerr != nil && err == nil {
			err = cerr
		}
		r.fd = -1
	}
	return err
}

// Allocator creates reserved regions.
type Allocator interface {
	Name() string
	Create(ctx context.Context, name string, size uint64) (*Region, error)
}

// NewAllocator returns the allocator for mode. It returns a nil Allocator
// and no error when mode is ModeNone, or ModeAuto on a platform without a
// dma-buf heap.
func NewAllocator(mode, heapPath string) (Allocator, error) {
	switch mode {
	case ModeNone:
		return nil, nil
	case ModeAuto, "":
		if !internalshm.HeapAvailable(heapPath) {
			return nil, nil
		}
		return &HeapAllocator{Path: heapPath}, nil
	case ModeHeap:
		if !internalshm.HeapAvailable(heapPath) {
			return nil, fmt.Errorf("%w: no dma-buf heap at %q", ErrUnavailable, heapPath)
		}
		return &HeapAllocator{Path: heapPath}, nil
	case ModeMemfd:
		return &MemfdAllocator{CheckMemory: true}, nil
	}
	return nil, fmt.Errorf("unknown reserved region mode %q", mode)
}

// HeapAllocator carves regions out of a dma-buf heap and names them with
// DMA_BUF_SET_NAME.
type HeapAllocator struct {
	Path string
}

func (a *HeapAllocator) Name() string { return "dma-heap" }

func (a *HeapAllocator) Create(ctx context.Context, name string, size uint64) (*Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrInvalidSize
	}
	fd, err := internalshm.HeapAlloc(a.Path, size)
	if err != nil {
		return nil, err
	}
	if name != "" {
		if err := internalshm.SetName(fd, name); err != nil {
			_ = internalshm.Close(fd)
			return nil, err
		}
	}
	return Wrap(fd, name, size), nil
}

// MemfdAllocator backs regions with memfds named after the buffer.
type MemfdAllocator struct {
	CheckMemory bool
}

func (a *MemfdAllocator) Name() string { return "memfd" }

func (a *MemfdAllocator) Create(ctx context.Context, name string, size uint64) (*Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrInvalidSize
	}
	if a.CheckMemory && !canCreate(size) {
		return nil, fmt.Errorf("%w: %d bytes", ErrNoSpace, size)
	}
	fd, err := internalshm.MemfdCreate("gralloc-reserved-"+name, int64(size))
	if err != nil {
		return nil, err
	}
	return Wrap(fd, name, size), nil
}

// canCreate reports whether size bytes fit into available memory. Probe
// failures do not block creation.
func canCreate(size uint64) bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return true
	}
	return size <= vm.Available
}
