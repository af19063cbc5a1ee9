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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/phreer/celadon-minigbm/internal/fence"
	"github.com/phreer/celadon-minigbm/internal/logging"
	internalshm "github.com/phreer/celadon-minigbm/internal/shm"
	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/shm"
)

// buffer is the driver side of one backing store.
type buffer struct {
	id              uint64
	bo              *drv.BufferObject
	backend         drv.Backend
	name            string
	requestedFormat uint32
	region          *shm.Region
	log             *logging.Logger

	// refs counts handle entries, pins in-flight access operations. Both
	// are guarded by Driver.mu.
	refs int
	pins int

	mu        sync.Mutex
	lockCount int
	mapping   *drv.Mapping
	// snapshot of the access state readable without mu
	locks  atomic.Int32
	mapped atomic.Uint32
}

func newBuffer(bo *drv.BufferObject, be drv.Backend, name string, requested uint32, region *shm.Region, log *logging.Logger) *buffer {
	return &buffer{
		id:              bo.ID,
		bo:              bo,
		backend:         be,
		name:            name,
		requestedFormat: requested,
		region:          region,
		log:             log,
	}
}

func (b *buffer) reservedSize() uint64 {
	if b.region == nil {
		return 0
	}
	return b.region.Size()
}

// handle mints a handle with descriptors duplicated from the buffer object.
func (b *buffer) handle() (*Handle, error) {
	h := newHandle()
	h.NumPlanes = b.bo.NumPlanes
	h.Width = b.bo.Width
	h.Height = b.bo.Height
	h.Format = b.bo.Format
	h.RequestedFormat = b.requestedFormat
	h.Usage = b.bo.UseFlags
	h.Modifier = b.bo.Modifier
	h.TotalSize = b.bo.TotalSize
	h.ID = b.id
	h.BackendKind = b.backend.Kind()
	h.Name = b.name
	for i := 0; i < b.bo.NumPlanes; i++ {
		p := b.bo.Planes[i]
		fd, err := internalshm.Dup(p.FD)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.PlaneFDs[i] = fd
		h.Strides[i] = p.Stride
		h.Offsets[i] = p.Offset
		h.Sizes[i] = p.Size
	}
	if b.region != nil {
		fd, err := internalshm.Dup(b.region.Fd())
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.ReservedRegionFD = fd
		h.ReservedRegionSize = b.region.Size()
	}
	return h, nil
}

func (b *buffer) planes() [][]byte {
	out := make([][]byte, b.bo.NumPlanes)
	for i := range out {
		out[i] = b.mapping.PlaneData(b.bo, i)
	}
	return out
}

func (b *buffer) setState() {
	b.locks.Store(int32(b.lockCount))
	if b.mapping != nil {
		b.mapped.Store(uint32(b.mapping.Flags))
	} else {
		b.mapped.Store(0)
	}
}

// lock maps the buffer for flags or reuses a compatible mapping. It reports
// whether a new mapping was created. A failed lock leaves the state intact.
func (b *buffer) lock(rect drv.Rect, flags drv.MapFlags) ([][]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	created := false
	switch {
	case flags == drv.MapNone:
		if b.mapping == nil {
			return nil, false, fmt.Errorf("%w: lock without access flags on unmapped buffer %d", ErrInvalidState, b.id)
		}
	case b.mapping != nil:
		if !b.mapping.Flags.Covers(flags) {
			return nil, false, fmt.Errorf("%w: buffer %d mapped with %#x, %#x requested",
				ErrInvalidState, b.id, uint32(b.mapping.Flags), uint32(flags))
		}
		if err := b.backend.Invalidate(b.bo, b.mapping); err != nil {
			return nil, false, fmt.Errorf("%w: invalidate buffer %d: %w", ErrMapFailed, b.id, err)
		}
	default:
		m, err := b.backend.Map(b.bo, rect, flags)
		if err != nil {
			return nil, false, fmt.Errorf("%w: buffer %d: %w", ErrMapFailed, b.id, err)
		}
		b.mapping = m
		created = true
	}
	planes := b.planes()
	for i, p := range planes {
		if p != nil {
			continue
		}
		if created {
			if err := b.backend.Unmap(b.bo, b.mapping); err != nil {
				b.log.Warnf("unmap buffer %d: %v", b.id, err)
			}
			b.mapping = nil
		}
		return nil, false, fmt.Errorf("%w: buffer %d plane %d outside mapping", ErrMapFailed, b.id, i)
	}
	b.lockCount++
	b.setState()
	return planes, created, nil
}

// unlock drops one lock and unmaps the buffer with the last one. It
// returns the release fence and whether the mapping went away.
func (b *buffer) unlock() (int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lockCount == 0 {
		return fence.NoFence, false, fmt.Errorf("%w: buffer %d is not locked", ErrInvalidState, b.id)
	}
	unmapped := false
	b.lockCount--
	if b.lockCount == 0 && b.mapping != nil {
		if err := b.backend.Unmap(b.bo, b.mapping); err != nil {
			b.log.Warnf("unmap buffer %d: %v", b.id, err)
		}
		b.mapping = nil
		unmapped = true
	}
	b.setState()
	fd, err := b.backend.ReleaseFence(b.bo)
	if err != nil {
		b.log.Warnf("release fence for buffer %d: %v", b.id, err)
		fd = fence.NoFence
	}
	return fd, unmapped, nil
}

func (b *buffer) invalidate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapping == nil {
		return fmt.Errorf("%w: invalidate on unlocked buffer %d", ErrInvalidState, b.id)
	}
	return b.backend.Invalidate(b.bo, b.mapping)
}

func (b *buffer) flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapping == nil {
		return fmt.Errorf("%w: flush on unlocked buffer %d", ErrInvalidState, b.id)
	}
	return b.backend.Flush(b.bo, b.mapping)
}

// destroy unmaps the buffer and hands its resources back. It reports
// whether a mapping was still alive.
func (b *buffer) destroy() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	wasMapped := b.mapping != nil
	if wasMapped {
		b.log.Warnf("buffer %d destroyed while locked %d times", b.id, b.lockCount)
		if err := b.backend.Unmap(b.bo, b.mapping); err != nil {
			errs = append(errs, err)
		}
		b.mapping = nil
		b.lockCount = 0
		b.setState()
	}
	if err := b.backend.Destroy(b.bo); err != nil {
		errs = append(errs, err)
	}
	if b.region != nil {
		if err := b.region.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return wasMapped, errors.Join(errs...)
}

// BufferInfo is a read-only snapshot of a registered buffer.
type BufferInfo struct {
	ID                 uint64
	Name               string
	Backend            string
	Width              uint32
	Height             uint32
	Format             uint32
	RequestedFormat    uint32
	Usage              drv.UseFlags
	Modifier           uint64
	NumPlanes          int
	Strides            [drv.MaxPlanes]uint32
	Offsets            [drv.MaxPlanes]uint32
	Sizes              [drv.MaxPlanes]uint32
	TotalSize          uint64
	ReservedRegionSize uint64
	// Handles is the number of handle entries referencing the buffer.
	Handles   int
	LockCount int
	MapFlags  drv.MapFlags
}

// Mapped reports whether the buffer was mapped when the snapshot was taken.
func (i BufferInfo) Mapped() bool { return i.MapFlags != drv.MapNone }

// info must be called with Driver.mu held.
func (b *buffer) info() BufferInfo {
	in := BufferInfo{
		ID:                 b.id,
		Name:               b.name,
		Backend:            b.backend.Name(),
		Width:              b.bo.Width,
		Height:             b.bo.Height,
		Format:             b.bo.Format,
		RequestedFormat:    b.requestedFormat,
		Usage:              b.bo.UseFlags,
		Modifier:           b.bo.Modifier,
		NumPlanes:          b.bo.NumPlanes,
		TotalSize:          b.bo.TotalSize,
		ReservedRegionSize: b.reservedSize(),
		Handles:            b.refs,
		LockCount:          int(b.locks.Load()),
		MapFlags:           drv.MapFlags(b.mapped.Load()),
	}
	for i := 0; i < b.bo.NumPlanes; i++ {
		in.Strides[i] = b.bo.Planes[i].Stride
		in.Offsets[i] = b.bo.Planes[i].Offset
		in.Sizes[i] = b.bo.Planes[i].Size
	}
	return in
}
