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
	"context"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/phreer/celadon-minigbm/internal/fence"
	"github.com/phreer/celadon-minigbm/internal/logging"
	"github.com/phreer/celadon-minigbm/internal/shm"
)

// Options configure a system-memory backend.
type Options struct {
	// Name identifies the backend in logs and metrics.
	Name string
	// Kind is the device class the backend stands in for.
	Kind Kind
	// Combinations is the capability table, DefaultCombinations when nil.
	Combinations Combinations
	// StrideAlign is the plane 0 pitch alignment in bytes.
	StrideAlign uint32
	// MaxTextureSize bounds width and height, 16384 when zero.
	MaxTextureSize uint32
	// Resolver replaces ResolveFormatAndUseFlags for device quirks.
	Resolver func(format uint32, use UseFlags) (uint32, UseFlags)
	// CheckMemory refuses allocations larger than the available memory.
	CheckMemory bool
}

func (o *Options) setDefaults() {
	if o.Combinations == nil {
		o.Combinations = DefaultCombinations()
	}
	if o.StrideAlign == 0 {
		o.StrideAlign = DefaultStrideAlign
	}
	if o.MaxTextureSize == 0 {
		o.MaxTextureSize = 16384
	}
	if o.Resolver == nil {
		o.Resolver = ResolveFormatAndUseFlags
	}
}

// SystemBackend allocates linear buffer objects from a kernel memory object
// source (memfd or a dma-buf heap). Every plane of an object lives in the
// same descriptor.
type SystemBackend struct {
	opts  Options
	alloc func(size uint64) (int, error)
	// sync brackets CPU access with dma-buf sync ioctls.
	sync bool
	live cmap.ConcurrentMap[uint64, *BufferObject]
	log  *logging.Logger
}

func newSystemBackend(opts Options, alloc func(size uint64) (int, error), sync bool) *SystemBackend {
	opts.setDefaults()
	return &SystemBackend{
		opts:  opts,
		alloc: alloc,
		sync:  sync,
		live: cmap.NewWithCustomShardingFunction[uint64, *BufferObject](func(key uint64) uint32 {
			return uint32(key ^ key>>32)
		}),
		log: logging.New("drv").With("backend", opts.Name),
	}
}

func (b *SystemBackend) Name() string { return b.opts.Name }

func (b *SystemBackend) Kind() Kind { return b.opts.Kind }

func (b *SystemBackend) MaxTextureSize() uint32 { return b.opts.MaxTextureSize }

func (b *SystemBackend) ResolveFormatAndUseFlags(format uint32, use UseFlags) (uint32, UseFlags) {
	return b.opts.Resolver(format, use)
}

func (b *SystemBackend) Combination(format uint32, use UseFlags) (Combination, bool) {
	return b.opts.Combinations.Find(format, use)
}

// LiveObjects returns the number of buffer objects not yet destroyed.
func (b *SystemBackend) LiveObjects() int { return b.live.Count() }

func (b *SystemBackend) Create(ctx context.Context, width, height, format uint32, use UseFlags) (*BufferObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	combo, ok := b.Combination(format, use)
	if !ok {
		return nil, fmt.Errorf("%w: %s use=%#x on %s", ErrUnsupported, FormatName(format), uint64(use), b.opts.Name)
	}
	if width > b.opts.MaxTextureSize || height > b.opts.MaxTextureSize {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrUnsupported, width, height, b.opts.MaxTextureSize)
	}
	planes, n, total, err := Layout(format, width, height, b.opts.StrideAlign)
	if err != nil {
		return nil, err
	}
	fd, err := b.alloc(total)
	if err != nil {
		return nil, err
	}
	id, err := shm.Identify(fd)
	if err != nil {
		_ = shm.Close(fd)
		return nil, err
	}
	for i := 0; i < n; i++ {
		planes[i].FD = fd
	}
	bo := &BufferObject{
		ID:        id,
		Width:     width,
		Height:    height,
		Format:    format,
		UseFlags:  use,
		Modifier:  combo.Modifier,
		NumPlanes: n,
		Planes:    planes,
		TotalSize: total,
		owner:     b,
	}
	b.live.Set(id, bo)
	b.log.Debugf("created bo %d %dx%d %s size=%d", id, width, height, FormatName(format), total)
	return bo, nil
}

func (b *SystemBackend) Import(ctx context.Context, data *ImportData) (*BufferObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := NumPlanes(data.Format)
	if n == 0 || data.NumPlanes != n {
		return nil, fmt.Errorf("%w: %d planes for %s", ErrBadImport, data.NumPlanes, FormatName(data.Format))
	}
	if data.Width == 0 || data.Height == 0 {
		return nil, fmt.Errorf("%w: empty %dx%d buffer", ErrBadImport, data.Width, data.Height)
	}
	if ok, err := shm.IsMemoryObject(data.FDs[0]); err != nil || !ok {
		return nil, fmt.Errorf("%w: plane 0 is not a memory object", ErrBadImport)
	}
	id, err := shm.Identify(data.FDs[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImport, err)
	}
	for i := 1; i < n; i++ {
		other, err := shm.Identify(data.FDs[i])
		if err != nil || other != id {
			return nil, fmt.Errorf("%w: plane %d is not in the plane 0 object", ErrBadImport, i)
		}
	}
	size, err := shm.FileSize(data.FDs[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImport, err)
	}
	var planes [MaxPlanes]Plane
	for i := range planes {
		planes[i].FD = -1
	}
	var extent uint64
	for i := 0; i < n; i++ {
		ps := SizeFromFormat(data.Format, data.Strides[i], data.Height, i)
		end := uint64(data.Offsets[i]) + uint64(ps)
		if data.Strides[i] == 0 || end > uint64(size) {
			return nil, fmt.Errorf("%w: plane %d exceeds %d byte object", ErrBadImport, i, size)
		}
		extent = max(extent, end)
		planes[i] = Plane{Offset: data.Offsets[i], Stride: data.Strides[i], Size: ps}
	}
	total := uint64(size)
	if data.TotalSize != 0 {
		if data.TotalSize < extent {
			return nil, fmt.Errorf("%w: total size %d below plane extent %d", ErrBadImport, data.TotalSize, extent)
		}
		total = min(total, data.TotalSize)
	}
	fd, err := shm.Dup(data.FDs[0])
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		planes[i].FD = fd
	}
	bo := &BufferObject{
		ID:        id,
		Width:     data.Width,
		Height:    data.Height,
		Format:    data.Format,
		UseFlags:  data.UseFlags,
		Modifier:  data.Modifier,
		NumPlanes: n,
		Planes:    planes,
		TotalSize: total,
		owner:     b,
	}
	if !b.live.SetIfAbsent(id, bo) {
		_ = shm.Close(fd)
		return nil, fmt.Errorf("%w: bo %d already imported by %s", ErrBadImport, id, b.opts.Name)
	}
	b.log.Debugf("imported bo %d %dx%d %s", id, data.Width, data.Height, FormatName(data.Format))
	return bo, nil
}

func (b *SystemBackend) owns(bo *BufferObject) error {
	if bo == nil || bo.owner != b {
		return ErrNotOwned
	}
	return nil
}

func syncFlags(flags MapFlags) shm.SyncFlags {
	var f shm.SyncFlags
	if flags&MapRead != 0 {
		f |= shm.SyncRead
	}
	if flags&MapWrite != 0 {
		f |= shm.SyncWrite
	}
	return f
}

func (b *SystemBackend) Map(bo *BufferObject, rect Rect, flags MapFlags) (*Mapping, error) {
	if err := b.owns(bo); err != nil {
		return nil, err
	}
	if flags == MapNone {
		return nil, fmt.Errorf("%w: no access requested", ErrUnsupported)
	}
	if rect.IsZero() {
		rect = Rect{Width: bo.Width, Height: bo.Height}
	}
	if uint64(rect.X)+uint64(rect.Width) > uint64(bo.Width) ||
		uint64(rect.Y)+uint64(rect.Height) > uint64(bo.Height) {
		return nil, fmt.Errorf("%w: %+v in %dx%d", ErrBadRect, rect, bo.Width, bo.Height)
	}
	fd := bo.Planes[0].FD
	region, err := shm.MapRegion(shm.MapOptions{
		Fd:    fd,
		Size:  int(bo.TotalSize),
		Read:  flags&MapRead != 0,
		Write: flags&MapWrite != 0,
	})
	if err != nil {
		return nil, err
	}
	if b.sync {
		if err := shm.SyncStart(fd, syncFlags(flags)); err != nil {
			_ = shm.UnmapRegion(region)
			return nil, err
		}
	}
	return &Mapping{
		Addr:  region.Addr,
		Rect:  rect,
		Flags: flags,
		unmap: func() error { return shm.UnmapRegion(region) },
	}, nil
}

func (b *SystemBackend) Unmap(bo *BufferObject, m *Mapping) error {
	if err := b.owns(bo); err != nil {
		return err
	}
	if m == nil || m.unmap == nil {
		return nil
	}
	if b.sync {
		if err := shm.SyncEnd(bo.Planes[0].FD, syncFlags(m.Flags)); err != nil {
			b.log.Warnf("sync end on bo %d: %v", bo.ID, err)
		}
	}
	err := m.unmap()
	m.unmap = nil
	m.Addr = nil
	return err
}

func (b *SystemBackend) Invalidate(bo *BufferObject, m *Mapping) error {
	if err := b.owns(bo); err != nil {
		return err
	}
	if !b.sync || m == nil {
		return nil
	}
	return shm.SyncStart(bo.Planes[0].FD, syncFlags(m.Flags))
}

func (b *SystemBackend) Flush(bo *BufferObject, m *Mapping) error {
	if err := b.owns(bo); err != nil {
		return err
	}
	if !b.sync || m == nil {
		return nil
	}
	return shm.SyncEnd(bo.Planes[0].FD, syncFlags(m.Flags))
}

// ReleaseFence always reports NoFence: CPU writes to system memory are
// visible once Flush or Unmap returns.
func (b *SystemBackend) ReleaseFence(bo *BufferObject) (int, error) {
	if err := b.owns(bo); err != nil {
		return fence.NoFence, err
	}
	return fence.NoFence, nil
}

func (b *SystemBackend) Destroy(bo *BufferObject) error {
	if err := b.owns(bo); err != nil {
		return err
	}
	if _, ok := b.live.Pop(bo.ID); !ok {
		return fmt.Errorf("%w: bo %d destroyed twice", ErrNotOwned, bo.ID)
	}
	b.log.Debugf("destroy bo %d", bo.ID)
	return shm.Close(bo.Planes[0].FD)
}

// Close destroys every buffer object still alive.
func (b *SystemBackend) Close() error {
	var firstErr error
	for item := range b.live.IterBuffered() {
		b.log.Warnf("bo %d still alive at close", item.Key)
		if err := b.Destroy(item.Val); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
