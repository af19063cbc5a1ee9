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
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phreer/celadon-minigbm/internal/fence"
	"github.com/phreer/celadon-minigbm/internal/logging"
	internalshm "github.com/phreer/celadon-minigbm/internal/shm"
	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/shm"
)

type handleEntry struct {
	// id keys the buffer in Driver.buffers.
	id    uint64
	count int
}

// Driver is the buffer allocator. It is safe for concurrent use.
type Driver struct {
	config   *Config
	topo     *Topology
	resolver resolver
	reserved shm.Allocator
	metrics  *metrics
	tracer   trace.Tracer
	log      *logging.Logger
	// owned holds backends built by the driver and closed with it.
	owned *Backends

	mu      sync.Mutex
	buffers map[uint64]*buffer
	handles map[*Handle]*handleEntry
	closed  bool
}

// New builds a driver from config, DefaultConfig when nil.
func New(config *Config) (*Driver, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	d := &Driver{
		config:   config,
		resolver: resolver{cameraQuirk: config.CameraQuirk},
		tracer:   defaultTracer(config.Tracer),
		log:      logging.New("gralloc"),
		buffers:  make(map[uint64]*buffer),
		handles:  make(map[*Handle]*handleEntry),
	}
	var backends Backends
	if config.Backends != nil {
		backends = *config.Backends
		if backends.Fallback == nil {
			backends.Fallback = drv.NewMemfd(drv.Options{Name: "fallback", CheckMemory: true})
			d.owned = &Backends{Fallback: backends.Fallback}
		}
	} else {
		b, err := OpenBackends(config)
		if err != nil {
			return nil, err
		}
		backends = *b
		d.owned = b
	}
	var err error
	defer func() {
		if err != nil && d.owned != nil {
			_ = d.owned.Close()
		}
	}()
	d.topo, err = NewTopology(backends, VirtualProfile{
		Width:  config.IVSHMEMWidth,
		Height: config.IVSHMEMHeight,
		Usage:  drv.UseFlags(config.IVSHMEMUsage),
	})
	if err != nil {
		return nil, err
	}
	if d.reserved, err = shm.NewAllocator(config.ReservedRegion, config.ReservedHeapPath); err != nil {
		return nil, err
	}
	if d.metrics, err = newMetrics(config.Registerer, config.Meter); err != nil {
		return nil, err
	}
	reserved := "none"
	if d.reserved != nil {
		reserved = d.reserved.Name()
	}
	d.log.Infof("driver ready: topology=%s render=%s display=%s video=%s fallback=%s reserved=%s",
		d.topo.Class, d.topo.Render.Name(), d.topo.Display.Name(), d.topo.Video.Name(),
		d.topo.Fallback.Name(), reserved)
	return d, nil
}

// Topology returns the backend roles the driver selects between.
func (d *Driver) Topology() *Topology { return d.topo }

// IsSupported reports whether Allocate could serve desc.
func (d *Driver) IsSupported(desc BufferDescriptor) bool {
	_, _, err := d.resolver.resolve(d.topo, &desc)
	return err == nil
}

// Resolve returns the resolved descriptor and the name of the backend that
// would serve desc.
func (d *Driver) Resolve(desc BufferDescriptor) (ResolvedDescriptor, string, error) {
	rd, be, err := d.resolver.resolve(d.topo, &desc)
	if err != nil {
		return rd, "", err
	}
	return rd, be.Name(), nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Allocate creates a buffer for desc and returns a handle holding one
// reference. The caller owns the handle descriptors.
func (d *Driver) Allocate(ctx context.Context, desc BufferDescriptor) (*Handle, error) {
	ctx, span := d.tracer.Start(ctx, "gralloc.Allocate", trace.WithAttributes(
		attribute.String("gralloc.descriptor", desc.String()),
		attribute.String("gralloc.name", desc.Name),
	))
	defer span.End()

	if d.isClosed() {
		return nil, fail(span, ErrClosed)
	}
	rd, be, err := d.resolver.resolve(d.topo, &desc)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("gralloc.backend", be.Name()))
	bo, err := be.Create(ctx, desc.Width, desc.Height, rd.Format, rd.Usage)
	if err != nil {
		d.metrics.allocationFailures.Inc()
		return nil, fail(span, fmt.Errorf("%w: %s on %s: %w", ErrAllocationFailed, &desc, be.Name(), err))
	}
	var region *shm.Region
	if desc.ReservedRegionSize > 0 {
		if d.reserved == nil {
			d.log.Debugf("no reserved region allocator, dropping %d byte region of %q", desc.ReservedRegionSize, desc.Name)
		} else if region, err = d.reserved.Create(ctx, desc.Name, desc.ReservedRegionSize); err != nil {
			_ = be.Destroy(bo)
			d.metrics.allocationFailures.Inc()
			return nil, fail(span, fmt.Errorf("%w: reserved region for %s: %w", ErrAllocationFailed, &desc, err))
		}
	}
	buf := newBuffer(bo, be, desc.Name, desc.Format, region, d.log)
	h, err := buf.handle()
	if err != nil {
		_, _ = buf.destroy()
		d.metrics.allocationFailures.Inc()
		return nil, fail(span, fmt.Errorf("%w: %w", ErrAllocationFailed, err))
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_, _ = buf.destroy()
		_ = h.Close()
		return nil, fail(span, ErrClosed)
	}
	if _, ok := d.buffers[buf.id]; ok {
		d.mu.Unlock()
		_, _ = buf.destroy()
		_ = h.Close()
		return nil, fail(span, fmt.Errorf("%w: backing store %d already registered", ErrAllocationFailed, buf.id))
	}
	buf.refs = 1
	d.buffers[buf.id] = buf
	d.handles[h] = &handleEntry{id: buf.id, count: 1}
	d.mu.Unlock()

	d.metrics.allocations.WithLabelValues(be.Name()).Inc()
	d.metrics.liveBuffers.Inc()
	d.metrics.liveHandles.Inc()
	d.log.Debugf("allocated buffer %d %s on %s", buf.id, &desc, be.Name())
	return h, nil
}

// Retain adds a reference to h. A handle the driver has not seen before is
// imported: its backing store is looked up by identity and imported through
// the backend matching the handle's backend kind when not yet registered.
func (d *Driver) Retain(ctx context.Context, h *Handle) error {
	ctx, span := d.tracer.Start(ctx, "gralloc.Retain")
	defer span.End()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fail(span, ErrClosed)
	}
	if e, ok := d.handles[h]; ok {
		e.count++
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := h.validate(); err != nil {
		d.log.Warnf("retain of malformed handle: %v", err)
		return fail(span, err)
	}
	id, err := internalshm.Identify(h.PlaneFDs[0])
	if err != nil {
		return fail(span, fmt.Errorf("%w: %w", ErrInvalidHandle, err))
	}
	if h.ID != 0 && h.ID != id {
		d.log.Warnf("handle claims backing store %d, descriptor holds %d", h.ID, id)
		return fail(span, fmt.Errorf("%w: backing store mismatch", ErrInvalidHandle))
	}
	span.SetAttributes(attribute.Int64("gralloc.backing_store", int64(id)))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fail(span, ErrClosed)
	}
	if e, ok := d.handles[h]; ok {
		e.count++
		return nil
	}
	buf, ok := d.buffers[id]
	if ok {
		if err := sameObject(h, buf); err != nil {
			d.log.Warnf("retain: %v", err)
			return fail(span, err)
		}
	} else {
		// Imports stay under the lock so one backing store never yields two
		// buffers.
		if buf, err = d.importLocked(ctx, h, id); err != nil {
			return fail(span, err)
		}
		d.buffers[id] = buf
		d.metrics.imports.Inc()
		d.metrics.liveBuffers.Inc()
	}
	buf.refs++
	d.handles[h] = &handleEntry{id: id, count: 1}
	d.metrics.liveHandles.Inc()
	return nil
}

func (d *Driver) importLocked(ctx context.Context, h *Handle, id uint64) (*buffer, error) {
	be := d.topo.ForKind(h.BackendKind)
	bo, err := be.Import(ctx, h.importData())
	if err != nil {
		return nil, fmt.Errorf("%w: import on %s: %w", ErrInvalidHandle, be.Name(), err)
	}
	if bo.ID != id {
		_ = be.Destroy(bo)
		return nil, fmt.Errorf("%w: imported backing store %d, expected %d", ErrInvalidHandle, bo.ID, id)
	}
	var region *shm.Region
	if h.ReservedRegionFD >= 0 {
		fd, err := importRegion(h.ReservedRegionFD, h.ReservedRegionSize)
		if err != nil {
			_ = be.Destroy(bo)
			return nil, fmt.Errorf("%w: reserved region: %w", ErrInvalidHandle, err)
		}
		region = shm.Wrap(fd, h.Name, h.ReservedRegionSize)
	}
	d.log.Debugf("imported buffer %d on %s", id, be.Name())
	return newBuffer(bo, be, h.Name, h.RequestedFormat, region, d.log), nil
}

// sameObject checks that every plane descriptor of h refers to the memory
// of buf.
func sameObject(h *Handle, buf *buffer) error {
	for i := 0; i < h.NumPlanes; i++ {
		same, err := internalshm.SameObject(h.PlaneFDs[i], buf.bo.Planes[0].FD)
		if err != nil {
			return fmt.Errorf("%w: plane %d: %w", ErrInvalidHandle, i, err)
		}
		if !same {
			return fmt.Errorf("%w: plane %d is not backing store %d", ErrInvalidHandle, i, buf.id)
		}
	}
	return nil
}

// importRegion duplicates a reserved region descriptor after checking it
// holds at least size bytes.
func importRegion(fd int, size uint64) (int, error) {
	if ok, err := internalshm.IsMemoryObject(fd); err != nil || !ok {
		return -1, errors.New("not a memory object")
	}
	actual, err := internalshm.FileSize(fd)
	if err != nil {
		return -1, err
	}
	if size == 0 || actual <= 0 || uint64(actual) < size {
		return -1, fmt.Errorf("%d byte region claims %d bytes", actual, size)
	}
	return internalshm.Dup(fd)
}

// Release drops a reference to h. The buffer is destroyed once no handle
// references it.
func (d *Driver) Release(h *Handle) error {
	d.mu.Lock()
	e, ok := d.handles[h]
	if !ok {
		d.mu.Unlock()
		d.log.Warnf("release called on unregistered handle")
		return fmt.Errorf("%w: release of unknown handle", ErrInvalidHandle)
	}
	e.count--
	if e.count > 0 {
		d.mu.Unlock()
		return nil
	}
	delete(d.handles, h)
	d.metrics.liveHandles.Dec()
	buf := d.buffers[e.id]
	buf.refs--
	dead := d.reapLocked(buf)
	d.mu.Unlock()

	d.destroy(dead)
	return nil
}

// reapLocked unregisters buf when nothing references it any more.
func (d *Driver) reapLocked(buf *buffer) *buffer {
	if buf.refs > 0 || buf.pins > 0 {
		return nil
	}
	if d.buffers[buf.id] == buf {
		delete(d.buffers, buf.id)
		d.metrics.liveBuffers.Dec()
	}
	return buf
}

func (d *Driver) destroy(buf *buffer) {
	if buf == nil {
		return
	}
	wasMapped, err := buf.destroy()
	if wasMapped {
		d.metrics.mappedBuffers.Dec()
	}
	if err != nil {
		d.log.Warnf("destroy buffer %d: %v", buf.id, err)
		return
	}
	d.log.Debugf("destroyed buffer %d", buf.id)
}

// lookupLocked resolves h to its buffer.
func (d *Driver) lookupLocked(h *Handle) (*buffer, error) {
	if d.closed {
		return nil, ErrClosed
	}
	e, ok := d.handles[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle not registered", ErrInvalidHandle)
	}
	return d.buffers[e.id], nil
}

// pin resolves h and keeps its buffer alive until unpin.
func (d *Driver) pin(h *Handle) (*buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	buf.pins++
	return buf, nil
}

func (d *Driver) unpin(buf *buffer) {
	d.mu.Lock()
	buf.pins--
	dead := d.reapLocked(buf)
	d.mu.Unlock()
	d.destroy(dead)
}

func (d *Driver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Lock maps the buffer behind h for CPU access and returns the bytes of
// each plane. It first waits for acquireFence, closing it afterwards when
// closeFence is set. The wait holds no driver lock. An all-zero rect covers
// the whole buffer. Locks nest when the access requested is covered by the
// current mapping.
func (d *Driver) Lock(ctx context.Context, h *Handle, acquireFence int, closeFence bool,
	rect drv.Rect, flags drv.MapFlags) ([][]byte, error) {
	ctx, span := d.tracer.Start(ctx, "gralloc.Lock", trace.WithAttributes(
		attribute.Int("gralloc.map_flags", int(flags)),
		attribute.Int("gralloc.acquire_fence", acquireFence),
	))
	defer span.End()
	if closeFence {
		defer func() { _ = fence.Close(acquireFence) }()
	}

	d.mu.Lock()
	_, err := d.lookupLocked(h)
	d.mu.Unlock()
	if err != nil {
		d.log.Warnf("lock: %v", err)
		return nil, fail(span, err)
	}
	if err := d.waitFence(ctx, acquireFence); err != nil {
		return nil, fail(span, err)
	}

	buf, err := d.pin(h)
	if err != nil {
		return nil, fail(span, err)
	}
	defer d.unpin(buf)
	planes, created, err := buf.lock(rect, flags)
	if err != nil {
		d.log.Warnf("lock: %v", err)
		return nil, fail(span, err)
	}
	if created {
		d.metrics.mappedBuffers.Inc()
	}
	d.metrics.locks.Inc()
	return planes, nil
}

func (d *Driver) waitFence(ctx context.Context, fd int) error {
	if fd < 0 {
		return nil
	}
	start := time.Now()
	err := fence.Wait(ctx, fd, d.config.FenceTimeout)
	d.metrics.observeFenceWait(ctx, time.Since(start))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fence.ErrTimeout):
		d.metrics.fenceTimeouts.Inc()
		d.log.Warnf("acquire fence %d not signalled after %v", fd, time.Since(start))
		return fmt.Errorf("%w: fence %d", ErrTimeout, fd)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: fence %d: %w", ErrTimeout, fd, err)
	case errors.Is(err, fence.ErrBadFence):
		return fmt.Errorf("%w: acquire fence %d: %w", ErrInvalidHandle, fd, err)
	}
	d.log.Warnf("acquire fence %d: %v", fd, err)
	return fmt.Errorf("%w: acquire fence %d: %w", ErrMapFailed, fd, err)
}

// Unlock drops one lock on h and returns the release fence the GPU must
// wait on before touching the buffer. The caller owns the fence.
func (d *Driver) Unlock(ctx context.Context, h *Handle) (int, error) {
	_, span := d.tracer.Start(ctx, "gralloc.Unlock")
	defer span.End()

	buf, err := d.pin(h)
	if err != nil {
		d.log.Warnf("unlock: %v", err)
		return fence.NoFence, fail(span, err)
	}
	defer d.unpin(buf)
	fd, unmapped, err := buf.unlock()
	if err != nil {
		d.log.Warnf("unlock: %v", err)
		return fence.NoFence, fail(span, err)
	}
	if unmapped {
		d.metrics.mappedBuffers.Dec()
	}
	return fd, nil
}

// Invalidate makes GPU writes visible to the current CPU mapping of h.
func (d *Driver) Invalidate(h *Handle) error {
	buf, err := d.pin(h)
	if err != nil {
		return err
	}
	defer d.unpin(buf)
	return buf.invalidate()
}

// Flush makes CPU writes through the current mapping of h visible to the GPU.
func (d *Driver) Flush(h *Handle) error {
	buf, err := d.pin(h)
	if err != nil {
		return err
	}
	defer d.unpin(buf)
	return buf.flush()
}

// GetBackingStore returns the identity of the memory behind h.
func (d *Driver) GetBackingStore(h *Handle) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.lookupLocked(h)
	if err != nil {
		return 0, err
	}
	return buf.id, nil
}

// ResourceInfo is the plane layout of a buffer.
type ResourceInfo struct {
	NumPlanes int
	Strides   [drv.MaxPlanes]uint32
	Offsets   [drv.MaxPlanes]uint32
	Modifier  uint64
}

// ResourceInfo returns the strides, offsets and modifier of the buffer
// behind h.
func (d *Driver) ResourceInfo(h *Handle) (ResourceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.lookupLocked(h)
	if err != nil {
		return ResourceInfo{}, err
	}
	info := ResourceInfo{NumPlanes: buf.bo.NumPlanes, Modifier: buf.bo.Modifier}
	for i := 0; i < buf.bo.NumPlanes; i++ {
		info.Strides[i] = buf.bo.Planes[i].Stride
		info.Offsets[i] = buf.bo.Planes[i].Offset
	}
	return info, nil
}

// GetReservedRegion returns the reserved region of the buffer behind h,
// mapping it on first use. The region is nil for buffers without one.
func (d *Driver) GetReservedRegion(h *Handle) ([]byte, error) {
	buf, err := d.pin(h)
	if err != nil {
		return nil, err
	}
	defer d.unpin(buf)
	if buf.region == nil {
		return nil, nil
	}
	mem, err := buf.region.Map()
	if err != nil {
		return nil, fmt.Errorf("%w: reserved region of buffer %d: %w", ErrMapFailed, buf.id, err)
	}
	return mem, nil
}

// GetResolvedFormat returns the format the render backend allocates for
// format and use.
func (d *Driver) GetResolvedFormat(format uint32, use drv.UseFlags) uint32 {
	f, _ := d.resolver.format(d.topo.Render, format, use)
	return f
}

// ResolvedCommonFormat resolves a flexible format without usage hints.
func (d *Driver) ResolvedCommonFormat(format uint32) uint32 {
	f, _ := drv.ResolveFormatAndUseFlags(format, drv.UseNone)
	return f
}

// RetainCount returns the number of references held on h.
func (d *Driver) RetainCount(h *Handle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.lookupLocked(h); err != nil {
		return 0, err
	}
	return d.handles[h].count, nil
}

// WithBuffer calls fn with a snapshot of the buffer behind h. fn runs under
// the driver lock and must not call back into the driver.
func (d *Driver) WithBuffer(h *Handle, fn func(BufferInfo)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.lookupLocked(h)
	if err != nil {
		return err
	}
	fn(buf.info())
	return nil
}

// EachBuffer calls fn with a snapshot of every registered buffer in
// backing store order. fn runs under the driver lock.
func (d *Driver) EachBuffer(fn func(BufferInfo)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint64, 0, len(d.buffers))
	for id := range d.buffers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fn(d.buffers[id].info())
	}
}

// Stats is a count of the driver state.
type Stats struct {
	Buffers int
	Handles int
	Mapped  int
}

func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{Buffers: len(d.buffers), Handles: len(d.handles)}
	for _, buf := range d.buffers {
		if buf.mapped.Load() != 0 {
			s.Mapped++
		}
	}
	return s
}

// Close destroys every buffer and forgets every handle. Backends built by
// the driver are closed; backends passed in Config.Backends are not.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var dead []*buffer
	for _, buf := range d.buffers {
		buf.refs = 0
		if buf.pins == 0 {
			dead = append(dead, buf)
		}
	}
	if n := len(d.handles); n > 0 {
		d.log.Warnf("closing with %d handles still retained", n)
	}
	d.metrics.liveBuffers.Sub(float64(len(d.buffers)))
	d.metrics.liveHandles.Sub(float64(len(d.handles)))
	clear(d.buffers)
	clear(d.handles)
	d.mu.Unlock()

	for _, buf := range dead {
		d.destroy(buf)
	}
	if d.owned != nil {
		return d.owned.Close()
	}
	return nil
}
