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

// Package drv defines the capability set every buffer-object backend
// implements and provides the format tables, plane layout math and two
// system-memory backends (memfd and dma-buf heap).
package drv

import (
	"context"
	"errors"
	"fmt"
)

// MaxPlanes is the largest plane count of any supported format.
const MaxPlanes = 4

var (
	// ErrNoMemory is returned when a backend cannot satisfy an allocation.
	ErrNoMemory = errors.New("drv: out of memory")
	// ErrUnsupported is returned for format/usage combinations a backend
	// does not support.
	ErrUnsupported = errors.New("drv: unsupported format or usage")
	// ErrBadImport is returned when import metadata does not describe a
	// valid buffer object.
	ErrBadImport = errors.New("drv: malformed import data")
	// ErrBadRect is returned when a map rectangle is outside the buffer.
	ErrBadRect = errors.New("drv: rectangle outside buffer")
	// ErrNotOwned is returned when a buffer object is handed to a backend
	// that does not own it, or is destroyed twice.
	ErrNotOwned = errors.New("drv: buffer object not owned by backend")
)

// UseFlags describe how a buffer will be accessed.
type UseFlags uint64

const (
	UseNone             UseFlags = 0
	UseScanout          UseFlags = 1 << 0
	UseCursor           UseFlags = 1 << 1
	UseRendering        UseFlags = 1 << 2
	UseLinear           UseFlags = 1 << 3
	UseTexture          UseFlags = 1 << 4
	UseCameraWrite      UseFlags = 1 << 5
	UseCameraRead       UseFlags = 1 << 6
	UseProtected        UseFlags = 1 << 7
	UseSWReadOften      UseFlags = 1 << 8
	UseSWReadRarely     UseFlags = 1 << 9
	UseSWWriteOften     UseFlags = 1 << 10
	UseSWWriteRarely    UseFlags = 1 << 11
	UseHWVideoDecoder   UseFlags = 1 << 12
	UseHWVideoEncoder   UseFlags = 1 << 13
	UseTestAlloc        UseFlags = 1 << 15
	UseFrontRendering   UseFlags = 1 << 16
	UseRenderscript     UseFlags = 1 << 17
	UseGPUDataBuffer    UseFlags = 1 << 18
	UseSensorDirectData UseFlags = 1 << 19
)

const (
	UseSWMask = UseSWReadOften | UseSWReadRarely | UseSWWriteOften | UseSWWriteRarely | UseFrontRendering

	UseRenderMask = UseLinear | UseRendering | UseRenderscript | UseSWReadOften | UseSWWriteOften |
		UseSWReadRarely | UseSWWriteRarely | UseTexture | UseFrontRendering

	UseTextureMask = UseLinear | UseRenderscript | UseSWReadOften | UseSWWriteOften |
		UseSWReadRarely | UseSWWriteRarely | UseTexture

	UseVideoMask = UseHWVideoDecoder | UseHWVideoEncoder
)

// Has reports whether every bit of o is set in u.
func (u UseFlags) Has(o UseFlags) bool { return u&o == o }

// Any reports whether any bit of o is set in u.
func (u UseFlags) Any(o UseFlags) bool { return u&o != 0 }

// MapFlags describe the CPU access requested by a lock.
type MapFlags uint32

const (
	MapNone      MapFlags = 0
	MapRead      MapFlags = 1 << 0
	MapWrite     MapFlags = 1 << 1
	MapReadWrite          = MapRead | MapWrite
)

// Covers reports whether a mapping made with m satisfies a request for o.
func (m MapFlags) Covers(o MapFlags) bool { return m&o == o }

// Kind identifies the class of device a backend drives. Handles record the
// kind of the backend that created them so importers route to a peer.
type Kind uint8

const (
	KindSystem Kind = iota
	KindIntegrated
	KindDiscrete
	KindVirtio
	KindIVSHMEM
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindIntegrated:
		return "integrated"
	case KindDiscrete:
		return "discrete"
	case KindVirtio:
		return "virtio"
	case KindIVSHMEM:
		return "ivshmem"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Rect is a sub-rectangle of a buffer in pixels.
type Rect struct {
	X, Y, Width, Height uint32
}

// IsZero reports whether r is the all-zero rectangle, meaning the whole buffer.
func (r Rect) IsZero() bool { return r == Rect{} }

// Plane is the layout of one plane inside a buffer object.
type Plane struct {
	FD     int
	Offset uint32
	Stride uint32
	Size   uint32
}

// BufferObject is a backend allocation. It is owned by the backend that
// produced it and must be handed back to the same backend.
type BufferObject struct {
	// ID is the kernel identity of the backing memory object.
	ID        uint64
	Width     uint32
	Height    uint32
	Format    uint32
	UseFlags  UseFlags
	Modifier  uint64
	NumPlanes int
	Planes    [MaxPlanes]Plane
	TotalSize uint64

	owner Backend
}

// Owner returns the backend that created or imported bo.
func (bo *BufferObject) Owner() Backend { return bo.owner }

// ImportData describes a buffer object created elsewhere, possibly in
// another process.
type ImportData struct {
	FDs       [MaxPlanes]int
	NumPlanes int
	Width     uint32
	Height    uint32
	Format    uint32
	UseFlags  UseFlags
	Strides   [MaxPlanes]uint32
	Offsets   [MaxPlanes]uint32
	Modifier  uint64
	TotalSize uint64
}

// Mapping is a CPU view of a buffer object.
type Mapping struct {
	Addr  []byte
	Rect  Rect
	Flags MapFlags

	unmap func() error
}

// PlaneData returns the bytes of plane i of bo inside m.
func (m *Mapping) PlaneData(bo *BufferObject, i int) []byte {
	if m == nil || i < 0 || i >= bo.NumPlanes {
		return nil
	}
	p := bo.Planes[i]
	end := uint64(p.Offset) + uint64(p.Size)
	if end > uint64(len(m.Addr)) {
		return nil
	}
	return m.Addr[p.Offset:end]
}

// Backend creates, imports, maps and destroys buffer objects for one class
// of device.
type Backend interface {
	Name() string
	Kind() Kind

	// ResolveFormatAndUseFlags maps flexible formats onto concrete ones.
	ResolveFormatAndUseFlags(format uint32, use UseFlags) (uint32, UseFlags)
	// Combination returns the entry that can allocate format with use.
	Combination(format uint32, use UseFlags) (Combination, bool)
	MaxTextureSize() uint32

	Create(ctx context.Context, width, height, format uint32, use UseFlags) (*BufferObject, error)
	Import(ctx context.Context, data *ImportData) (*BufferObject, error)
	Map(bo *BufferObject, rect Rect, flags MapFlags) (*Mapping, error)
	Unmap(bo *BufferObject, m *Mapping) error
	Invalidate(bo *BufferObject, m *Mapping) error
	Flush(bo *BufferObject, m *Mapping) error
	// ReleaseFence returns a fence the GPU must wait on before touching bo
	// after a CPU access, or fence.NoFence when writes are already visible.
	ReleaseFence(bo *BufferObject) (int, error)
	Destroy(bo *BufferObject) error

	Close() error
}
