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

// Package api defines the contracts the allocator and mapper front ends
// program against.
package api

import (
	"context"

	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

// Allocator creates buffers and tracks the handles that reference them.
type Allocator interface {
	IsSupported(desc gralloc.BufferDescriptor) bool
	Allocate(ctx context.Context, desc gralloc.BufferDescriptor) (*gralloc.Handle, error)
	Retain(ctx context.Context, h *gralloc.Handle) error
	Release(h *gralloc.Handle) error
	GetBackingStore(h *gralloc.Handle) (uint64, error)
	ResourceInfo(h *gralloc.Handle) (gralloc.ResourceInfo, error)
	GetReservedRegion(h *gralloc.Handle) ([]byte, error)
	GetResolvedFormat(format uint32, use drv.UseFlags) uint32
	ResolvedCommonFormat(format uint32) uint32
}

// Mapper coordinates CPU access to buffers.
type Mapper interface {
	Lock(ctx context.Context, h *gralloc.Handle, acquireFence int, closeFence bool,
		rect drv.Rect, flags drv.MapFlags) ([][]byte, error)
	Unlock(ctx context.Context, h *gralloc.Handle) (int, error)
	Invalidate(h *gralloc.Handle) error
	Flush(h *gralloc.Handle) error
}

// Inspector exposes read-only snapshots of the registered buffers.
type Inspector interface {
	WithBuffer(h *gralloc.Handle, fn func(gralloc.BufferInfo)) error
	EachBuffer(fn func(gralloc.BufferInfo))
	Stats() gralloc.Stats
}

// Gralloc is the full surface of the driver.
type Gralloc interface {
	Allocator
	Mapper
	Inspector
	Close() error
}

var _ Gralloc = (*gralloc.Driver)(nil)
