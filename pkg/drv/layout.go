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

import "fmt"

const (
	// DefaultStrideAlign matches the pitch alignment of most display engines.
	DefaultStrideAlign = 64
	pageSize           = 4096
)

func divRoundUp(n, d uint32) uint32 { return (n + d - 1) / d }

func align(n, a uint32) uint32 {
	if a == 0 {
		return n
	}
	return (n + a - 1) / a * a
}

// StrideFromFormat derives the stride of plane from the stride of plane 0.
func StrideFromFormat(format, stride uint32, plane int) uint32 {
	l, ok := layouts[format]
	if !ok || plane < 0 || plane >= l.numPlanes {
		return 0
	}
	s := divRoundUp(stride*l.bytesPerPixel[plane], l.bytesPerPixel[0]*l.hSubsampling[plane])
	// Android YV12 requires 16 byte aligned chroma strides (see <system/graphics.h>).
	if format == FormatYVU420Android && plane != 0 {
		s = align(s, 16)
	}
	return s
}

// SizeFromFormat returns the byte size of plane given its stride.
func SizeFromFormat(format, stride, height uint32, plane int) uint32 {
	l, ok := layouts[format]
	if !ok || plane < 0 || plane >= l.numPlanes {
		return 0
	}
	return stride * divRoundUp(height, l.vSubsampling[plane])
}

// Layout computes the linear plane layout of a width x height buffer of
// format. Plane FDs are left at -1. The returned total is page aligned.
func Layout(format, width, height, strideAlign uint32) ([MaxPlanes]Plane, int, uint64, error) {
	var planes [MaxPlanes]Plane
	l, ok := layouts[format]
	if !ok {
		return planes, 0, 0, fmt.Errorf("%w: no layout for %s", ErrUnsupported, FormatName(format))
	}
	if width == 0 || height == 0 {
		return planes, 0, 0, fmt.Errorf("%w: empty %dx%d buffer", ErrUnsupported, width, height)
	}
	if format == FormatYVU420Android && strideAlign < 32 {
		strideAlign = 32
	}
	stride := align(width*l.bytesPerPixel[0], strideAlign)
	var offset uint64
	for i := 0; i < l.numPlanes; i++ {
		ps := StrideFromFormat(format, stride, i)
		size := SizeFromFormat(format, ps, height, i)
		planes[i] = Plane{
			FD:     -1,
			Offset: uint32(offset),
			Stride: ps,
			Size:   size,
		}
		offset += uint64(size)
	}
	for i := l.numPlanes; i < MaxPlanes; i++ {
		planes[i].FD = -1
	}
	total := (offset + pageSize - 1) / pageSize * pageSize
	return planes, l.numPlanes, total, nil
}
