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
	"encoding/binary"
	"fmt"

	"github.com/valyala/bytebufferpool"

	"github.com/phreer/celadon-minigbm/pkg/drv"
)

const (
	handleMagic   = "GRH1"
	handleVersion = 1

	// maxHandleName bounds the encoded buffer name.
	maxHandleName = 256
	// maxHandleSize bounds an encoded handle.
	maxHandleSize = 512
)

var le = binary.LittleEndian

// MarshalBinary encodes the handle metadata. Descriptors are not part of
// the encoding; they travel next to it in FDs order.
func (h *Handle) MarshalBinary() ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	if len(h.Name) > maxHandleName {
		return nil, fmt.Errorf("%w: name longer than %d bytes", ErrInvalidHandle, maxHandleName)
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	b := append(buf.B, handleMagic...)
	b = le.AppendUint32(b, handleVersion)
	b = le.AppendUint32(b, uint32(h.NumFDs()))
	b = le.AppendUint32(b, uint32(h.NumPlanes))
	b = le.AppendUint32(b, h.Width)
	b = le.AppendUint32(b, h.Height)
	b = le.AppendUint32(b, h.Format)
	b = le.AppendUint32(b, h.RequestedFormat)
	b = le.AppendUint64(b, uint64(h.Usage))
	for i := 0; i < drv.MaxPlanes; i++ {
		b = le.AppendUint32(b, h.Strides[i])
		b = le.AppendUint32(b, h.Offsets[i])
		b = le.AppendUint32(b, h.Sizes[i])
	}
	b = le.AppendUint64(b, h.Modifier)
	b = le.AppendUint64(b, h.TotalSize)
	b = le.AppendUint64(b, h.ReservedRegionSize)
	b = le.AppendUint64(b, h.ID)
	b = le.AppendUint32(b, uint32(h.BackendKind))
	b = le.AppendUint32(b, uint32(len(h.Name)))
	b = append(b, h.Name...)
	buf.B = b

	return append([]byte(nil), buf.B...), nil
}

type handleDecoder struct {
	b   []byte
	err error
}

func (d *handleDecoder) next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.err = fmt.Errorf("%w: truncated encoding", ErrInvalidHandle)
		return nil
	}
	out := d.b[:n]
	d.b = d.b[n:]
	return out
}

func (d *handleDecoder) u32() uint32 {
	if p := d.next(4); p != nil {
		return le.Uint32(p)
	}
	return 0
}

func (d *handleDecoder) u64() uint64 {
	if p := d.next(8); p != nil {
		return le.Uint64(p)
	}
	return 0
}

// UnmarshalHandle decodes data produced by MarshalBinary and attaches fds,
// which must be in FDs order. The returned handle owns fds.
func UnmarshalHandle(data []byte, fds []int) (*Handle, error) {
	d := &handleDecoder{b: data}
	if magic := d.next(len(handleMagic)); d.err != nil || string(magic) != handleMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidHandle)
	}
	if v := d.u32(); d.err == nil && v != handleVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidHandle, v)
	}
	numFDs := int(d.u32())
	h := newHandle()
	h.NumPlanes = int(d.u32())
	h.Width = d.u32()
	h.Height = d.u32()
	h.Format = d.u32()
	h.RequestedFormat = d.u32()
	h.Usage = drv.UseFlags(d.u64())
	for i := 0; i < drv.MaxPlanes; i++ {
		h.Strides[i] = d.u32()
		h.Offsets[i] = d.u32()
		h.Sizes[i] = d.u32()
	}
	h.Modifier = d.u64()
	h.TotalSize = d.u64()
	h.ReservedRegionSize = d.u64()
	h.ID = d.u64()
	h.BackendKind = drv.Kind(d.u32())
	nameLen := int(d.u32())
	if d.err == nil && nameLen > maxHandleName {
		return nil, fmt.Errorf("%w: name of %d bytes", ErrInvalidHandle, nameLen)
	}
	name := d.next(nameLen)
	if d.err != nil {
		return nil, d.err
	}
	h.Name = string(name)

	if h.NumPlanes <= 0 || h.NumPlanes > drv.MaxPlanes {
		return nil, fmt.Errorf("%w: %d planes", ErrInvalidHandle, h.NumPlanes)
	}
	want := h.NumPlanes
	if h.ReservedRegionSize > 0 {
		want++
	}
	if numFDs != want || len(fds) != want {
		return nil, fmt.Errorf("%w: %d descriptors for %d expected", ErrInvalidHandle, len(fds), want)
	}
	copy(h.PlaneFDs[:], fds[:h.NumPlanes])
	if h.ReservedRegionSize > 0 {
		h.ReservedRegionFD = fds[h.NumPlanes]
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}
