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
	"fmt"

	"github.com/phreer/celadon-minigbm/internal/shm"
	"github.com/phreer/celadon-minigbm/pkg/drv"
)

// Handle identifies a buffer outside the driver. It carries one descriptor
// per plane, an optional reserved region descriptor and the metadata needed
// to import the buffer in another process.
//
// The driver tracks handles by pointer: two Handle values describing the
// same buffer are distinct handles with their own retain counts. The
// descriptors belong to the holder of the handle and are closed by Close.
type Handle struct {
	PlaneFDs  [drv.MaxPlanes]int
	NumPlanes int
	Strides   [drv.MaxPlanes]uint32
	Offsets   [drv.MaxPlanes]uint32
	Sizes     [drv.MaxPlanes]uint32

	Width  uint32
	Height uint32
	// Format is the resolved fourcc, RequestedFormat the one asked for.
	Format          uint32
	RequestedFormat uint32
	Usage           drv.UseFlags
	Modifier        uint64
	TotalSize       uint64

	ReservedRegionFD   int
	ReservedRegionSize uint64

	// ID is the backing store identity.
	ID uint64
	// BackendKind is the class of the backend that created the buffer.
	BackendKind drv.Kind
	Name        string
}

func newHandle() *Handle {
	h := &Handle{ReservedRegionFD: -1}
	for i := range h.PlaneFDs {
		h.PlaneFDs[i] = -1
	}
	return h
}

// NumFDs is the number of descriptors the handle carries.
func (h *Handle) NumFDs() int {
	if h.ReservedRegionFD >= 0 {
		return h.NumPlanes + 1
	}
	return h.NumPlanes
}

// FDs returns the plane descriptors followed by the reserved region one.
func (h *Handle) FDs() []int {
	fds := make([]int, 0, h.NumFDs())
	fds = append(fds, h.PlaneFDs[:h.NumPlanes]...)
	if h.ReservedRegionFD >= 0 {
		fds = append(fds, h.ReservedRegionFD)
	}
	return fds
}

func (h *Handle) validate() error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", ErrInvalidHandle)
	}
	if h.NumPlanes <= 0 || h.NumPlanes > drv.MaxPlanes || h.NumPlanes != drv.NumPlanes(h.Format) {
		return fmt.Errorf("%w: %d planes for %s", ErrInvalidHandle, h.NumPlanes, drv.FormatName(h.Format))
	}
	if h.Width == 0 || h.Height == 0 {
		return fmt.Errorf("%w: empty %dx%d buffer", ErrInvalidHandle, h.Width, h.Height)
	}
	for i := 0; i < h.NumPlanes; i++ {
		if h.PlaneFDs[i] < 0 {
			return fmt.Errorf("%w: plane %d has no descriptor", ErrInvalidHandle, i)
		}
	}
	if h.ReservedRegionSize > 0 && h.ReservedRegionFD < 0 {
		return fmt.Errorf("%w: reserved region without descriptor", ErrInvalidHandle)
	}
	if h.ReservedRegionFD >= 0 && h.ReservedRegionSize == 0 {
		return fmt.Errorf("%w: empty reserved region", ErrInvalidHandle)
	}
	return nil
}

func (h *Handle) importData() *drv.ImportData {
	data := &drv.ImportData{
		NumPlanes: h.NumPlanes,
		Width:     h.Width,
		Height:    h.Height,
		Format:    h.Format,
		UseFlags:  h.Usage,
		Strides:   h.Strides,
		Offsets:   h.Offsets,
		Modifier:  h.Modifier,
		TotalSize: h.TotalSize,
	}
	data.FDs = h.PlaneFDs
	return data
}

// Clone returns a new handle to the same buffer with duplicated descriptors.
// The clone is unknown to any driver until retained.
func (h *Handle) Clone() (*Handle, error) {
	c := *h
	c.ReservedRegionFD = -1
	for i := range c.PlaneFDs {
		c.PlaneFDs[i] = -1
	}
	for i := 0; i < h.NumPlanes; i++ {
		fd, err := shm.Dup(h.PlaneFDs[i])
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.PlaneFDs[i] = fd
	}
	if h.ReservedRegionFD >= 0 {
		fd, err := shm.Dup(h.ReservedRegionFD)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.ReservedRegionFD = fd
	}
	return &c, nil
}

// Close closes the handle descriptors. It does not release the handle.
func (h *Handle) Close() error {
	var firstErr error
	for i := range h.PlaneFDs {
		if h.PlaneFDs[i] < 0 {
			continue
		}
		if err := shm.Close(h.PlaneFDs[i]); err != nil && firstErr == nil {
			firstErr = err
		}
		h.PlaneFDs[i] = -1
	}
	if h.ReservedRegionFD >= 0 {
		if err := shm.Close(h.ReservedRegionFD); err != nil && firstErr == nil {
			firstErr = err
		}
		h.ReservedRegionFD = -1
	}
	return firstErr
}
