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

	"github.com/phreer/celadon-minigbm/pkg/drv"
)

// BufferDescriptor is an allocation request.
type BufferDescriptor struct {
	Width  uint32
	Height uint32
	// Format is a DRM fourcc or one of the flexible formats.
	Format uint32
	Usage  drv.UseFlags
	// Name labels the buffer in logs and names its reserved region.
	Name string
	// ReservedRegionSize asks for a side region of that many bytes.
	ReservedRegionSize uint64
}

func (d *BufferDescriptor) String() string {
	return fmt.Sprintf("%dx%d %s use=%#x", d.Width, d.Height, drv.FormatName(d.Format), uint64(d.Usage))
}

// ResolvedDescriptor is a descriptor mapped onto what one backend allocates.
type ResolvedDescriptor struct {
	Format     uint32
	Usage      drv.UseFlags
	Modifier   uint64
	NumPlanes  int
	VideoClass bool
}

// resolver applies device quirks and the backend resolution rules.
type resolver struct {
	cameraQuirk bool
}

func checkDescriptor(desc *BufferDescriptor) error {
	if desc.Width == 0 || desc.Height == 0 {
		return fmt.Errorf("%w: empty buffer %s", ErrUnsupportedFormat, desc)
	}
	if drv.NumPlanes(desc.Format) == 0 && !drv.IsFlexible(desc.Format) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, desc)
	}
	return nil
}

func (r resolver) format(be drv.Backend, format uint32, use drv.UseFlags) (uint32, drv.UseFlags) {
	if r.cameraQuirk && format == drv.FormatFlexImplementationDefined &&
		use.Has(drv.UseCameraRead) && !use.Any(drv.UseScanout) {
		return drv.FormatMTISPSXYZW10, use
	}
	return be.ResolveFormatAndUseFlags(format, use)
}

// resolveOn resolves desc for be. It reports false when be has no
// combination for the request or the request exceeds its texture limit.
func (r resolver) resolveOn(be drv.Backend, desc *BufferDescriptor) (ResolvedDescriptor, bool) {
	format, use := r.format(be, desc.Format, desc.Usage)
	combo, ok := be.Combination(format, use)
	if !ok && use.Any(drv.UseHWVideoEncoder) && desc.Format != drv.FormatFlexYCbCr420888 {
		use &^= drv.UseHWVideoEncoder
		combo, ok = be.Combination(format, use)
	}
	if !ok && use.Any(drv.UseFrontRendering) {
		use = use&^drv.UseFrontRendering | drv.UseLinear
		combo, ok = be.Combination(format, use)
	}
	if !ok {
		return ResolvedDescriptor{}, false
	}
	if limit := be.MaxTextureSize(); desc.Width > limit || desc.Height > limit {
		return ResolvedDescriptor{}, false
	}
	return ResolvedDescriptor{
		Format:     format,
		Usage:      use,
		Modifier:   combo.Modifier,
		NumPlanes:  drv.NumPlanes(format),
		VideoClass: IsVideoClass(desc),
	}, true
}

// resolve picks the backend for desc and resolves desc for it. The fallback
// backend is tried when the selected one cannot serve the request.
func (r resolver) resolve(t *Topology, desc *BufferDescriptor) (ResolvedDescriptor, drv.Backend, error) {
	if err := checkDescriptor(desc); err != nil {
		return ResolvedDescriptor{}, nil, err
	}
	primary := t.Select(desc)
	if rd, ok := r.resolveOn(primary, desc); ok {
		return rd, primary, nil
	}
	if t.Fallback != primary {
		if rd, ok := r.resolveOn(t.Fallback, desc); ok {
			return rd, t.Fallback, nil
		}
	}
	return ResolvedDescriptor{}, nil, fmt.Errorf("%w: %s", ErrNoBackendAvailable, desc)
}
