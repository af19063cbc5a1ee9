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

// Combination is one format/modifier pair a backend can allocate together
// with every usage it supports for it.
type Combination struct {
	Format   uint32
	Modifier uint64
	UseFlags UseFlags
}

// Combinations is a backend capability table.
type Combinations []Combination

// Find returns the first combination of format whose usage covers use.
func (c Combinations) Find(format uint32, use UseFlags) (Combination, bool) {
	use &^= UseTestAlloc
	for _, combo := range c {
		if combo.Format == format && combo.UseFlags.Has(use) {
			return combo, true
		}
	}
	return Combination{}, false
}

// LinearCombinations lists formats with a linear modifier and the same use.
func LinearCombinations(use UseFlags, formats ...uint32) Combinations {
	out := make(Combinations, 0, len(formats))
	for _, f := range formats {
		out = append(out, Combination{Format: f, Modifier: ModifierLinear, UseFlags: use})
	}
	return out
}

// DefaultCombinations is the table of a linear system-memory device that
// can scan out RGB formats and hand YUV formats to video and camera blocks.
func DefaultCombinations() Combinations {
	var c Combinations
	c = append(c, LinearCombinations(UseRenderMask|UseScanout|UseCursor,
		FormatARGB8888, FormatXRGB8888, FormatABGR8888, FormatXBGR8888,
		FormatRGB565, FormatBGR888, FormatABGR2101010, FormatABGR16161616F)...)
	c = append(c, LinearCombinations(UseTextureMask,
		FormatRGB888, FormatGR88, FormatR16)...)
	c = append(c, LinearCombinations(UseTextureMask|UseVideoMask|UseCameraRead|UseCameraWrite|UseScanout,
		FormatNV12, FormatNV21)...)
	c = append(c, LinearCombinations(UseTextureMask|UseVideoMask|UseCameraRead|UseCameraWrite,
		FormatYVU420, FormatYVU420Android, FormatP010)...)
	c = append(c, LinearCombinations(UseTextureMask|UseHWVideoEncoder|UseCameraRead|UseCameraWrite|
		UseSensorDirectData|UseGPUDataBuffer, FormatR8)...)
	return c
}

// ResolveFormatAndUseFlags is the resolution shared by every backend that
// has no device specific rule.
func ResolveFormatAndUseFlags(format uint32, use UseFlags) (uint32, UseFlags) {
	switch format {
	case FormatFlexImplementationDefined:
		// Common camera implementation defined format.
		if use.Any(UseCameraRead | UseCameraWrite) {
			return FormatNV12, use
		}
		// Implementation defined buffers are never fed to the encoder directly.
		return FormatXBGR8888, use &^ UseHWVideoEncoder
	case FormatFlexYCbCr420888:
		return FormatNV12, use
	case FormatYVU420Android:
		return format, use &^ UseScanout
	}
	return format, use
}
