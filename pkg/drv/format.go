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

// Fourcc builds a DRM fourcc code.
func Fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	FormatR8            = Fourcc('R', '8', ' ', ' ')
	FormatR16           = Fourcc('R', '1', '6', ' ')
	FormatGR88          = Fourcc('G', 'R', '8', '8')
	FormatRGB565        = Fourcc('R', 'G', '1', '6')
	FormatBGR888        = Fourcc('B', 'G', '2', '4')
	FormatRGB888        = Fourcc('R', 'G', '2', '4')
	FormatARGB8888      = Fourcc('A', 'R', '2', '4')
	FormatXRGB8888      = Fourcc('X', 'R', '2', '4')
	FormatABGR8888      = Fourcc('A', 'B', '2', '4')
	FormatXBGR8888      = Fourcc('X', 'B', '2', '4')
	FormatABGR2101010   = Fourcc('A', 'B', '3', '0')
	FormatABGR16161616F = Fourcc('A', 'B', '4', 'H')
	FormatNV12          = Fourcc('N', 'V', '1', '2')
	FormatNV21          = Fourcc('N', 'V', '2', '1')
	FormatYVU420        = Fourcc('Y', 'V', '1', '2')
	FormatP010          = Fourcc('P', '0', '1', '0')

	// Android pseudo formats. They never reach a backend unresolved except
	// YVU420Android, which is YV12 with 16-byte aligned chroma strides.
	FormatYVU420Android             = Fourcc('9', '9', '9', '7')
	FormatFlexImplementationDefined = Fourcc('9', '9', '9', '8')
	FormatFlexYCbCr420888           = Fourcc('9', '9', '9', '9')

	// MediaTek ISP private format used by the MT8183 camera quirk.
	FormatMTISPSXYZW10 = Fourcc('M', 'B', '1', '0')
)

const (
	ModifierLinear  uint64 = 0
	ModifierInvalid uint64 = 1<<56 - 1
)

// planarLayout mirrors the per-plane sampling of a format.
type planarLayout struct {
	numPlanes     int
	hSubsampling  [MaxPlanes]uint32
	vSubsampling  [MaxPlanes]uint32
	bytesPerPixel [MaxPlanes]uint32
}

var (
	packed1bpp = planarLayout{1, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{1}}
	packed2bpp = planarLayout{1, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{2}}
	packed3bpp = planarLayout{1, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{3}}
	packed4bpp = planarLayout{1, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{4}}
	packed8bpp = planarLayout{1, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{1}, [MaxPlanes]uint32{8}}

	biplanarYUV420  = planarLayout{2, [MaxPlanes]uint32{1, 2}, [MaxPlanes]uint32{1, 2}, [MaxPlanes]uint32{1, 2}}
	biplanarP010    = planarLayout{2, [MaxPlanes]uint32{1, 2}, [MaxPlanes]uint32{1, 2}, [MaxPlanes]uint32{2, 4}}
	triplanarYUV420 = planarLayout{3, [MaxPlanes]uint32{1, 2, 2}, [MaxPlanes]uint32{1, 2, 2}, [MaxPlanes]uint32{1, 1, 1}}
)

var layouts = map[uint32]*planarLayout{
	FormatR8:            &packed1bpp,
	FormatR16:           &packed2bpp,
	FormatGR88:          &packed2bpp,
	FormatRGB565:        &packed2bpp,
	FormatMTISPSXYZW10:  &packed2bpp,
	FormatBGR888:        &packed3bpp,
	FormatRGB888:        &packed3bpp,
	FormatARGB8888:      &packed4bpp,
	FormatXRGB8888:      &packed4bpp,
	FormatABGR8888:      &packed4bpp,
	FormatXBGR8888:      &packed4bpp,
	FormatABGR2101010:   &packed4bpp,
	FormatABGR16161616F: &packed8bpp,
	FormatNV12:          &biplanarYUV420,
	FormatNV21:          &biplanarYUV420,
	FormatP010:          &biplanarP010,
	FormatYVU420:        &triplanarYUV420,
	FormatYVU420Android: &triplanarYUV420,
}

// NumPlanes returns the plane count of format, or 0 if it is unknown or a
// flexible pseudo format.
func NumPlanes(format uint32) int {
	if l, ok := layouts[format]; ok {
		return l.numPlanes
	}
	return 0
}

// BytesPerPixel returns the bytes per pixel of plane of format.
func BytesPerPixel(format uint32, plane int) uint32 {
	l, ok := layouts[format]
	if !ok || plane < 0 || plane >= l.numPlanes {
		return 0
	}
	return l.bytesPerPixel[plane]
}

// IsFlexible reports whether format must be resolved before allocation.
func IsFlexible(format uint32) bool {
	return format == FormatFlexImplementationDefined || format == FormatFlexYCbCr420888
}

// IsYUV reports whether format is a YUV format decoded or encoded by video
// hardware.
func IsYUV(format uint32) bool {
	switch format {
	case FormatNV12, FormatNV21, FormatP010, FormatYVU420, FormatYVU420Android, FormatFlexYCbCr420888:
		return true
	}
	return false
}

// FormatName renders a fourcc as its four characters.
func FormatName(format uint32) string {
	b := []byte{byte(format), byte(format >> 8), byte(format >> 16), byte(format >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

// Formats returns every concrete format with a known layout.
func Formats() []uint32 {
	out := make([]uint32, 0, len(layouts))
	for f := range layouts {
		out = append(out, f)
	}
	return out
}
