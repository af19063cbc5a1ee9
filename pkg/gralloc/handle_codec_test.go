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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"github.com/phreer/celadon-minigbm/pkg/drv"
)

type HandleCodecTestSuite struct {
	suite.Suite
}

func sampleHandle() *Handle {
	h := newHandle()
	h.NumPlanes = 2
	h.PlaneFDs[0], h.PlaneFDs[1] = 10, 11
	h.Strides = [drv.MaxPlanes]uint32{1280, 1280}
	h.Offsets = [drv.MaxPlanes]uint32{0, 1280 * 720}
	h.Sizes = [drv.MaxPlanes]uint32{1280 * 720, 1280 * 360}
	h.Width, h.Height = 1280, 720
	h.Format = drv.FormatNV12
	h.RequestedFormat = drv.FormatFlexYCbCr420888
	h.Usage = drv.UseHWVideoDecoder | drv.UseTexture
	h.Modifier = drv.ModifierLinear
	h.TotalSize = 1384448
	h.ID = 0xfeed
	h.BackendKind = drv.KindIntegrated
	h.Name = "decoder-out"
	return h
}

func (s *HandleCodecTestSuite) TestRoundTrip() {
	h := sampleHandle()
	data, err := h.MarshalBinary()
	s.Require().NoError(err)
	s.Require().Equal(handleMagic, string(data[:4]))

	got, err := UnmarshalHandle(data, h.FDs())
	s.Require().NoError(err)
	s.Require().Empty(cmp.Diff(h, got))
}

func (s *HandleCodecTestSuite) TestReservedRegionDescriptor() {
	h := sampleHandle()
	h.ReservedRegionFD = 12
	h.ReservedRegionSize = 4096
	s.Require().Equal(3, h.NumFDs())
	s.Require().Equal([]int{10, 11, 12}, h.FDs())

	data, err := h.MarshalBinary()
	s.Require().NoError(err)
	got, err := UnmarshalHandle(data, []int{20, 21, 22})
	s.Require().NoError(err)
	s.Require().Equal(22, got.ReservedRegionFD)
	s.Require().EqualValues(4096, got.ReservedRegionSize)
	s.Require().Equal([drv.MaxPlanes]int{20, 21, -1, -1}, got.PlaneFDs)
}

func (s *HandleCodecTestSuite) TestMalformed() {
	h := sampleHandle()
	data, err := h.MarshalBinary()
	s.Require().NoError(err)

	_, err = UnmarshalHandle(data[:len(data)-3], h.FDs())
	s.Require().ErrorIs(err, ErrInvalidHandle)

	bad := append([]byte("GRH0"), data[4:]...)
	_, err = UnmarshalHandle(bad, h.FDs())
	s.Require().ErrorIs(err, ErrInvalidHandle)

	_, err = UnmarshalHandle(data, []int{10})
	s.Require().ErrorIs(err, ErrInvalidHandle)

	_, err = UnmarshalHandle(nil, nil)
	s.Require().ErrorIs(err, ErrInvalidHandle)
}

func (s *HandleCodecTestSuite) TestMarshalRejectsInvalid() {
	h := sampleHandle()
	h.NumPlanes = 1
	_, err := h.MarshalBinary()
	s.Require().ErrorIs(err, ErrInvalidHandle)

	h = sampleHandle()
	h.PlaneFDs[1] = -1
	_, err = h.MarshalBinary()
	s.Require().ErrorIs(err, ErrInvalidHandle)

	var nilHandle *Handle
	_, err = nilHandle.MarshalBinary()
	s.Require().ErrorIs(err, ErrInvalidHandle)
}

func TestHandleCodecTestSuite(t *testing.T) {
	suite.Run(t, new(HandleCodecTestSuite))
}
