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

package shm

import (
	"context"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/suite"
)

type RegionTestSuite struct {
	suite.Suite
}

func (s *RegionTestSuite) SetupSuite() {
	if runtime.GOOS != "linux" {
		s.T().Skip("memfd regions need linux")
	}
}

func (s *RegionTestSuite) TestMemfdRegion() {
	alloc, err := NewAllocator(ModeMemfd, "")
	s.Require().NoError(err)
	s.Require().Equal("memfd", alloc.Name())

	r, err := alloc.Create(context.Background(), "meta", 4096)
	s.Require().NoError(err)
	s.Require().Equal("meta", r.Name())
	s.Require().EqualValues(4096, r.Size())
	s.Require().GreaterOrEqual(r.Fd(), 0)
	s.Require().False(r.Mapped())

	mem, err := r.Map()
	s.Require().NoError(err)
	s.Require().Len(mem, 4096)
	copy(mem, "side channel")
	again, err := r.Map()
	s.Require().NoError(err)
	s.Require().Equal("side channel", string(again[:12]))
	s.Require().True(r.Mapped())

	s.Require().NoError(r.Close())
	s.Require().Equal(-1, r.Fd())
	s.Require().NoError(r.Close())
	_, err = r.Map()
	s.Require().Error(err)
}

func (s *RegionTestSuite) TestInvalidSize() {
	a := &MemfdAllocator{}
	_, err := a.Create(context.Background(), "zero", 0)
	s.Require().ErrorIs(err, ErrInvalidSize)
}

func (s *RegionTestSuite) TestNoSpace() {
	a := &MemfdAllocator{CheckMemory: true}
	_, err := a.Create(context.Background(), "huge", math.MaxUint64/2)
	s.Require().ErrorIs(err, ErrNoSpace)
}

func (s *RegionTestSuite) TestModes() {
	a, err := NewAllocator(ModeNone, "")
	s.Require().NoError(err)
	s.Require().Nil(a)

	a, err = NewAllocator(ModeAuto, "/nonexistent/heap")
	s.Require().NoError(err)
	s.Require().Nil(a)

	_, err = NewAllocator(ModeHeap, "/nonexistent/heap")
	s.Require().ErrorIs(err, ErrUnavailable)

	_, err = NewAllocator("bogus", "")
	s.Require().Error(err)
}

func (s *RegionTestSuite) TestCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&MemfdAllocator{}).Create(ctx, "x", 4096)
	s.Require().ErrorIs(err, context.Canceled)
}

func TestRegionTestSuite(t *testing.T) {
	suite.Run(t, new(RegionTestSuite))
}
