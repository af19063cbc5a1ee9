//go:build linux

package shm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/suite"
)

type PlatformTestSuite struct {
	suite.Suite
}

func (s *PlatformTestSuite) TestMemfdMapRoundTrip() {
	fd, err := MemfdCreate("shm-test", 8192)
	s.Require().NoError(err)
	defer Close(fd)

	size, err := FileSize(fd)
	s.Require().NoError(err)
	s.Require().EqualValues(8192, size)

	w, err := MapRegion(MapOptions{Fd: fd, Size: 8192, Read: true, Write: true})
	s.Require().NoError(err)
	copy(w.Addr[4096:], "hello world")
	s.Require().NoError(UnmapRegion(w))
	s.Require().Nil(w.Addr)

	r, err := MapRegion(MapOptions{Fd: fd, Offset: 4096, Size: 4096, Read: true})
	s.Require().NoError(err)
	defer UnmapRegion(r)
	s.Require().Equal("hello world", string(r.Addr[:11]))
	s.Require().Equal(4096, r.Size())
}

func (s *PlatformTestSuite) TestIdentifyStableAcrossDup() {
	fd, err := MemfdCreate("shm-ident", 4096)
	s.Require().NoError(err)
	defer Close(fd)
	dup, err := Dup(fd)
	s.Require().NoError(err)
	defer Close(dup)
	s.Require().NotEqual(fd, dup)

	a, err := Identify(fd)
	s.Require().NoError(err)
	b, err := Identify(dup)
	s.Require().NoError(err)
	s.Require().Equal(a, b)

	other, err := MemfdCreate("shm-ident-2", 4096)
	s.Require().NoError(err)
	defer Close(other)
	c, err := Identify(other)
	s.Require().NoError(err)
	s.Require().NotEqual(a, c)
}

func (s *PlatformTestSuite) TestObjectIDSeparatesDevices() {
	s.Require().NotEqual(objectID(0x16, 27), objectID(0x2a, 27))
	s.Require().NotEqual(objectID(0x16, 27), objectID(0x16, 28))
	s.Require().Equal(objectID(0x16, 27), objectID(0x16, 27))
}

func (s *PlatformTestSuite) TestSameObject() {
	fd, err := MemfdCreate("shm-same", 4096)
	s.Require().NoError(err)
	defer Close(fd)
	dup, err := Dup(fd)
	s.Require().NoError(err)
	defer Close(dup)
	other, err := MemfdCreate("shm-same-2", 4096)
	s.Require().NoError(err)
	defer Close(other)

	same, err := SameObject(fd, dup)
	s.Require().NoError(err)
	s.Require().True(same)
	same, err = SameObject(fd, other)
	s.Require().NoError(err)
	s.Require().False(same)
	_, err = SameObject(fd, -1)
	s.Require().Error(err)
}

func (s *PlatformTestSuite) TestIsMemoryObject() {
	fd, err := MemfdCreate("shm-kind", 4096)
	s.Require().NoError(err)
	defer Close(fd)
	ok, err := IsMemoryObject(fd)
	s.Require().NoError(err)
	s.Require().True(ok)

	f, err := os.Open("/proc/self/stat")
	s.Require().NoError(err)
	defer f.Close()
	ok, err = IsMemoryObject(int(f.Fd()))
	s.Require().NoError(err)
	s.Require().False(ok)
}

func (s *PlatformTestSuite) TestInvalidArguments() {
	_, err := MapRegion(MapOptions{Fd: -1, Size: 0})
	s.Require().Error(err)
	_, err = Identify(-1)
	s.Require().Error(err)
	s.Require().NoError(Close(-1))
	s.Require().NoError(UnmapRegion(nil))
}

func (s *PlatformTestSuite) TestSyncOnMemfdIsRejected() {
	fd, err := MemfdCreate("shm-sync", 4096)
	s.Require().NoError(err)
	defer Close(fd)
	// memfd is not a dma-buf; the kernel answers ENOTTY.
	s.Require().Error(SyncStart(fd, SyncRW))
}

func (s *PlatformTestSuite) TestHeapAllocWhenAvailable() {
	if !HeapAvailable("") {
		s.T().Skip("dma-buf system heap not available")
	}
	fd, err := HeapAlloc("", 4096)
	if err != nil {
		s.T().Skipf("heap alloc not permitted: %v", err)
	}
	defer Close(fd)
	s.Require().NoError(SyncStart(fd, SyncRW))
	s.Require().NoError(SyncEnd(fd, SyncRW))
	_ = SetName(fd, "a-name-that-is-definitely-longer-than-thirty-two-bytes")
}

func TestPlatformTestSuite(t *testing.T) {
	suite.Run(t, new(PlatformTestSuite))
}
