// Package shm contains platform-specific helpers for mapping and naming the
// kernel memory objects (memfd, dma-buf) that back gralloc buffers.
package shm

import "errors"

// ErrUnsupportedPlatform is returned by every helper on platforms without
// memfd and dma-buf support.
var ErrUnsupportedPlatform = errors.New("shm: unsupported platform")

// MappedRegion represents a memory-mapped view of a file descriptor.
type MappedRegion struct {
	Addr   []byte
	Fd     int
	Offset int64
}

// Size returns the length of the mapping.
func (r *MappedRegion) Size() int {
	if r == nil {
		return 0
	}
	return len(r.Addr)
}

// MapOptions defines options for mapping a descriptor.
type MapOptions struct {
	Fd     int
	Offset int64
	Size   int
	Read   bool
	Write  bool
}

// SyncFlags select the direction of a dma-buf CPU access bracket.
type SyncFlags uint64

const (
	SyncRead  SyncFlags = 1 << 0
	SyncWrite SyncFlags = 1 << 1
	SyncRW    SyncFlags = SyncRead | SyncWrite
)

// objectID folds a device and inode number into one identity. Inode numbers
// are only unique within a filesystem, so the device takes part in it.
func objectID(dev, ino uint64) uint64 {
	h := dev + 0x9e3779b97f4a7c15
	h = (h ^ h>>30) * 0xbf58476d1ce4e5b9
	h = (h ^ h>>27) * 0x94d049bb133111eb
	h ^= h >> 31
	return h ^ ino
}

// Function implementations are provided in platform-specific files (e.g., platform_linux.go, platform_other.go).
