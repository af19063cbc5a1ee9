//go:build linux

package shm

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultHeapPath is the dma-buf system heap device.
const DefaultHeapPath = "/dev/dma_heap/system"

const (
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2

	// _IOW('b', 0, struct dma_buf_sync)
	dmaBufIoctlSync = 0x40086200
	// _IOW('b', 1, const char *)
	dmaBufSetNameBase = 0x40006201
	// _IOWR('H', 0, struct dma_heap_allocation_data)
	dmaHeapIoctlAlloc = 0xc0184800

	dmaBufNameLen = 32
)

var dmaBufSetName = uintptr(dmaBufSetNameBase | unsafe.Sizeof(uintptr(0))<<16)

type dmaBufSync struct {
	flags uint64
}

type dmaHeapAllocationData struct {
	len       uint64
	fd        uint32
	fdFlags   uint32
	heapFlags uint64
}

// SyncStart opens a CPU access bracket on a dma-buf.
func SyncStart(fd int, flags SyncFlags) error {
	arg := dmaBufSync{flags: uint64(flags) | dmaBufSyncStart}
	if err := ioctl(fd, dmaBufIoctlSync, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("DMA_BUF_IOCTL_SYNC start: %w", err)
	}
	return nil
}

// SyncEnd closes a CPU access bracket on a dma-buf.
func SyncEnd(fd int, flags SyncFlags) error {
	arg := dmaBufSync{flags: uint64(flags) | dmaBufSyncEnd}
	if err := ioctl(fd, dmaBufIoctlSync, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("DMA_BUF_IOCTL_SYNC end: %w", err)
	}
	return nil
}

// SetName attaches a debug name to a dma-buf. Names longer than the kernel
// limit are truncated.
func SetName(fd int, name string) error {
	if len(name) >= dmaBufNameLen {
		name = name[:dmaBufNameLen-1]
	}
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	if err := ioctl(fd, dmaBufSetName, unsafe.Pointer(p)); err != nil {
		return fmt.Errorf("DMA_BUF_SET_NAME: %w", err)
	}
	return nil
}

// HeapAvailable reports whether the dma-buf heap at path can be opened.
func HeapAvailable(path string) bool {
	if path == "" {
		path = DefaultHeapPath
	}
	_, err := os.Stat(path)
	return err == nil
}

// HeapAlloc allocates size bytes from the dma-buf heap at path and returns
// the dma-buf descriptor.
func HeapAlloc(path string, size uint64) (int, error) {
	if path == "" {
		path = DefaultHeapPath
	}
	heapFd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(heapFd)

	data := dmaHeapAllocationData{
		len:     size,
		fdFlags: unix.O_RDWR | unix.O_CLOEXEC,
	}
	if err := ioctl(heapFd, dmaHeapIoctlAlloc, unsafe.Pointer(&data)); err != nil {
		return -1, fmt.Errorf("DMA_HEAP_IOCTL_ALLOC: %w", err)
	}
	return int(data.fd), nil
}
