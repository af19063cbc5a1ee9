//go:build linux

package shm

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapRegion maps opts.Size bytes of opts.Fd (Linux implementation).
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", opts.Size)
	}
	prot := 0
	if opts.Read {
		prot |= unix.PROT_READ
	}
	if opts.Write {
		prot |= unix.PROT_WRITE
	}
	if prot == 0 {
		prot = unix.PROT_READ
	}
	addr, err := unix.Mmap(opts.Fd, opts.Offset, opts.Size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr:   addr,
		Fd:     opts.Fd,
		Offset: opts.Offset,
	}, nil
}

// UnmapRegion unmaps the region. The descriptor stays open.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	return nil
}

// MemfdCreate creates an anonymous memory file of the given size.
func MemfdCreate(name string, size int64) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("ftruncate: %w", err)
	}
	// The size of a gralloc buffer never changes after allocation.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("seal: %w", err)
	}
	return fd, nil
}

// dmaBufMagic is the statfs type of dma-buf descriptors.
const dmaBufMagic = 0x444d4142

// Identify returns the kernel identity of the object behind fd. Every
// descriptor referring to the same memfd or dma-buf, in any process, yields
// the same value while the object is alive.
func Identify(fd int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("fstat: %w", err)
	}
	return objectID(uint64(st.Dev), st.Ino), nil
}

// SameObject reports whether a and b refer to the same kernel object.
func SameObject(a, b int) (bool, error) {
	var sa, sb unix.Stat_t
	if err := unix.Fstat(a, &sa); err != nil {
		return false, fmt.Errorf("fstat: %w", err)
	}
	if err := unix.Fstat(b, &sb); err != nil {
		return false, fmt.Errorf("fstat: %w", err)
	}
	return sa.Dev == sb.Dev && sa.Ino == sb.Ino, nil
}

// IsMemoryObject reports whether fd is a memfd (shmem or hugetlbfs) or a
// dma-buf, the only objects buffers are made of.
func IsMemoryObject(fd int) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err != nil {
		return false, fmt.Errorf("fstatfs: %w", err)
	}
	switch uint32(st.Type) {
	case unix.TMPFS_MAGIC, unix.HUGETLBFS_MAGIC, dmaBufMagic:
		return true, nil
	}
	return false, nil
}

// FileSize returns the size of the object behind fd.
func FileSize(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("fstat: %w", err)
	}
	if st.Size == 0 {
		// dma-buf reports its size through lseek.
		end, err := unix.Seek(fd, 0, io.SeekEnd)
		if err != nil {
			return 0, fmt.Errorf("lseek: %w", err)
		}
		return end, nil
	}
	return st.Size, nil
}

// Dup duplicates fd with close-on-exec set.
func Dup(fd int) (int, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("dup: %w", err)
	}
	return nfd, nil
}

// Close closes fd, ignoring negative descriptors.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errors.Is(errno, unix.EINTR) || errors.Is(errno, unix.EAGAIN) {
			continue
		}
		return errno
	}
}
