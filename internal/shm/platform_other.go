//go:build !linux

package shm

// DefaultHeapPath is the dma-buf system heap device.
const DefaultHeapPath = "/dev/dma_heap/system"

func MapRegion(opts MapOptions) (*MappedRegion, error) { return nil, ErrUnsupportedPlatform }

func UnmapRegion(region *MappedRegion) error { return ErrUnsupportedPlatform }

func MemfdCreate(name string, size int64) (int, error) { return -1, ErrUnsupportedPlatform }

func Identify(fd int) (uint64, error) { return 0, ErrUnsupportedPlatform }

func SameObject(a, b int) (bool, error) { return false, ErrUnsupportedPlatform }

func IsMemoryObject(fd int) (bool, error) { return false, ErrUnsupportedPlatform }

func FileSize(fd int) (int64, error) { return 0, ErrUnsupportedPlatform }

func Dup(fd int) (int, error) { return -1, ErrUnsupportedPlatform }

func Close(fd int) error { return ErrUnsupportedPlatform }

func SyncStart(fd int, flags SyncFlags) error { return ErrUnsupportedPlatform }

func SyncEnd(fd int, flags SyncFlags) error { return ErrUnsupportedPlatform }

func SetName(fd int, name string) error { return ErrUnsupportedPlatform }

func HeapAvailable(path string) bool { return false }

func HeapAlloc(path string, size uint64) (int, error) { return -1, ErrUnsupportedPlatform }
