// Package shm allocates the reserved regions gralloc attaches to buffers for
// out-of-band metadata.
//
// A reserved region is a named, descriptor-backed memory object. On systems
// exposing the dma-buf system heap it is a dma-buf; elsewhere a memfd can
// stand in when the caller opts into it. The descriptor travels inside the
// buffer handle; the mapping is created lazily on first use.
//
// Example usage:
//
//	alloc, err := shm.NewAllocator(shm.ModeAuto, "")
//	// alloc is nil when the platform has no dma-buf heap
//	region, err := alloc.Create(ctx, "camera-meta", 4096)
//	mem, err := region.Map()
//	// ...
//	region.Close()
package shm
