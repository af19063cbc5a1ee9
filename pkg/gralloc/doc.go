// Package gralloc allocates graphics buffers, tracks every handle that
// references them and coordinates CPU access against GPU fences.
//
// A Driver owns a fixed set of backends chosen from the GPU topology at
// construction. Allocate resolves a BufferDescriptor to a concrete format,
// picks the backend that must serve it and returns a Handle holding one
// reference. Handles received from elsewhere enter the driver through
// Retain, which imports the backing store the first time it is seen.
// Buffers live until the last handle referencing them is released.
//
// Example usage:
//
//	d, err := gralloc.New(gralloc.DefaultConfig())
//	h, err := d.Allocate(ctx, gralloc.BufferDescriptor{
//		Width: 1920, Height: 1080,
//		Format: drv.FormatXRGB8888,
//		Usage:  drv.UseSWWriteOften | drv.UseTexture,
//	})
//	planes, err := d.Lock(ctx, h, fence.NoFence, false, drv.Rect{}, drv.MapWrite)
//	// ... fill planes[0]
//	releaseFence, err := d.Unlock(ctx, h)
//	err = d.Release(h)
//	h.Close()
package gralloc
