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
	"errors"
	"fmt"
	"strings"

	"github.com/phreer/celadon-minigbm/pkg/drv"
)

// GPUGroup is a bitset of the GPU nodes present on the system.
type GPUGroup uint32

const (
	IntegratedGPU GPUGroup = 1 << iota
	DiscreteGPU
	// VirtioGPU is a virtio-gpu node, the display half of an SR-IOV split.
	VirtioGPU
	// IVSHMEM is the shared memory display node used for screen casting.
	IVSHMEM
)

var groupNames = []struct {
	name  string
	group GPUGroup
}{
	{"integrated", IntegratedGPU},
	{"discrete", DiscreteGPU},
	{"virtio", VirtioGPU},
	{"ivshmem", IVSHMEM},
}

// Has reports whether every bit of o is set in g.
func (g GPUGroup) Has(o GPUGroup) bool { return g&o == o }

func (g GPUGroup) String() string {
	var parts []string
	for _, n := range groupNames {
		if g.Has(n.group) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseGPUGroups turns device names into a GPUGroup.
func ParseGPUGroups(names []string) (GPUGroup, error) {
	var g GPUGroup
next:
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		for _, n := range groupNames {
			if n.name == name {
				g |= n.group
				continue next
			}
		}
		return 0, fmt.Errorf("unknown gpu device %q", name)
	}
	return g, nil
}

// TopologyClass is the classification of a GPU group.
type TopologyClass int

const (
	SingleGPU TopologyClass = iota
	// DualGPU has an integrated and a discrete GPU.
	DualGPU
	// SRIOV renders on the integrated GPU and displays through virtio.
	SRIOV
	// VirtualDisplay only has a virtio node.
	VirtualDisplay
)

func (c TopologyClass) String() string {
	switch c {
	case SingleGPU:
		return "single-gpu"
	case DualGPU:
		return "dual-gpu"
	case SRIOV:
		return "sriov"
	case VirtualDisplay:
		return "virtual-display"
	}
	return fmt.Sprintf("topology(%d)", int(c))
}

// Classify returns the topology class of g.
func Classify(g GPUGroup) TopologyClass {
	switch {
	case g.Has(IntegratedGPU | DiscreteGPU):
		return DualGPU
	case g.Has(IntegratedGPU | VirtioGPU):
		return SRIOV
	case g.Has(VirtioGPU) && !g.Has(DiscreteGPU):
		return VirtualDisplay
	}
	return SingleGPU
}

// Backends holds one backend per device node. A nil member is a node the
// system does not have.
type Backends struct {
	Integrated drv.Backend
	Discrete   drv.Backend
	Virtio     drv.Backend
	IVSHMEM    drv.Backend
	Fallback   drv.Backend
}

// Groups returns the GPU group formed by the configured device backends.
func (b *Backends) Groups() GPUGroup {
	var g GPUGroup
	if b.Integrated != nil {
		g |= IntegratedGPU
	}
	if b.Discrete != nil {
		g |= DiscreteGPU
	}
	if b.Virtio != nil {
		g |= VirtioGPU
	}
	if b.IVSHMEM != nil {
		g |= IVSHMEM
	}
	return g
}

// All returns every distinct backend.
func (b *Backends) All() []drv.Backend {
	var out []drv.Backend
	for _, be := range []drv.Backend{b.Integrated, b.Discrete, b.Virtio, b.IVSHMEM, b.Fallback} {
		if be == nil {
			continue
		}
		dup := false
		for _, o := range out {
			if o == be {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, be)
		}
	}
	return out
}

// Close closes every backend.
func (b *Backends) Close() error {
	var errs []error
	for _, be := range b.All() {
		if err := be.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", be.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// VirtualProfile is the fixed request shape served by the ivshmem backend.
type VirtualProfile struct {
	Width  uint32
	Height uint32
	Usage  drv.UseFlags
}

// Matches reports whether desc has exactly the profile size and only asks
// for usage inside the profile mask.
func (p VirtualProfile) Matches(desc *BufferDescriptor) bool {
	if p.Width == 0 || p.Height == 0 {
		return false
	}
	return desc.Width == p.Width && desc.Height == p.Height && desc.Usage&^p.Usage == 0
}

// Topology binds backends to the roles the selector chooses between.
type Topology struct {
	Class          TopologyClass
	Render         drv.Backend
	Display        drv.Backend
	Video          drv.Backend
	Virtualization drv.Backend
	Fallback       drv.Backend
	Profile        VirtualProfile

	backends Backends
}

// NewTopology assigns roles to b. b.Fallback must be set.
func NewTopology(b Backends, profile VirtualProfile) (*Topology, error) {
	if b.Fallback == nil {
		return nil, errors.New("topology without fallback backend")
	}
	t := &Topology{
		Class:          Classify(b.Groups()),
		Virtualization: b.IVSHMEM,
		Fallback:       b.Fallback,
		Profile:        profile,
		backends:       b,
	}
	switch {
	case b.Discrete != nil:
		t.Render = b.Discrete
	case b.Integrated != nil:
		t.Render = b.Integrated
	case b.Virtio != nil:
		t.Render = b.Virtio
	default:
		t.Render = b.Fallback
	}
	t.Display = t.Render
	if t.Class == SRIOV || t.Class == VirtualDisplay {
		t.Display = b.Virtio
	}
	t.Video = t.Render
	if b.Integrated != nil {
		t.Video = b.Integrated
	}
	return t, nil
}

// IsVideoClass reports whether desc is served by the video backend.
func IsVideoClass(desc *BufferDescriptor) bool {
	return drv.IsYUV(desc.Format) || desc.Usage.Any(drv.UseVideoMask)
}

// Select returns the backend that must serve desc. It does not consult
// backend capabilities.
func (t *Topology) Select(desc *BufferDescriptor) drv.Backend {
	switch {
	case IsVideoClass(desc):
		return t.Video
	case desc.Usage.Any(drv.UseScanout):
		return t.Display
	case t.Virtualization != nil && t.Profile.Matches(desc):
		return t.Virtualization
	}
	return t.Render
}

// ForKind returns the backend that imports buffers created by a backend of
// kind k, the fallback when no such backend is configured.
func (t *Topology) ForKind(k drv.Kind) drv.Backend {
	var be drv.Backend
	switch k {
	case drv.KindIntegrated:
		be = t.backends.Integrated
	case drv.KindDiscrete:
		be = t.backends.Discrete
	case drv.KindVirtio:
		be = t.backends.Virtio
	case drv.KindIVSHMEM:
		be = t.backends.IVSHMEM
	}
	if be == nil {
		return t.Fallback
	}
	return be
}

// Backends returns the backends the topology was built from.
func (t *Topology) Backends() *Backends { return &t.backends }

// OpenBackends builds the backends named by config.Devices. Device backends
// allocate from the dma-buf heap when config.DMAHeapPath is set and from
// memfd otherwise; the fallback always uses memfd.
func OpenBackends(config *Config) (*Backends, error) {
	groups, err := ParseGPUGroups(config.Devices)
	if err != nil {
		return nil, err
	}
	b := &Backends{}
	open := func(name string, kind drv.Kind, combos drv.Combinations) (drv.Backend, error) {
		opts := drv.Options{
			Name:           name,
			Kind:           kind,
			Combinations:   combos,
			StrideAlign:    config.StrideAlign,
			MaxTextureSize: config.MaxTextureSize,
			CheckMemory:    true,
		}
		if config.DMAHeapPath != "" {
			return drv.NewDMAHeap(config.DMAHeapPath, opts)
		}
		return drv.NewMemfd(opts), nil
	}
	for _, dev := range []struct {
		group GPUGroup
		name  string
		kind  drv.Kind
		dst   *drv.Backend
	}{
		{IntegratedGPU, "i915", drv.KindIntegrated, &b.Integrated},
		{DiscreteGPU, "xe", drv.KindDiscrete, &b.Discrete},
		{VirtioGPU, "virtio_gpu", drv.KindVirtio, &b.Virtio},
		{IVSHMEM, "ivshmem", drv.KindIVSHMEM, &b.IVSHMEM},
	} {
		if !groups.Has(dev.group) {
			continue
		}
		be, err := open(dev.name, dev.kind, deviceCombinations(dev.kind))
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		*dev.dst = be
	}
	b.Fallback = drv.NewMemfd(drv.Options{
		Name:           "fallback",
		Kind:           drv.KindSystem,
		StrideAlign:    config.StrideAlign,
		MaxTextureSize: config.MaxTextureSize,
		CheckMemory:    true,
	})
	return b, nil
}

// deviceCombinations is the capability table of each device class.
func deviceCombinations(kind drv.Kind) drv.Combinations {
	rgb := []uint32{drv.FormatARGB8888, drv.FormatXRGB8888, drv.FormatABGR8888, drv.FormatXBGR8888, drv.FormatRGB565}
	switch kind {
	case drv.KindVirtio, drv.KindIVSHMEM:
		return drv.LinearCombinations(drv.UseRenderMask|drv.UseScanout|drv.UseCursor, rgb...)
	case drv.KindDiscrete:
		c := drv.LinearCombinations(drv.UseRenderMask|drv.UseScanout|drv.UseCursor, rgb...)
		return append(c, drv.LinearCombinations(drv.UseTextureMask, drv.FormatABGR2101010, drv.FormatABGR16161616F, drv.FormatR8, drv.FormatGR88)...)
	}
	return drv.DefaultCombinations()
}
