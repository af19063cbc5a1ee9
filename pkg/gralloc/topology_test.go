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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/phreer/celadon-minigbm/pkg/drv"
)

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		devices []string
		want    TopologyClass
	}{
		{nil, SingleGPU},
		{[]string{"integrated"}, SingleGPU},
		{[]string{"discrete"}, SingleGPU},
		{[]string{"integrated", "discrete"}, DualGPU},
		{[]string{"integrated", "discrete", "virtio"}, DualGPU},
		{[]string{"integrated", "virtio"}, SRIOV},
		{[]string{"virtio"}, VirtualDisplay},
		{[]string{"virtio", "ivshmem"}, VirtualDisplay},
		{[]string{"discrete", "virtio"}, SingleGPU},
	} {
		g, err := ParseGPUGroups(tc.devices)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, Classify(g), "devices %v", tc.devices)
	}
	_, err := ParseGPUGroups([]string{"tpu"})
	assert.Error(t, err)
	assert.Equal(t, "integrated+virtio", (IntegratedGPU | VirtioGPU).String())
	assert.Equal(t, "none", GPUGroup(0).String())
}

type TopologyTestSuite struct {
	suite.Suite
	integrated drv.Backend
	discrete   drv.Backend
	virtio     drv.Backend
	ivshmem    drv.Backend
	fallback   drv.Backend
}

func (s *TopologyTestSuite) SetupTest() {
	s.integrated = drv.NewMemfd(drv.Options{Name: "i915", Kind: drv.KindIntegrated})
	s.discrete = drv.NewMemfd(drv.Options{Name: "xe", Kind: drv.KindDiscrete,
		Combinations: deviceCombinations(drv.KindDiscrete)})
	s.virtio = drv.NewMemfd(drv.Options{Name: "virtio_gpu", Kind: drv.KindVirtio,
		Combinations: deviceCombinations(drv.KindVirtio)})
	s.ivshmem = drv.NewMemfd(drv.Options{Name: "ivshmem", Kind: drv.KindIVSHMEM,
		Combinations: deviceCombinations(drv.KindIVSHMEM)})
	s.fallback = drv.NewMemfd(drv.Options{Name: "fallback"})
}

func (s *TopologyTestSuite) topology(b Backends) *Topology {
	b.Fallback = s.fallback
	t, err := NewTopology(b, VirtualProfile{Width: 1920, Height: 1080, Usage: defaultIVSHMEMUsage})
	s.Require().NoError(err)
	return t
}

func (s *TopologyTestSuite) TestRoles() {
	t := s.topology(Backends{Integrated: s.integrated})
	s.Require().Equal(SingleGPU, t.Class)
	s.Require().Equal(s.integrated, t.Render)
	s.Require().Equal(s.integrated, t.Display)
	s.Require().Equal(s.integrated, t.Video)

	t = s.topology(Backends{Integrated: s.integrated, Discrete: s.discrete})
	s.Require().Equal(DualGPU, t.Class)
	s.Require().Equal(s.discrete, t.Render)
	s.Require().Equal(s.discrete, t.Display)
	s.Require().Equal(s.integrated, t.Video)

	t = s.topology(Backends{Integrated: s.integrated, Virtio: s.virtio})
	s.Require().Equal(SRIOV, t.Class)
	s.Require().Equal(s.integrated, t.Render)
	s.Require().Equal(s.virtio, t.Display)
	s.Require().Equal(s.integrated, t.Video)

	t = s.topology(Backends{Virtio: s.virtio})
	s.Require().Equal(VirtualDisplay, t.Class)
	s.Require().Equal(s.virtio, t.Render)
	s.Require().Equal(s.virtio, t.Display)
	s.Require().Equal(s.virtio, t.Video)

	t = s.topology(Backends{})
	s.Require().Equal(s.fallback, t.Render)
	s.Require().Equal(s.fallback, t.Display)
	s.Require().Equal(s.fallback, t.Video)

	_, err := NewTopology(Backends{Integrated: s.integrated}, VirtualProfile{})
	s.Require().Error(err)
}

func (s *TopologyTestSuite) TestSelect() {
	t := s.topology(Backends{Integrated: s.integrated, Discrete: s.discrete, Virtio: s.virtio, IVSHMEM: s.ivshmem})

	video := BufferDescriptor{Width: 1920, Height: 1080, Format: drv.FormatNV12, Usage: drv.UseTexture}
	decode := BufferDescriptor{Width: 1920, Height: 1080, Format: drv.FormatXRGB8888, Usage: drv.UseHWVideoDecoder}
	scanout := BufferDescriptor{Width: 1920, Height: 1080, Format: drv.FormatXRGB8888, Usage: drv.UseScanout | drv.UseRendering}
	cast := BufferDescriptor{Width: 1920, Height: 1080, Format: drv.FormatXRGB8888, Usage: drv.UseRendering | drv.UseTexture}
	render := BufferDescriptor{Width: 1280, Height: 720, Format: drv.FormatXRGB8888, Usage: drv.UseRendering | drv.UseTexture}
	outsideMask := BufferDescriptor{Width: 1920, Height: 1080, Format: drv.FormatXRGB8888, Usage: drv.UseSWReadOften}

	for i := 0; i < 3; i++ {
		s.Require().Equal(s.integrated, t.Select(&video))
		s.Require().Equal(s.integrated, t.Select(&decode))
		s.Require().Equal(s.discrete, t.Select(&scanout))
		s.Require().Equal(s.ivshmem, t.Select(&cast))
		s.Require().Equal(s.discrete, t.Select(&render))
		s.Require().Equal(s.discrete, t.Select(&outsideMask))
	}

	single := s.topology(Backends{Integrated: s.integrated})
	s.Require().Equal(single.Select(&render), single.Select(&scanout))
}

func (s *TopologyTestSuite) TestForKind() {
	t := s.topology(Backends{Integrated: s.integrated, Virtio: s.virtio})
	s.Require().Equal(s.integrated, t.ForKind(drv.KindIntegrated))
	s.Require().Equal(s.virtio, t.ForKind(drv.KindVirtio))
	s.Require().Equal(s.fallback, t.ForKind(drv.KindDiscrete))
	s.Require().Equal(s.fallback, t.ForKind(drv.KindSystem))
	s.Require().Len(t.Backends().All(), 3)
}

func (s *TopologyTestSuite) TestResolveEncoderRetry() {
	noEncoder := drv.NewMemfd(drv.Options{Name: "decode-only", Kind: drv.KindIntegrated,
		Combinations: drv.LinearCombinations(drv.UseTextureMask|drv.UseHWVideoDecoder, drv.FormatNV12)})
	t := s.topology(Backends{Integrated: noEncoder})
	r := resolver{}

	desc := BufferDescriptor{Width: 640, Height: 480, Format: drv.FormatNV12, Usage: drv.UseTexture | drv.UseHWVideoEncoder}
	rd, be, err := r.resolve(t, &desc)
	s.Require().NoError(err)
	s.Require().Equal(noEncoder, be)
	s.Require().Equal(drv.FormatNV12, rd.Format)
	s.Require().Equal(drv.UseTexture, rd.Usage)
	s.Require().True(rd.VideoClass)
	s.Require().Equal(2, rd.NumPlanes)

	// YCbCr_420_888 keeps the encoder bit and lands on the fallback.
	desc.Format = drv.FormatFlexYCbCr420888
	rd, be, err = r.resolve(t, &desc)
	s.Require().NoError(err)
	s.Require().Equal(s.fallback, be)
	s.Require().Equal(drv.FormatNV12, rd.Format)
	s.Require().True(rd.Usage.Has(drv.UseHWVideoEncoder))
}

func (s *TopologyTestSuite) TestResolveFrontRendering() {
	linearOnly := drv.NewMemfd(drv.Options{Name: "linear", Kind: drv.KindIntegrated,
		Combinations: drv.LinearCombinations(drv.UseRendering|drv.UseLinear|drv.UseTexture, drv.FormatXRGB8888)})
	t := s.topology(Backends{Integrated: linearOnly})

	desc := BufferDescriptor{Width: 64, Height: 64, Format: drv.FormatXRGB8888, Usage: drv.UseFrontRendering | drv.UseRendering}
	rd, be, err := resolver{}.resolve(t, &desc)
	s.Require().NoError(err)
	s.Require().Equal(linearOnly, be)
	s.Require().Equal(drv.UseRendering|drv.UseLinear, rd.Usage)
}

func (s *TopologyTestSuite) TestResolveCameraQuirk() {
	isp := drv.NewMemfd(drv.Options{Name: "mtk", Kind: drv.KindIntegrated,
		Combinations: append(drv.DefaultCombinations(),
			drv.LinearCombinations(drv.UseCameraRead|drv.UseCameraWrite|drv.UseTexture, drv.FormatMTISPSXYZW10)...)})
	t := s.topology(Backends{Integrated: isp})

	desc := BufferDescriptor{Width: 640, Height: 480, Format: drv.FormatFlexImplementationDefined,
		Usage: drv.UseCameraRead | drv.UseCameraWrite}
	rd, _, err := resolver{cameraQuirk: true}.resolve(t, &desc)
	s.Require().NoError(err)
	s.Require().Equal(drv.FormatMTISPSXYZW10, rd.Format)
	s.Require().Equal(desc.Usage, rd.Usage)

	rd, _, err = resolver{}.resolve(t, &desc)
	s.Require().NoError(err)
	s.Require().Equal(drv.FormatNV12, rd.Format)

	desc.Usage |= drv.UseScanout
	rd, _, err = resolver{cameraQuirk: true}.resolve(t, &desc)
	s.Require().NoError(err)
	s.Require().Equal(drv.FormatNV12, rd.Format)
}

func (s *TopologyTestSuite) TestResolveFailures() {
	t := s.topology(Backends{Discrete: s.discrete})
	r := resolver{}

	_, _, err := r.resolve(t, &BufferDescriptor{Width: 0, Height: 16, Format: drv.FormatXRGB8888})
	s.Require().ErrorIs(err, ErrUnsupportedFormat)

	_, _, err = r.resolve(t, &BufferDescriptor{Width: 16, Height: 16, Format: drv.Fourcc('Z', 'Z', 'Z', 'Z')})
	s.Require().ErrorIs(err, ErrUnsupportedFormat)

	_, _, err = r.resolve(t, &BufferDescriptor{Width: 20000, Height: 16, Format: drv.FormatXRGB8888, Usage: drv.UseTexture})
	s.Require().ErrorIs(err, ErrNoBackendAvailable)

	_, _, err = r.resolve(t, &BufferDescriptor{Width: 16, Height: 16, Format: drv.FormatRGB888, Usage: drv.UseScanout})
	s.Require().ErrorIs(err, ErrNoBackendAvailable)

	// The discrete backend has no NV12; the fallback serves it.
	_, be, err := r.resolve(t, &BufferDescriptor{Width: 16, Height: 16, Format: drv.FormatNV12, Usage: drv.UseHWVideoDecoder})
	s.Require().NoError(err)
	s.Require().Equal(s.fallback, be)
}

func TestTopologyTestSuite(t *testing.T) {
	suite.Run(t, new(TopologyTestSuite))
}
