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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/phreer/celadon-minigbm/pkg/shm"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	config := DefaultConfig()
	s.Require().Nil(VerifyConfig(config))

	config.Devices = []string{"integrated", "npu"}
	s.Require().NotNil(VerifyConfig(config))
	config.Devices = []string{"integrated", "Discrete"}
	s.Require().Nil(VerifyConfig(config))

	config.FenceTimeout = 0
	s.Require().NotNil(VerifyConfig(config))
	config.FenceTimeout = time.Second

	config.ReservedRegion = "tmpfs"
	s.Require().NotNil(VerifyConfig(config))
	config.ReservedRegion = shm.ModeNone

	config.StrideAlign = 48
	s.Require().NotNil(VerifyConfig(config))
	config.StrideAlign = 256

	config.MaxTextureSize = 0
	s.Require().NotNil(VerifyConfig(config))
	config.MaxTextureSize = 8192

	s.Require().Nil(VerifyConfig(config))
	s.Require().NotNil(VerifyConfig(nil))
}

func (s *ConfigTestSuite) TestLoadConfigDefaults() {
	config, err := LoadConfig("")
	s.Require().NoError(err)
	s.Require().Equal(DefaultConfig().FenceTimeout, config.FenceTimeout)
	s.Require().Equal(shm.ModeAuto, config.ReservedRegion)
	s.Require().Empty(config.Devices)
}

func (s *ConfigTestSuite) TestLoadConfigFile() {
	path := filepath.Join(s.T().TempDir(), "gralloc.yaml")
	err := os.WriteFile(path, []byte(`
devices: [integrated, virtio]
fence_timeout: 250ms
reserved_region: memfd
mt8183_camera_quirk: true
ivshmem_width: 1280
ivshmem_height: 720
`), 0o600)
	s.Require().NoError(err)
	s.T().Setenv("GRALLOC_STRIDE_ALIGN", "256")

	config, err := LoadConfig(path)
	s.Require().NoError(err)
	s.Require().Equal([]string{"integrated", "virtio"}, config.Devices)
	s.Require().Equal(250*time.Millisecond, config.FenceTimeout)
	s.Require().Equal(shm.ModeMemfd, config.ReservedRegion)
	s.Require().True(config.CameraQuirk)
	s.Require().EqualValues(1280, config.IVSHMEMWidth)
	s.Require().EqualValues(720, config.IVSHMEMHeight)
	s.Require().EqualValues(256, config.StrideAlign)

	groups, err := ParseGPUGroups(config.Devices)
	s.Require().NoError(err)
	s.Require().Equal(SRIOV, Classify(groups))
}

func (s *ConfigTestSuite) TestLoadConfigRejectsInvalid() {
	path := filepath.Join(s.T().TempDir(), "gralloc.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("reserved_region: tmpfs\n"), 0o600))
	_, err := LoadConfig(path)
	s.Require().Error(err)

	_, err = LoadConfig(filepath.Join(s.T().TempDir(), "missing.yaml"))
	s.Require().Error(err)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
