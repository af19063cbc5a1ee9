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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/shm"
)

const (
	defaultFenceTimeout   = time.Second
	defaultMaxTextureSize = 16384
	defaultIVSHMEMWidth   = 1920
	defaultIVSHMEMHeight  = 1080
	defaultIVSHMEMUsage   = drv.UseScanout | drv.UseRendering | drv.UseTexture | drv.UseLinear
)

// Config is used to tune the driver.
type Config struct {
	// Devices names the GPU nodes present on the system: integrated,
	// discrete, virtio and ivshmem. The fallback backend is always present.
	Devices []string `mapstructure:"devices"`

	// DMAHeapPath makes device backends allocate from the dma-buf heap at
	// that path. Device backends use memfd when empty.
	DMAHeapPath string `mapstructure:"dma_heap_path"`

	// IVSHMEMWidth, IVSHMEMHeight and IVSHMEMUsage describe the only
	// requests routed to the ivshmem backend.
	IVSHMEMWidth  uint32 `mapstructure:"ivshmem_width"`
	IVSHMEMHeight uint32 `mapstructure:"ivshmem_height"`
	IVSHMEMUsage  uint64 `mapstructure:"ivshmem_usage"`

	// CameraQuirk forces implementation defined camera buffers onto the
	// MediaTek ISP format used by MT8183 camera stacks.
	CameraQuirk bool `mapstructure:"mt8183_camera_quirk"`

	// FenceTimeout bounds the acquire fence wait in Lock.
	FenceTimeout time.Duration `mapstructure:"fence_timeout"`

	// ReservedRegion selects the reserved region allocator: auto, heap,
	// memfd or none.
	ReservedRegion   string `mapstructure:"reserved_region"`
	ReservedHeapPath string `mapstructure:"reserved_heap_path"`

	StrideAlign    uint32 `mapstructure:"stride_align"`
	MaxTextureSize uint32 `mapstructure:"max_texture_size"`

	// Backends replaces the backends built from Devices.
	Backends *Backends `mapstructure:"-"`
	// Registerer receives the driver collectors. Metrics stay private when nil.
	Registerer prometheus.Registerer `mapstructure:"-"`
	Meter      metric.Meter          `mapstructure:"-"`
	Tracer     trace.Tracer          `mapstructure:"-"`
}

// DefaultConfig is used to create a default config.
func DefaultConfig() *Config {
	return &Config{
		IVSHMEMWidth:   defaultIVSHMEMWidth,
		IVSHMEMHeight:  defaultIVSHMEMHeight,
		IVSHMEMUsage:   uint64(defaultIVSHMEMUsage),
		FenceTimeout:   defaultFenceTimeout,
		ReservedRegion: shm.ModeAuto,
		StrideAlign:    drv.DefaultStrideAlign,
		MaxTextureSize: defaultMaxTextureSize,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("nil config")
	}
	if _, err := ParseGPUGroups(config.Devices); err != nil {
		return err
	}
	if config.FenceTimeout <= 0 {
		return errors.New("fence_timeout must be positive")
	}
	switch config.ReservedRegion {
	case shm.ModeAuto, shm.ModeHeap, shm.ModeMemfd, shm.ModeNone:
	default:
		return fmt.Errorf("reserved_region must be one of auto, heap, memfd, none; got %q", config.ReservedRegion)
	}
	if a := config.StrideAlign; a == 0 || a&(a-1) != 0 {
		return fmt.Errorf("stride_align must be a power of two, got %d", a)
	}
	if config.MaxTextureSize == 0 {
		return errors.New("max_texture_size must be positive")
	}
	return nil
}

// LoadConfig reads the config file at path, when not empty, on top of the
// defaults and applies GRALLOC_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	v.SetEnvPrefix("GRALLOC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("devices", cfg.Devices)
	v.SetDefault("dma_heap_path", cfg.DMAHeapPath)
	v.SetDefault("ivshmem_width", cfg.IVSHMEMWidth)
	v.SetDefault("ivshmem_height", cfg.IVSHMEMHeight)
	v.SetDefault("ivshmem_usage", cfg.IVSHMEMUsage)
	v.SetDefault("mt8183_camera_quirk", cfg.CameraQuirk)
	v.SetDefault("fence_timeout", cfg.FenceTimeout)
	v.SetDefault("reserved_region", cfg.ReservedRegion)
	v.SetDefault("reserved_heap_path", cfg.ReservedHeapPath)
	v.SetDefault("stride_align", cfg.StrideAlign)
	v.SetDefault("max_texture_size", cfg.MaxTextureSize)
}
