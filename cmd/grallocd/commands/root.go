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

// Package commands implements the grallocd command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phreer/celadon-minigbm/internal/logging"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

var (
	cfgFile  string
	logLevel string
	devices  []string
)

var rootCmd = &cobra.Command{
	Use:   "grallocd",
	Short: "Graphics buffer allocator daemon and tools",
	Long: `grallocd hosts the gralloc buffer allocator.

It selects a backend per request from the GPU topology, tracks every
buffer handle and coordinates CPU access with GPU fences. The serve
command exports metrics and health endpoints; stress, formats and probe
exercise the allocator from the command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}
		return logging.SetLevelName(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&devices, "device", nil,
		"GPU nodes present: integrated, discrete, virtio, ivshmem (overrides the config file)")
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*gralloc.Config, error) {
	config, err := gralloc.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("device") {
		config.Devices = devices
		if err := gralloc.VerifyConfig(config); err != nil {
			return nil, fmt.Errorf("validating --device: %w", err)
		}
	}
	return config, nil
}
