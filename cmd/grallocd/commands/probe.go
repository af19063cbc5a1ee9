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

package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/phreer/celadon-minigbm/adapter"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
	"github.com/phreer/celadon-minigbm/pkg/shm"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report the topology and run one allocation probe",
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "probe timeout")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := gralloc.New(config)
	if err != nil {
		return err
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	describeTopology(out, d.Topology())
	reserved, err := shm.NewAllocator(config.ReservedRegion, config.ReservedHeapPath)
	switch {
	case err != nil:
		fmt.Fprintf(out, "reserved regions: %v\n", err)
	case reserved == nil:
		fmt.Fprintln(out, "reserved regions: disabled")
	default:
		fmt.Fprintf(out, "reserved regions: %s\n", reserved.Name())
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()
	if err := adapter.Probe(ctx, d, backoff.NewExponentialBackOff()); err != nil {
		return fmt.Errorf("allocation probe: %w", err)
	}
	fmt.Fprintln(out, "allocation probe: ok")
	return nil
}

func describeTopology(out io.Writer, t *gralloc.Topology) {
	name := func(b interface{ Name() string }) string {
		if b == nil {
			return "-"
		}
		return b.Name()
	}
	fmt.Fprintf(out, "topology: %s (%s)\n", t.Class, t.Backends().Groups())
	fmt.Fprintf(out, "render: %s\n", name(t.Render))
	fmt.Fprintf(out, "display: %s\n", name(t.Display))
	fmt.Fprintf(out, "video: %s\n", name(t.Video))
	fmt.Fprintf(out, "virtualization: %s\n", name(t.Virtualization))
	fmt.Fprintf(out, "fallback: %s\n", name(t.Fallback))
}
