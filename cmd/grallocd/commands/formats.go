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
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

var (
	formatsWidth  uint32
	formatsHeight uint32
	formatsUsage  []string
)

var usageNames = map[string]drv.UseFlags{
	"scanout":         drv.UseScanout,
	"cursor":          drv.UseCursor,
	"rendering":       drv.UseRendering,
	"linear":          drv.UseLinear,
	"texture":         drv.UseTexture,
	"camera-read":     drv.UseCameraRead,
	"camera-write":    drv.UseCameraWrite,
	"protected":       drv.UseProtected,
	"sw-read-often":   drv.UseSWReadOften,
	"sw-read-rarely":  drv.UseSWReadRarely,
	"sw-write-often":  drv.UseSWWriteOften,
	"sw-write-rarely": drv.UseSWWriteRarely,
	"hw-video-decode": drv.UseHWVideoDecoder,
	"hw-video-encode": drv.UseHWVideoEncoder,
	"front-rendering": drv.UseFrontRendering,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List formats and how they resolve for a usage",
	RunE:  runFormats,
}

func init() {
	formatsCmd.Flags().Uint32Var(&formatsWidth, "width", 1920, "buffer width")
	formatsCmd.Flags().Uint32Var(&formatsHeight, "height", 1080, "buffer height")
	formatsCmd.Flags().StringSliceVar(&formatsUsage, "usage", []string{"texture", "sw-read-often"}, "usage flags")
	rootCmd.AddCommand(formatsCmd)
}

func parseUsage(names []string) (drv.UseFlags, error) {
	var use drv.UseFlags
	for _, n := range names {
		u, ok := usageNames[n]
		if !ok {
			return 0, fmt.Errorf("unknown usage %q", n)
		}
		use |= u
	}
	return use, nil
}

func runFormats(cmd *cobra.Command, args []string) error {
	use, err := parseUsage(formatsUsage)
	if err != nil {
		return err
	}
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := gralloc.New(config)
	if err != nil {
		return err
	}
	defer d.Close()
	return printFormats(cmd.OutOrStdout(), d, formatsWidth, formatsHeight, use)
}

func printFormats(out io.Writer, d *gralloc.Driver, width, height uint32, use drv.UseFlags) error {
	formats := drv.Formats()
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FORMAT\tSUPPORTED\tBACKEND\tRESOLVED\tPLANES\tMODIFIER")
	for _, f := range formats {
		desc := gralloc.BufferDescriptor{Width: width, Height: height, Format: f, Usage: use}
		rd, backend, err := d.Resolve(desc)
		if err != nil {
			fmt.Fprintf(w, "%s\tno\t-\t-\t-\t-\n", drv.FormatName(f))
			continue
		}
		fmt.Fprintf(w, "%s\tyes\t%s\t%s\t%d\t%#x\n",
			drv.FormatName(f), backend, drv.FormatName(rd.Format), rd.NumPlanes, rd.Modifier)
	}
	return w.Flush()
}
