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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/phreer/celadon-minigbm/api"
	"github.com/phreer/celadon-minigbm/internal/fence"
	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

type stressOptions struct {
	buffers   int
	producers int
	consumers int
	desc      gralloc.BufferDescriptor
}

type stressResult struct {
	allocated int64
	verified  int64
	failed    int64
	elapsed   time.Duration
}

var (
	stressOpts   = stressOptions{desc: gralloc.BufferDescriptor{Name: "stress"}}
	stressFormat string
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Allocate, fill and verify buffers from concurrent workers",
	RunE:  runStressCmd,
}

func init() {
	stressCmd.Flags().IntVar(&stressOpts.buffers, "buffers", 1000, "buffers to allocate")
	stressCmd.Flags().IntVar(&stressOpts.producers, "producers", 8, "allocating workers")
	stressCmd.Flags().IntVar(&stressOpts.consumers, "consumers", 8, "verifying workers")
	stressCmd.Flags().Uint32Var(&stressOpts.desc.Width, "width", 256, "buffer width")
	stressCmd.Flags().Uint32Var(&stressOpts.desc.Height, "height", 256, "buffer height")
	stressCmd.Flags().StringVar(&stressFormat, "format", "XR24", "fourcc of the buffer format")
	rootCmd.AddCommand(stressCmd)
}

func runStressCmd(cmd *cobra.Command, args []string) error {
	format, err := parseFourcc(stressFormat)
	if err != nil {
		return err
	}
	opts := stressOpts
	opts.desc.Format = format
	opts.desc.Usage = drv.UseSWReadOften | drv.UseSWWriteOften | drv.UseTexture

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := gralloc.New(config)
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := runStress(cmd.Context(), d, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "allocated %d, verified %d, failed %d in %s\n",
		res.allocated, res.verified, res.failed, res.elapsed)
	stats := d.Stats()
	fmt.Fprintf(out, "remaining: %d buffers, %d handles, %d mapped\n", stats.Buffers, stats.Handles, stats.Mapped)
	if res.failed > 0 {
		return fmt.Errorf("%d buffers failed", res.failed)
	}
	return nil
}

func parseFourcc(s string) (uint32, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("format %q is not a fourcc", s)
	}
	return drv.Fourcc(s[0], s[1], s[2], s[3]), nil
}

// runStress pushes opts.buffers allocations through g. Producers allocate
// and stamp each buffer, consumers check the stamp and release it.
func runStress(ctx context.Context, g api.Gralloc, opts stressOptions) (stressResult, error) {
	var res stressResult
	if opts.buffers <= 0 || opts.producers <= 0 || opts.consumers <= 0 {
		return res, errors.New("buffers, producers and consumers must be positive")
	}
	producers, err := ants.NewPool(opts.producers)
	if err != nil {
		return res, err
	}
	defer producers.Release()
	consumers, err := ants.NewPool(opts.consumers)
	if err != nil {
		return res, err
	}
	defer consumers.Release()

	q := newHandleQueue(opts.buffers)
	defer q.dispose()

	var (
		wg        sync.WaitGroup
		allocated atomic.Int64
		verified  atomic.Int64
		failed    atomic.Int64
	)
	consume := func() {
		defer wg.Done()
		h, err := q.pop()
		if err != nil {
			failed.Add(1)
			return
		}
		if err := checkStamp(ctx, g, h); err != nil {
			failed.Add(1)
		} else {
			verified.Add(1)
		}
		_ = g.Release(h)
		_ = h.Close()
	}
	produce := func(i int) func() {
		return func() {
			defer wg.Done()
			h, err := allocateWithRetry(ctx, g, opts.desc)
			if err != nil {
				failed.Add(1)
				return
			}
			allocated.Add(1)
			if err := stamp(ctx, g, h, byte(i)); err != nil {
				failed.Add(1)
				_ = g.Release(h)
				_ = h.Close()
				return
			}
			if err := q.put(h); err != nil {
				failed.Add(1)
				_ = g.Release(h)
				_ = h.Close()
				return
			}
			wg.Add(1)
			if err := consumers.Submit(consume); err != nil {
				wg.Done()
				failed.Add(1)
			}
		}
	}

	start := time.Now()
	for i := 0; i < opts.buffers; i++ {
		wg.Add(1)
		if err := producers.Submit(produce(i)); err != nil {
			wg.Done()
			failed.Add(1)
		}
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	res.allocated = allocated.Load()
	res.verified = verified.Load()
	res.failed = failed.Load()
	return res, nil
}

func allocateWithRetry(ctx context.Context, g api.Gralloc, desc gralloc.BufferDescriptor) (*gralloc.Handle, error) {
	var h *gralloc.Handle
	op := func() error {
		var err error
		h, err = g.Allocate(ctx, desc)
		if err != nil && !errors.Is(err, gralloc.ErrAllocationFailed) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return h, nil
}

// stamp writes v as the first and last byte of plane 0.
func stamp(ctx context.Context, g api.Gralloc, h *gralloc.Handle, v byte) error {
	planes, err := g.Lock(ctx, h, fence.NoFence, false, drv.Rect{}, drv.MapWrite)
	if err != nil {
		return err
	}
	p := planes[0]
	p[0] = v
	p[len(p)-1] = v
	_, err = g.Unlock(ctx, h)
	return err
}

func checkStamp(ctx context.Context, g api.Gralloc, h *gralloc.Handle) error {
	planes, err := g.Lock(ctx, h, fence.NoFence, false, drv.Rect{}, drv.MapRead)
	if err != nil {
		return err
	}
	p := planes[0]
	ok := p[0] == p[len(p)-1]
	if _, err := g.Unlock(ctx, h); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("buffer %d: stamp mismatch", h.ID)
	}
	return nil
}
