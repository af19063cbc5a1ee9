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

// Package adapter connects the gralloc driver to monitoring, tracing and
// inter-process transports.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/phreer/celadon-minigbm/api"
	"github.com/phreer/celadon-minigbm/internal/fence"
	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

// HealthOptions tune the checks installed by NewHealthHandler.
type HealthOptions struct {
	// Registerer exports check results as metrics when set.
	Registerer prometheus.Registerer
	// Namespace prefixes the check metrics.
	Namespace string
	// MaxGoroutines fails liveness above this count, 0 disables the check.
	MaxGoroutines int
	// MaxMapped fails readiness when more buffers are mapped, 0 disables it.
	MaxMapped int
	// ProbeInterval runs the allocation probe in the background at this
	// interval. The probe runs on every request when zero.
	ProbeInterval time.Duration
	// ProbeTimeout bounds one allocation probe.
	ProbeTimeout time.Duration
}

// ProbeDescriptor is the buffer allocated by the readiness probe.
var ProbeDescriptor = gralloc.BufferDescriptor{
	Width:  64,
	Height: 64,
	Format: drv.FormatXRGB8888,
	Usage:  drv.UseSWReadRarely | drv.UseSWWriteRarely,
	Name:   "health-probe",
}

// NewHealthHandler returns live and ready endpoints for a driver. Readiness
// allocates, locks and releases ProbeDescriptor.
func NewHealthHandler(g api.Gralloc, opts HealthOptions) healthcheck.Handler {
	var h healthcheck.Handler
	if opts.Registerer != nil {
		h = healthcheck.NewMetricsHandler(opts.Registerer, opts.Namespace)
	} else {
		h = healthcheck.NewHandler()
	}
	if opts.MaxGoroutines > 0 {
		h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	probe := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), opts.ProbeTimeout)
		defer cancel()
		return Probe(ctx, g, backoff.NewExponentialBackOff())
	}
	check := healthcheck.Timeout(probe, opts.ProbeTimeout)
	if opts.ProbeInterval > 0 {
		check = healthcheck.Async(check, opts.ProbeInterval)
	}
	h.AddReadinessCheck("allocation-probe", check)
	if opts.MaxMapped > 0 {
		h.AddReadinessCheck("mapped-buffers", func() error {
			if n := g.Stats().Mapped; n > opts.MaxMapped {
				return fmt.Errorf("%d buffers mapped, limit %d", n, opts.MaxMapped)
			}
			return nil
		})
	}
	return h
}

// Probe allocates ProbeDescriptor, writes through a CPU mapping and
// releases it. Failed allocations are retried following b until ctx ends;
// any other failure is returned at once.
func Probe(ctx context.Context, g api.Gralloc, b backoff.BackOff) error {
	var h *gralloc.Handle
	op := func() error {
		var err error
		h, err = g.Allocate(ctx, ProbeDescriptor)
		if err != nil && !errors.Is(err, gralloc.ErrAllocationFailed) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return err
	}
	defer h.Close()
	defer g.Release(h) //nolint:errcheck

	planes, err := g.Lock(ctx, h, fence.NoFence, false, drv.Rect{}, drv.MapWrite)
	if err != nil {
		return err
	}
	planes[0][0] = 0xff
	_, err = g.Unlock(ctx, h)
	return err
}
