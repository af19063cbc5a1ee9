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
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/phreer/celadon-minigbm/pkg/gralloc"

type metrics struct {
	allocations        *prometheus.CounterVec
	allocationFailures prometheus.Counter
	imports            prometheus.Counter
	locks              prometheus.Counter
	fenceTimeouts      prometheus.Counter
	liveBuffers        prometheus.Gauge
	liveHandles        prometheus.Gauge
	mappedBuffers      prometheus.Gauge

	fenceWait metric.Float64Histogram
}

func newMetrics(reg prometheus.Registerer, meter metric.Meter) (*metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	m := &metrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gralloc_allocations_total",
			Help: "Buffers allocated, by backend.",
		}, []string{"backend"}),
		allocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gralloc_allocation_failures_total",
			Help: "Allocations rejected by a backend.",
		}),
		imports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gralloc_imports_total",
			Help: "Backing stores imported from foreign handles.",
		}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gralloc_locks_total",
			Help: "Successful CPU locks.",
		}),
		fenceTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gralloc_fence_timeouts_total",
			Help: "Locks failed because the acquire fence did not signal.",
		}),
		liveBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gralloc_live_buffers",
			Help: "Buffers currently registered.",
		}),
		liveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gralloc_live_handles",
			Help: "Handles currently retained.",
		}),
		mappedBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gralloc_mapped_buffers",
			Help: "Buffers currently mapped for CPU access.",
		}),
	}
	var err error
	if m.allocations, err = register(reg, m.allocations); err != nil {
		return nil, err
	}
	for _, c := range []*prometheus.Counter{&m.allocationFailures, &m.imports, &m.locks, &m.fenceTimeouts} {
		if *c, err = register(reg, *c); err != nil {
			return nil, err
		}
	}
	for _, g := range []*prometheus.Gauge{&m.liveBuffers, &m.liveHandles, &m.mappedBuffers} {
		if *g, err = register(reg, *g); err != nil {
			return nil, err
		}
	}
	m.fenceWait, err = meter.Float64Histogram("gralloc.fence.wait",
		metric.WithDescription("Time spent waiting on acquire fences."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector already registered under
// the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observeFenceWait(ctx context.Context, d time.Duration) {
	m.fenceWait.Record(ctx, d.Seconds())
}

func defaultTracer(t trace.Tracer) trace.Tracer {
	if t == nil {
		return tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	return t
}
