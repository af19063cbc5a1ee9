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

package adapter

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

const instrumentationName = "github.com/phreer/celadon-minigbm"

// Instrument points the driver configuration at the given OpenTelemetry
// providers. Nil providers leave the corresponding hook untouched.
func Instrument(config *gralloc.Config, mp metric.MeterProvider, tp trace.TracerProvider) {
	if mp != nil {
		config.Meter = mp.Meter(instrumentationName)
	}
	if tp != nil {
		config.Tracer = tp.Tracer(instrumentationName)
	}
}
