//go:build linux

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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/phreer/celadon-minigbm/internal/fence"
	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
	"github.com/phreer/celadon-minigbm/pkg/shm"
)

type AdapterTestSuite struct {
	suite.Suite
	d *gralloc.Driver
}

func newDriver() (*gralloc.Driver, error) {
	config := gralloc.DefaultConfig()
	config.ReservedRegion = shm.ModeMemfd
	config.Registerer = prometheus.NewRegistry()
	Instrument(config, noop.NewMeterProvider(), tracenoop.NewTracerProvider())
	return gralloc.New(config)
}

func (s *AdapterTestSuite) SetupTest() {
	d, err := newDriver()
	s.Require().NoError(err)
	s.d = d
}

func (s *AdapterTestSuite) TearDownTest() {
	s.Require().NoError(s.d.Close())
}

func (s *AdapterTestSuite) TestHealthEndpoints() {
	h := NewHealthHandler(s.d, HealthOptions{
		Registerer:    prometheus.NewRegistry(),
		Namespace:     "gralloc",
		MaxGoroutines: 10000,
		MaxMapped:     4,
	})
	for _, path := range []string{"/live", "/ready"} {
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, path, nil))
		s.Require().Equal(http.StatusOK, rw.Code, path)
	}
	s.Require().Equal(gralloc.Stats{}, s.d.Stats())
}

func (s *AdapterTestSuite) TestReadinessFailsWhenTooManyMapped() {
	h := NewHealthHandler(s.d, HealthOptions{MaxMapped: 1})
	ctx := context.Background()
	var handles []*gralloc.Handle
	for i := 0; i < 2; i++ {
		hd, err := s.d.Allocate(ctx, ProbeDescriptor)
		s.Require().NoError(err)
		defer hd.Close()
		_, err = s.d.Lock(ctx, hd, fence.NoFence, false, drv.Rect{}, drv.MapRead)
		s.Require().NoError(err)
		handles = append(handles, hd)
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/ready", nil))
	s.Require().Equal(http.StatusServiceUnavailable, rw.Code)

	for _, hd := range handles {
		_, err := s.d.Unlock(ctx, hd)
		s.Require().NoError(err)
		s.Require().NoError(s.d.Release(hd))
	}
}

func (s *AdapterTestSuite) TestProbeStopsOnPermanentError() {
	s.Require().NoError(s.d.Close())
	err := Probe(context.Background(), s.d, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3))
	s.Require().True(errors.Is(err, gralloc.ErrClosed))
}

func (s *AdapterTestSuite) TestHandleConn() {
	path := filepath.Join(s.T().TempDir(), "handles.sock")
	l, err := ListenHandles(path)
	s.Require().NoError(err)
	defer l.Close()
	s.Require().Equal(path, l.Addr())

	ctx := context.Background()
	h, err := s.d.Allocate(ctx, ProbeDescriptor)
	s.Require().NoError(err)
	defer h.Close()

	received := make(chan *gralloc.Handle, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			close(received)
			return
		}
		defer conn.Close()
		got, err := conn.Receive()
		if err != nil {
			close(received)
			return
		}
		received <- got
	}()

	conn, err := DialHandles(path)
	s.Require().NoError(err)
	defer conn.Close()
	s.Require().NoError(conn.Send(h))

	got, ok := <-received
	s.Require().True(ok)
	defer got.Close()

	peer, err := newDriver()
	s.Require().NoError(err)
	defer peer.Close()
	s.Require().NoError(peer.Retain(ctx, got))
	id, err := peer.GetBackingStore(got)
	s.Require().NoError(err)
	s.Require().Equal(h.ID, id)
	s.Require().NoError(peer.Release(got))
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}
