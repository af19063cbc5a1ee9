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
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/phreer/celadon-minigbm/adapter"
	"github.com/phreer/celadon-minigbm/internal/logging"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

var (
	listenAddr    string
	handleSocket  string
	probeInterval time.Duration
	maxMapped     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the allocator with metrics and health endpoints",
	Long: `Run the allocator and serve /metrics, /live and /ready over HTTP.

With --socket, handles sent over the unix socket are retained for as long
as the sending connection stays open.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9464", "HTTP listen address")
	serveCmd.Flags().StringVar(&handleSocket, "socket", "", "unix socket accepting handles")
	serveCmd.Flags().DurationVar(&probeInterval, "probe-interval", 10*time.Second, "allocation probe interval")
	serveCmd.Flags().IntVar(&maxMapped, "max-mapped", 0, "readiness fails above this many mapped buffers")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.New("grallocd")
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config.Registerer = prometheus.DefaultRegisterer
	d, err := gralloc.New(config)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := adapter.NewHealthHandler(d, adapter.HealthOptions{
		Registerer:    prometheus.DefaultRegisterer,
		Namespace:     "grallocd",
		MaxGoroutines: 10000,
		MaxMapped:     maxMapped,
		ProbeInterval: probeInterval,
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	srv := &http.Server{Addr: listenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if handleSocket != "" {
		stopBroker, err := startBroker(ctx, d, handleSocket, log)
		if err != nil {
			return err
		}
		defer stopBroker()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("serving on %s", listenAddr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	stats := d.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "shutdown: %d buffers, %d handles\n", stats.Buffers, stats.Handles)
	return err
}
