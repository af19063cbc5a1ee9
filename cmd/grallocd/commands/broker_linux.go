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

package commands

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/phreer/celadon-minigbm/adapter"
	"github.com/phreer/celadon-minigbm/internal/logging"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

// startBroker accepts handle connections on path. Every handle received is
// retained until its connection closes. The returned func stops the
// listener and waits for the connections to drain.
func startBroker(ctx context.Context, d *gralloc.Driver, path string, log *logging.Logger) (func(), error) {
	l, err := adapter.ListenHandles(path)
	if err != nil {
		return nil, err
	}
	log.Infof("accepting handles on %s", l.Addr())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		stopped bool
		conns   = make(map[*adapter.HandleConn]struct{})
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			c, err := l.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Warnf("accept: %v", err)
				}
				return
			}
			mu.Lock()
			if stopped {
				mu.Unlock()
				_ = c.Close()
				return
			}
			conns[c] = struct{}{}
			wg.Add(1)
			mu.Unlock()
			go func() {
				defer wg.Done()
				holdHandles(ctx, d, c, log)
				mu.Lock()
				delete(conns, c)
				mu.Unlock()
			}()
		}
	}()

	stop := func() {
		_ = l.Close()
		mu.Lock()
		stopped = true
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
		wg.Wait()
	}
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	return stop, nil
}

// holdHandles retains each handle read from c and releases them all once
// the peer disconnects.
func holdHandles(ctx context.Context, d *gralloc.Driver, c *adapter.HandleConn, log *logging.Logger) {
	var held []*gralloc.Handle
	defer func() {
		for _, h := range held {
			if err := d.Release(h); err != nil {
				log.Warnf("release %d: %v", h.ID, err)
			}
			h.Close()
		}
		_ = c.Close()
	}()
	for {
		h, err := c.Receive()
		if err != nil {
			log.Debugf("handle connection closed: %v", err)
			return
		}
		if err := d.Retain(ctx, h); err != nil {
			log.Warnf("retain %d: %v", h.ID, err)
			h.Close()
			continue
		}
		log.Debugf("holding buffer %d (%s)", h.ID, h.Name)
		held = append(held, h)
	}
}
