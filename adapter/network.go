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
	"net"
	"os"

	"github.com/phreer/celadon-minigbm/api"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

// HandleConn carries handles over a SOCK_SEQPACKET unix socket.
type HandleConn struct {
	conn *net.UnixConn
}

var _ api.HandleTransport = (*HandleConn)(nil)

// NewHandleConn wraps an established unixpacket connection.
func NewHandleConn(conn *net.UnixConn) *HandleConn { return &HandleConn{conn: conn} }

// DialHandles connects to a handle listener at path.
func DialHandles(path string) (*HandleConn, error) {
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, err
	}
	return NewHandleConn(conn), nil
}

func (c *HandleConn) Send(h *gralloc.Handle) error { return gralloc.WriteHandle(c.conn, h) }

func (c *HandleConn) Receive() (*gralloc.Handle, error) { return gralloc.ReadHandle(c.conn) }

func (c *HandleConn) Close() error { return c.conn.Close() }

// HandleListener accepts handle connections on a unix socket path.
type HandleListener struct {
	l    *net.UnixListener
	path string
}

// ListenHandles listens at path, replacing a stale socket file.
func ListenHandles(path string) (*HandleListener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, err
	}
	return &HandleListener{l: l, path: path}, nil
}

func (l *HandleListener) Accept() (*HandleConn, error) {
	conn, err := l.l.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return NewHandleConn(conn), nil
}

func (l *HandleListener) Addr() string { return l.path }

func (l *HandleListener) Close() error { return l.l.Close() }
