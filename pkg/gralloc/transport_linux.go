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

package gralloc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/phreer/celadon-minigbm/pkg/drv"
)

// WriteHandle sends h over a message oriented unix socket, passing its
// descriptors with SCM_RIGHTS. The caller keeps ownership of h.
func WriteHandle(conn *net.UnixConn, h *Handle) error {
	data, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	oob := unix.UnixRights(h.FDs()...)
	n, oobn, err := conn.WriteMsgUnix(data, oob, nil)
	if err != nil {
		return err
	}
	if n != len(data) || oobn != len(oob) {
		return fmt.Errorf("short handle write: %d/%d bytes, %d/%d control", n, len(data), oobn, len(oob))
	}
	return nil
}

// ReadHandle receives a handle written by WriteHandle. The returned handle
// owns the received descriptors and is not yet retained by any driver.
func ReadHandle(conn *net.UnixConn) (*Handle, error) {
	data := make([]byte, maxHandleSize)
	oob := make([]byte, unix.CmsgSpace(4*(drv.MaxPlanes+1)))
	n, oobn, flags, _, err := conn.ReadMsgUnix(data, oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			closeAll(fds)
			return nil, err
		}
		fds = append(fds, rights...)
	}
	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		closeAll(fds)
		return nil, fmt.Errorf("%w: truncated message", ErrInvalidHandle)
	}
	h, err := UnmarshalHandle(data[:n], fds)
	if err != nil {
		closeAll(fds)
		return nil, err
	}
	return h, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
