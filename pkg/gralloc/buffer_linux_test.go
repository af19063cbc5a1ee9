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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phreer/celadon-minigbm/internal/logging"
	"github.com/phreer/celadon-minigbm/pkg/drv"
)

// shortMapBackend hands out mappings smaller than the buffer object.
type shortMapBackend struct {
	drv.Backend
}

func (b shortMapBackend) Map(bo *drv.BufferObject, rect drv.Rect, flags drv.MapFlags) (*drv.Mapping, error) {
	return &drv.Mapping{Addr: make([]byte, 16), Rect: rect, Flags: flags}, nil
}

func TestBufferLockRejectsShortMapping(t *testing.T) {
	be := drv.NewMemfd(drv.Options{Name: "short"})
	defer be.Close()
	bo, err := be.Create(context.Background(), 64, 64, drv.FormatABGR8888, drv.UseSWReadOften)
	require.NoError(t, err)

	buf := newBuffer(bo, shortMapBackend{be}, "short", drv.FormatABGR8888, nil, logging.New("test"))
	planes, created, err := buf.lock(drv.Rect{}, drv.MapRead)
	require.ErrorIs(t, err, ErrMapFailed)
	require.Nil(t, planes)
	require.False(t, created)
	require.Nil(t, buf.mapping)
	require.Zero(t, buf.lockCount)
	require.Zero(t, buf.info().LockCount)

	wasMapped, err := buf.destroy()
	require.NoError(t, err)
	require.False(t, wasMapped)
}
