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
	"testing"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phreer/celadon-minigbm/pkg/drv"
	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

func TestHandleQueue(t *testing.T) {
	q := newHandleQueue(4)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.put(&gralloc.Handle{ID: i}))
	}
	assert.Equal(t, 3, q.len())
	for i := uint64(1); i <= 3; i++ {
		h, err := q.pop()
		require.NoError(t, err)
		assert.Equal(t, i, h.ID)
	}
	q.dispose()
	_, err := q.pop()
	assert.ErrorIs(t, err, queuepkg.ErrDisposed)
}

func TestParseUsage(t *testing.T) {
	use, err := parseUsage([]string{"scanout", "texture"})
	require.NoError(t, err)
	assert.Equal(t, drv.UseScanout|drv.UseTexture, use)

	_, err = parseUsage([]string{"teleport"})
	assert.Error(t, err)
}

func TestParseFourcc(t *testing.T) {
	f, err := parseFourcc("NV12")
	require.NoError(t, err)
	assert.Equal(t, drv.FormatNV12, f)

	_, err = parseFourcc("RGB")
	assert.Error(t, err)
}
