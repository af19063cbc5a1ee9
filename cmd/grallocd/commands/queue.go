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
	"fmt"

	queuepkg "github.com/Workiva/go-datastructures/queue"

	"github.com/phreer/celadon-minigbm/pkg/gralloc"
)

// handleQueue hands allocated buffers from producers to consumers.
type handleQueue struct {
	q *queuepkg.Queue
}

func newHandleQueue(hint int) *handleQueue {
	return &handleQueue{q: queuepkg.New(int64(hint))}
}

func (q *handleQueue) put(h *gralloc.Handle) error {
	return q.q.Put(h)
}

// pop blocks until a handle is queued or the queue is disposed.
func (q *handleQueue) pop() (*gralloc.Handle, error) {
	items, err := q.q.Get(1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, queuepkg.ErrDisposed
	}
	h, ok := items[0].(*gralloc.Handle)
	if !ok {
		return nil, fmt.Errorf("invalid queue element type %T", items[0])
	}
	return h, nil
}

func (q *handleQueue) len() int { return int(q.q.Len()) }

func (q *handleQueue) dispose() { q.q.Dispose() }
