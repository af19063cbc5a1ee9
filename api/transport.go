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

package api

import "github.com/phreer/celadon-minigbm/pkg/gralloc"

// HandleTransport moves handles between processes. Send does not take
// ownership of the handle; Receive returns a handle owning its descriptors.
type HandleTransport interface {
	Send(h *gralloc.Handle) error
	Receive() (*gralloc.Handle, error)
	Close() error
}
