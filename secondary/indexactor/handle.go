// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package indexactor

import (
	"context"
	"sync/atomic"
	"time"
)

// IndexHandle is a shared-ownership reference to an opened Index. The cache
// holds one reference for as long as the index is live; every concurrent
// operation that needs the index clones the handle and drops it when done.
// The underlying Index is only safe to close once the reference count has
// dropped to one (see waitUntilSoleOwner), which the delete path uses to
// defer the engine's close-preparation until no handler is still using it.
type IndexHandle struct {
	core *handleCore
}

type handleCore struct {
	idx  Index
	refs atomic.Int32
}

// newIndexHandle wraps idx with an initial reference count of one, owned by
// whoever calls this (normally the store, on behalf of the live cache).
func newIndexHandle(idx Index) IndexHandle {
	c := &handleCore{idx: idx}
	c.refs.Store(1)
	return IndexHandle{core: c}
}

// Index returns the underlying collaborator. It is only valid to call while
// holding a reference (a Clone not yet Dropped).
func (h IndexHandle) Index() Index {
	return h.core.idx
}

// Clone increments the reference count and returns a new owning handle. The
// caller is responsible for calling Drop exactly once on the result.
func (h IndexHandle) Clone() IndexHandle {
	h.core.refs.Add(1)
	return h
}

// Drop releases one reference. It must be called exactly once per Clone
// (and once for the handle returned by newIndexHandle, when that owner is
// done with it).
func (h IndexHandle) Drop() {
	h.core.refs.Add(-1)
}

func (h IndexHandle) refCount() int32 {
	return h.core.refs.Load()
}

// waitUntilSoleOwner suspends until h's reference count reaches one, i.e.
// every other clone taken out while the index was still in the live cache
// has been dropped. It polls with capped exponential backoff rather than
// registering a drop-notifier, which keeps the accounting in handleCore
// lock-free; the wait never starves other goroutines since it only sleeps
// between checks.
func waitUntilSoleOwner(ctx context.Context, h IndexHandle) error {
	backoff := time.Millisecond
	const maxBackoff = 250 * time.Millisecond
	for h.refCount() > 1 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil
}
