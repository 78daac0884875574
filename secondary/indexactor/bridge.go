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

	"github.com/sourcegraph/conc/panics"
)

// Bridge runs synchronous, potentially blocking engine calls on a bounded
// worker pool and surfaces their result to an async caller. Every engine
// call that may block — open, read, write, transaction commit, search,
// document retrieval, settings read — goes through a Bridge.
type Bridge struct {
	sem chan struct{}
}

// NewBridge builds a Bridge whose worker pool admits at most capacity
// concurrently-running blocking calls.
func NewBridge(capacity int) *Bridge {
	if capacity < 1 {
		capacity = 1
	}
	return &Bridge{sem: make(chan struct{}, capacity)}
}

type bridgeResult[T any] struct {
	val T
	err error
}

// RunBlocking runs fn on the bridge's worker pool and suspends the calling
// goroutine until it completes or ctx is cancelled. A panic inside fn is
// recovered and reported as an *InternalError rather than killing the
// worker (and, with it, every other in-flight request). Cancelling ctx only
// stops the caller from waiting; it does not abort fn, which keeps running
// and still eventually releases its pool slot, matching the engine's own
// inability to cancel mid-flight I/O.
func RunBlocking[T any](ctx context.Context, b *Bridge, fn func() (T, error)) (T, error) {
	var zero T

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	resultCh := make(chan bridgeResult[T], 1)
	go func() {
		defer func() { <-b.sem }()

		var v T
		var err error
		var catcher panics.Catcher
		catcher.Try(func() {
			v, err = fn()
		})
		if r := catcher.Recovered(); r != nil {
			err = WrapInternal(r.AsError())
		}
		resultCh <- bridgeResult[T]{val: v, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
