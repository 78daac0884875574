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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIndex struct {
	closing chan struct{}
}

func newStubIndex() *stubIndex { return &stubIndex{closing: make(chan struct{})} }

func (s *stubIndex) PerformSearch(SearchQuery) (SearchResult, error)             { return SearchResult{}, nil }
func (s *stubIndex) RetrieveDocuments(int, int, []string) ([]Document, error)    { return nil, nil }
func (s *stubIndex) RetrieveDocument(string, []string) (Document, error)        { return nil, nil }
func (s *stubIndex) Settings() (Settings, error)                                 { return Settings{}, nil }
func (s *stubIndex) PrepareForClosing() <-chan struct{}                          { close(s.closing); return s.closing }

func TestIndexHandle_CloneDropRefcount(t *testing.T) {
	h := newIndexHandle(newStubIndex())
	assert.EqualValues(t, 1, h.refCount())

	clone := h.Clone()
	assert.EqualValues(t, 2, h.refCount())

	clone.Drop()
	assert.EqualValues(t, 1, h.refCount())
}

func TestWaitUntilSoleOwner_ReturnsImmediatelyWhenAlreadySole(t *testing.T) {
	h := newIndexHandle(newStubIndex())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, waitUntilSoleOwner(ctx, h))
}

func TestWaitUntilSoleOwner_WaitsForOutstandingClones(t *testing.T) {
	h := newIndexHandle(newStubIndex())
	clone := h.Clone()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- waitUntilSoleOwner(ctx, h)
	}()

	select {
	case err := <-done:
		t.Fatalf("waitUntilSoleOwner returned early with err=%v while a clone was still outstanding", err)
	case <-time.After(50 * time.Millisecond):
	}

	clone.Drop()
	require.NoError(t, <-done)
}

func TestWaitUntilSoleOwner_RespectsContextCancellation(t *testing.T) {
	h := newIndexHandle(newStubIndex())
	_ = h.Clone() // never dropped

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := waitUntilSoleOwner(ctx, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
