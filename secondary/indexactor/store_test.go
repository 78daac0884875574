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
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOpener struct {
	opened []string
}

func (o *stubOpener) Open(path string, mapSize int64) (Index, error) {
	o.opened = append(o.opened, path)
	return newStubIndex(), nil
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.RootPath = t.TempDir()
	return cfg
}

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) (*Store, *stubOpener) {
	t.Helper()
	opener := &stubOpener{}
	s, err := NewStore(testConfig(t), opener, discardLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, opener
}

func TestStore_CreateIndex_DuplicateRejected(t *testing.T) {
	s, _ := newTestStore(t)
	id := uuid.New()

	meta, err := s.CreateIndex(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, id, meta.UUID)

	_, err = s.CreateIndex(context.Background(), id, nil)
	assert.ErrorIs(t, err, ErrIndexAlreadyExists)
}

func TestStore_Get_UnknownIndexReturnsFalse(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok, err := s.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Get_ReturnsCachedHandleAfterCreate(t *testing.T) {
	s, opener := newTestStore(t)
	id := uuid.New()

	_, err := s.CreateIndex(context.Background(), id, nil)
	require.NoError(t, err)

	h, ok, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	defer h.Drop()

	assert.Len(t, opener.opened, 1, "Get should reuse the cached handle rather than reopening")
}

func TestStore_Delete_IsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	id := uuid.New()

	_, err := s.CreateIndex(context.Background(), id, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), id))
	require.NoError(t, s.Delete(context.Background(), id), "deleting twice must not error")

	_, ok, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetMeta_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	id := uuid.New()
	pk := "sku"

	created, err := s.CreateIndex(context.Background(), id, &pk)
	require.NoError(t, err)

	meta, err := s.GetMeta(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, created.UUID, meta.UUID)
	assert.Equal(t, pk, *meta.PrimaryKey)
}

func TestStore_GetMeta_MissingReturnsNilNil(t *testing.T) {
	s, _ := newTestStore(t)

	meta, err := s.GetMeta(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestStore_UpdateIndex_AutoCreatesOnCacheMiss(t *testing.T) {
	s, _ := newTestStore(t)
	id := uuid.New()

	result, err := s.UpdateIndex(context.Background(), id, func(Index) (UpdateResult, error) {
		return UpdateResult{Processed: true}, nil
	})
	require.NoError(t, err)
	assert.True(t, result.Processed)

	meta, err := s.GetMeta(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Nil(t, meta.PrimaryKey)
}

func TestStore_UpdateIndex_FailureLeavesMetaUntouched(t *testing.T) {
	s, _ := newTestStore(t)
	id := uuid.New()

	_, err := s.CreateIndex(context.Background(), id, nil)
	require.NoError(t, err)
	before, err := s.GetMeta(context.Background(), id)
	require.NoError(t, err)

	wantErr := assert.AnError
	_, err = s.UpdateIndex(context.Background(), id, func(Index) (UpdateResult, error) {
		return UpdateResult{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	after, err := s.GetMeta(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestStore_Get_ConcurrentCacheMissResultsInExactlyOneOnDiskOpen(t *testing.T) {
	s, opener := newTestStore(t)
	id := uuid.New()

	// Simulate a cache miss with an index already on disk, e.g. right after
	// process restart: the directory exists but nothing has populated the
	// in-memory cache yet.
	require.NoError(t, s.fs.MkdirAll(s.indexPath(id), 0o755))

	const n = 20
	var wg sync.WaitGroup
	handles := make([]IndexHandle, n)
	errs := make([]error, n)
	oks := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, ok, err := s.Get(context.Background(), id)
			handles[i], oks[i], errs[i] = h, ok, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, oks[i])
		handles[i].Drop()
	}

	assert.Equal(t, int64(1), s.OpenCount(), "B3: a cache miss followed by N concurrent Get calls must open the index exactly once")
	assert.Len(t, opener.opened, 1)
}

func TestReconcileOrphans_RemovesDirectoriesWithNoMetaRecord(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/indexes"
	known := uuid.New()
	orphan := uuid.New()

	require.NoError(t, fs.MkdirAll(filepath.Join(root, indexDirPrefix+known.String()), 0o755))
	require.NoError(t, fs.MkdirAll(filepath.Join(root, indexDirPrefix+orphan.String()), 0o755))

	require.NoError(t, reconcileOrphans(fs, root, map[ID]struct{}{known: {}}, discardLog()))

	knownExists, err := afero.DirExists(fs, filepath.Join(root, indexDirPrefix+known.String()))
	require.NoError(t, err)
	assert.True(t, knownExists)

	orphanExists, err := afero.DirExists(fs, filepath.Join(root, indexDirPrefix+orphan.String()))
	require.NoError(t, err)
	assert.False(t, orphanExists)
}

func TestReconcileOrphans_IgnoresNonIndexEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/indexes"
	require.NoError(t, fs.MkdirAll(filepath.Join(root, "not-an-index-dir"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(root, "stray-file"), []byte("x"), 0o644))

	require.NoError(t, reconcileOrphans(fs, root, map[ID]struct{}{}, discardLog()))

	exists, err := afero.DirExists(fs, filepath.Join(root, "not-an-index-dir"))
	require.NoError(t, err)
	assert.True(t, exists, "non index- prefixed entries must be left alone")
}
