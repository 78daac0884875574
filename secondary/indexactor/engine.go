// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

// Package indexactor implements the concurrency-serialization core in front
// of a collection of memory-mapped, per-index search engines: message
// routing, the read/write lane split, the live-index cache, and the
// transactional metadata store. The search engine itself, and the
// transactional key-value engine it is built on, are external collaborators
// whose interfaces are fixed here but whose implementations live outside
// this package.
package indexactor

import "os"

// Index is the collaborator interface implemented by the search engine. All
// of its methods may block and must only be invoked through a Bridge.
type Index interface {
	PerformSearch(query SearchQuery) (SearchResult, error)
	RetrieveDocuments(offset, limit int, attrs []string) ([]Document, error)
	RetrieveDocument(docID string, attrs []string) (Document, error)
	Settings() (Settings, error)

	// PrepareForClosing begins releasing the index's memory map and returns
	// a channel that is closed once the release has completed.
	PrepareForClosing() <-chan struct{}
}

// IndexOpener opens (creating on first use) the engine index living at path,
// sized to mapSize bytes. It is the collaborator responsible for the engine
// environment underneath a single logical index.
type IndexOpener interface {
	Open(path string, mapSize int64) (Index, error)
}

// UpdateHandler applies a document-ingestion or settings-change update to an
// index, given the data file produced by the out-of-scope update queue.
type UpdateHandler interface {
	HandleUpdate(meta ProcessingMeta, data *os.File, idx Index) (UpdateResult, error)
}
