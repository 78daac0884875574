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
	"time"

	"github.com/google/uuid"
)

// ID is the opaque 128-bit identifier naming a logical index for the life of
// the store.
type ID = uuid.UUID

// MetadataRecord is the per-index descriptor persisted in the meta database.
// Field names follow the camelCase convention fixed by the wire schema.
type MetadataRecord struct {
	UUID       ID        `json:"uuid"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	PrimaryKey *string   `json:"primaryKey,omitempty"`
}

// Document is an opaque, attribute-addressable search result row. Its shape
// is owned by the search engine collaborator; the actor never inspects it.
type Document map[string]interface{}

// SearchQuery is the opaque query payload handed to the search engine
// collaborator.
type SearchQuery struct {
	Raw   string
	Attrs []string
}

// SearchResult is the opaque reply from a search-engine collaborator.
type SearchResult struct {
	Hits  []Document
	Total int
}

// Settings describes the engine-reported configuration of a live index.
type Settings struct {
	PrimaryKey *string
	Raw        map[string]interface{}
}

// ProcessingMeta describes a pending document-ingestion or settings-change
// update, as produced by the out-of-scope update queue.
type ProcessingMeta struct {
	UpdateID uint64
	IndexID  ID
	Kind     string
}

// UpdateResult describes the applied outcome of an update.
type UpdateResult struct {
	Processed bool
	Detail    string
}

func idFromString(s string) (ID, error) {
	return uuid.Parse(s)
}

func uuidFromBytes(b []byte) (ID, error) {
	return uuid.FromBytes(b)
}
