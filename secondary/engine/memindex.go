// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

// Package engine provides a minimal, in-memory stand-in for the search
// engine collaborator the indexactor package depends on but does not
// implement (tokenization, ranking, and inverted-index internals are
// explicitly out of this repository's scope). It exists only so the
// indexactor CLI has something concrete to open, and so tests can exercise
// the actor end to end without a real mmap-backed engine.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/couchbase/indexactor/secondary/indexactor"
)

// MemIndex is a trivial document store: a map keyed by each document's
// "_id" string (or the id passed to Put), persisted as a single JSON file
// under the index directory it
// was opened at. It is not a search engine — PerformSearch does a naive
// substring scan — and is not meant to be one.
type MemIndex struct {
	path string

	mu       sync.RWMutex
	docs     map[string]indexactor.Document
	order    []string
	settings indexactor.Settings

	closing chan struct{}
}

var _ indexactor.Index = (*MemIndex)(nil)

type memIndexFile struct {
	Settings indexactor.Settings   `json:"settings"`
	Docs     []indexactor.Document `json:"docs"`
}

const dataFileName = "docs.json"

// MemOpener implements indexactor.IndexOpener by creating or reopening a
// MemIndex at the given path. mapSize is accepted for interface
// compatibility and otherwise unused: an in-memory stand-in has no mmap to
// size.
type MemOpener struct{}

var _ indexactor.IndexOpener = MemOpener{}

func (MemOpener) Open(path string, mapSize int64) (indexactor.Index, error) {
	idx := &MemIndex{
		path:    path,
		docs:    make(map[string]indexactor.Document),
		closing: make(chan struct{}),
	}

	data, err := os.ReadFile(filepath.Join(path, dataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("read index data file: %w", err)
	}

	var file memIndexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode index data file: %w", err)
	}
	idx.settings = file.Settings
	for i, doc := range file.Docs {
		id := docKey(doc, i)
		idx.docs[id] = doc
		idx.order = append(idx.order, id)
	}
	return idx, nil
}

func docKey(doc indexactor.Document, fallback int) string {
	if v, ok := doc["_id"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return strconv.Itoa(fallback)
}

func (idx *MemIndex) persist() error {
	idx.mu.RLock()
	file := memIndexFile{Settings: idx.settings, Docs: make([]indexactor.Document, 0, len(idx.order))}
	for _, id := range idx.order {
		file.Docs = append(file.Docs, idx.docs[id])
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(file)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(idx.path, dataFileName), data, 0o644)
}

// Put inserts or replaces a document and persists the index. It is called
// by a real UpdateHandler implementation, not by the indexactor package.
func (idx *MemIndex) Put(doc indexactor.Document, id string) error {
	idx.mu.Lock()
	if _, exists := idx.docs[id]; !exists {
		idx.order = append(idx.order, id)
	}
	idx.docs[id] = doc
	idx.mu.Unlock()
	return idx.persist()
}

// SetSettings replaces the index's reported settings and persists them.
func (idx *MemIndex) SetSettings(s indexactor.Settings) error {
	idx.mu.Lock()
	idx.settings = s
	idx.mu.Unlock()
	return idx.persist()
}

func (idx *MemIndex) PerformSearch(query indexactor.SearchQuery) (indexactor.SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	needle := strings.ToLower(query.Raw)
	var hits []indexactor.Document
	for _, id := range idx.order {
		doc := idx.docs[id]
		if needle == "" || documentContains(doc, needle) {
			hits = append(hits, doc)
		}
	}
	return indexactor.SearchResult{Hits: hits, Total: len(hits)}, nil
}

func documentContains(doc indexactor.Document, needle string) bool {
	for _, v := range doc {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func (idx *MemIndex) RetrieveDocuments(offset, limit int, attrs []string) ([]indexactor.Document, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if limit == 0 || offset >= len(idx.order) {
		return []indexactor.Document{}, nil
	}
	end := offset + limit
	if end > len(idx.order) {
		end = len(idx.order)
	}
	out := make([]indexactor.Document, 0, end-offset)
	for _, id := range idx.order[offset:end] {
		out = append(out, projectAttrs(idx.docs[id], attrs))
	}
	return out, nil
}

func (idx *MemIndex) RetrieveDocument(docID string, attrs []string) (indexactor.Document, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	doc, ok := idx.docs[docID]
	if !ok {
		return nil, fmt.Errorf("document %q not found", docID)
	}
	return projectAttrs(doc, attrs), nil
}

func projectAttrs(doc indexactor.Document, attrs []string) indexactor.Document {
	if len(attrs) == 0 {
		return doc
	}
	out := make(indexactor.Document, len(attrs))
	for _, a := range attrs {
		if v, ok := doc[a]; ok {
			out[a] = v
		}
	}
	return out
}

func (idx *MemIndex) Settings() (indexactor.Settings, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.settings, nil
}

func (idx *MemIndex) PrepareForClosing() <-chan struct{} {
	close(idx.closing)
	return idx.closing
}

// NoopUpdateHandler applies an update by decoding newline-delimited JSON
// documents from the data file and writing them into a MemIndex.
type NoopUpdateHandler struct{}

var _ indexactor.UpdateHandler = NoopUpdateHandler{}

func (NoopUpdateHandler) HandleUpdate(meta indexactor.ProcessingMeta, data *os.File, idx indexactor.Index) (indexactor.UpdateResult, error) {
	mem, ok := idx.(*MemIndex)
	if !ok {
		return indexactor.UpdateResult{}, fmt.Errorf("engine: unsupported index implementation %T", idx)
	}

	decoder := json.NewDecoder(data)
	count := 0
	for decoder.More() {
		var doc indexactor.Document
		if err := decoder.Decode(&doc); err != nil {
			return indexactor.UpdateResult{}, fmt.Errorf("decode update payload: %w", err)
		}
		id := docKey(doc, count)
		if err := mem.Put(doc, id); err != nil {
			return indexactor.UpdateResult{}, err
		}
		count++
	}

	sort.Strings(mem.order)
	return indexactor.UpdateResult{Processed: true, Detail: fmt.Sprintf("applied %d documents", count)}, nil
}
