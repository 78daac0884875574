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
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// actor consumes the two message streams (read-lane, write-lane) and
// dispatches each to the store, applying lane-specific concurrency: up to
// readConcurrency read-lane handlers run overlapped, while the write lane is
// processed strictly one message at a time by default (writeConcurrency=1).
type actor struct {
	store   *Store
	updater UpdateHandler

	readCh  <-chan request
	writeCh <-chan request

	readConcurrency  int
	writeConcurrency int

	log *logrus.Entry
}

// run drains both lanes concurrently until both channels are closed, at
// which point it waits for every in-flight handler to finish before
// returning.
func (a *actor) run(ctx context.Context) {
	var lanes sync.WaitGroup
	lanes.Add(2)
	go func() { defer lanes.Done(); a.drain(ctx, a.readCh, a.readConcurrency) }()
	go func() { defer lanes.Done(); a.drain(ctx, a.writeCh, a.writeConcurrency) }()
	lanes.Wait()
}

func (a *actor) drain(ctx context.Context, ch <-chan request, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var inFlight sync.WaitGroup
	for msg := range ch {
		sem <- struct{}{}
		inFlight.Add(1)
		go func(m request) {
			defer inFlight.Done()
			defer func() { <-sem }()
			a.dispatch(ctx, m)
		}(msg)
	}
	inFlight.Wait()
}

func (a *actor) dispatch(ctx context.Context, m request) {
	switch req := m.(type) {
	case createIndexReq:
		meta, err := a.store.CreateIndex(ctx, req.id, req.primaryKey)
		req.reply <- createIndexReply{meta: meta, err: err}

	case updateReq:
		result, err := a.handleUpdate(ctx, req.meta, req.data)
		req.reply <- updateReply{result: result, err: err}

	case searchReq:
		result, err := a.handleSearch(ctx, req.id, req.query)
		req.reply <- searchReply{result: result, err: err}

	case settingsReq:
		settings, err := a.handleSettings(ctx, req.id)
		req.reply <- settingsReply{settings: settings, err: err}

	case documentsReq:
		docs, err := a.handleDocuments(ctx, req.id, req.offset, req.limit, req.attrs)
		req.reply <- documentsReply{docs: docs, err: err}

	case documentReq:
		doc, err := a.handleDocument(ctx, req.id, req.docID, req.attrs)
		req.reply <- documentReply{doc: doc, err: err}

	case deleteReq:
		err := a.store.Delete(ctx, req.id)
		req.reply <- deleteReply{err: err}

	case getMetaReq:
		meta, err := a.store.GetMeta(ctx, req.id)
		req.reply <- getMetaReply{meta: meta, err: err}

	default:
		a.log.WithField("type", m).Error("unknown request variant dispatched to actor")
	}
}

// handleUpdate resolves (or auto-creates, per Q1) the target index and runs
// the injected UpdateHandler against it on a blocking worker, between the
// meta read and the updated_at bump that UpdateIndex performs.
func (a *actor) handleUpdate(ctx context.Context, meta ProcessingMeta, data *os.File) (UpdateResult, error) {
	return a.store.UpdateIndex(ctx, meta.IndexID, func(idx Index) (UpdateResult, error) {
		return a.updater.HandleUpdate(meta, data, idx)
	})
}

func (a *actor) handleSearch(ctx context.Context, id ID, query SearchQuery) (SearchResult, error) {
	h, ok, err := a.store.Get(ctx, id)
	if err != nil {
		return SearchResult{}, err
	}
	if !ok {
		return SearchResult{}, ErrUnexistingIndex
	}
	defer h.Drop()
	return RunBlocking(ctx, a.store.bridge, func() (SearchResult, error) {
		r, err := h.Index().PerformSearch(query)
		return r, WrapEngine(err)
	})
}

func (a *actor) handleSettings(ctx context.Context, id ID) (Settings, error) {
	h, ok, err := a.store.Get(ctx, id)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return Settings{}, ErrUnexistingIndex
	}
	defer h.Drop()
	return RunBlocking(ctx, a.store.bridge, func() (Settings, error) {
		s, err := h.Index().Settings()
		return s, WrapEngine(err)
	})
}

func (a *actor) handleDocuments(ctx context.Context, id ID, offset, limit int, attrs []string) ([]Document, error) {
	h, ok, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnexistingIndex
	}
	defer h.Drop()
	if limit == 0 {
		return []Document{}, nil
	}
	return RunBlocking(ctx, a.store.bridge, func() ([]Document, error) {
		docs, err := h.Index().RetrieveDocuments(offset, limit, attrs)
		return docs, WrapEngine(err)
	})
}

func (a *actor) handleDocument(ctx context.Context, id ID, docID string, attrs []string) (Document, error) {
	h, ok, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnexistingIndex
	}
	defer h.Drop()
	return RunBlocking(ctx, a.store.bridge, func() (Document, error) {
		doc, err := h.Index().RetrieveDocument(docID, attrs)
		return doc, WrapEngine(err)
	})
}
