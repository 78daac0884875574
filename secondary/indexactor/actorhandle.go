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

// ActorHandle is the external façade onto the actor: one method per request
// kind, each of which builds the matching variant, sends it on the
// appropriate lane (backpressure applies once the lane is full), and awaits
// the reply.
type ActorHandle struct {
	readCh  chan request
	writeCh chan request

	closeOnce sync.Once
	closed    chan struct{}
}

// NewActorHandle wires a Store and an UpdateHandler into a running actor and
// returns the handle callers use to reach it. ctx is handed to every
// handler; canceling it makes their pending bridge calls return ctx's error.
// The run loop itself exits only after Close has closed both lanes and every
// in-flight handler has finished.
func NewActorHandle(ctx context.Context, cfg Config, store *Store, updater UpdateHandler, log *logrus.Entry) *ActorHandle {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	readCh := make(chan request, cfg.ChannelCapacity)
	writeCh := make(chan request, cfg.ChannelCapacity)

	a := &actor{
		store:            store,
		updater:          updater,
		readCh:           readCh,
		writeCh:          writeCh,
		readConcurrency:  cfg.ReadConcurrency,
		writeConcurrency: cfg.WriteConcurrency,
		log:              log.WithField("component", "indexactor.actor"),
	}

	h := &ActorHandle{readCh: readCh, writeCh: writeCh, closed: make(chan struct{})}
	go func() {
		a.run(ctx)
		close(h.closed)
	}()
	return h
}

// Close tears down the actor's mailbox and blocks until the run loop has
// exited. Requests already queued on either lane are still dispatched and
// their replies delivered before it returns; any call issued after Close
// fails with ErrActorClosed.
func (h *ActorHandle) Close() {
	h.closeOnce.Do(func() {
		close(h.readCh)
		close(h.writeCh)
	})
	<-h.closed
}

func (h *ActorHandle) send(ctx context.Context, l lane, req request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrActorClosed
		}
	}()
	ch := h.readCh
	if l == laneWrite {
		ch = h.writeCh
	}
	select {
	case ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateIndex sends a CreateIndex request on the write lane.
func (h *ActorHandle) CreateIndex(ctx context.Context, id ID, primaryKey *string) (MetadataRecord, error) {
	reply := make(chan createIndexReply, 1)
	req := createIndexReq{id: id, primaryKey: primaryKey, reply: reply}
	if err := h.send(ctx, laneWrite, req); err != nil {
		return MetadataRecord{}, err
	}
	select {
	case r := <-reply:
		return r.meta, r.err
	case <-ctx.Done():
		return MetadataRecord{}, ctx.Err()
	}
}

// Update sends an Update request on the write lane.
func (h *ActorHandle) Update(ctx context.Context, meta ProcessingMeta, data *os.File) (UpdateResult, error) {
	reply := make(chan updateReply, 1)
	req := updateReq{meta: meta, data: data, reply: reply}
	if err := h.send(ctx, laneWrite, req); err != nil {
		return UpdateResult{}, err
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return UpdateResult{}, ctx.Err()
	}
}

// Search sends a Search request on the read lane.
func (h *ActorHandle) Search(ctx context.Context, id ID, query SearchQuery) (SearchResult, error) {
	reply := make(chan searchReply, 1)
	req := searchReq{id: id, query: query, reply: reply}
	if err := h.send(ctx, laneRead, req); err != nil {
		return SearchResult{}, err
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return SearchResult{}, ctx.Err()
	}
}

// Settings sends a Settings request on the read lane.
func (h *ActorHandle) Settings(ctx context.Context, id ID) (Settings, error) {
	reply := make(chan settingsReply, 1)
	req := settingsReq{id: id, reply: reply}
	if err := h.send(ctx, laneRead, req); err != nil {
		return Settings{}, err
	}
	select {
	case r := <-reply:
		return r.settings, r.err
	case <-ctx.Done():
		return Settings{}, ctx.Err()
	}
}

// Documents sends a Documents request on the read lane.
func (h *ActorHandle) Documents(ctx context.Context, id ID, offset, limit int, attrs []string) ([]Document, error) {
	reply := make(chan documentsReply, 1)
	req := documentsReq{id: id, offset: offset, limit: limit, attrs: attrs, reply: reply}
	if err := h.send(ctx, laneRead, req); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.docs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Document sends a Document request on the read lane.
func (h *ActorHandle) Document(ctx context.Context, id ID, docID string, attrs []string) (Document, error) {
	reply := make(chan documentReply, 1)
	req := documentReq{id: id, docID: docID, attrs: attrs, reply: reply}
	if err := h.send(ctx, laneRead, req); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.doc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delete sends a Delete request on the write lane.
func (h *ActorHandle) Delete(ctx context.Context, id ID) error {
	reply := make(chan deleteReply, 1)
	req := deleteReq{id: id, reply: reply}
	if err := h.send(ctx, laneWrite, req); err != nil {
		return err
	}
	select {
	case r := <-reply:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetMeta sends a GetMeta request on the read lane.
func (h *ActorHandle) GetMeta(ctx context.Context, id ID) (*MetadataRecord, error) {
	reply := make(chan getMetaReply, 1)
	req := getMetaReq{id: id, reply: reply}
	if err := h.send(ctx, laneRead, req); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.meta, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
