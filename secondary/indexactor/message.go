// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package indexactor

import "os"

// lane identifies which of the actor's two mailboxes a request travels on.
type lane int

const (
	laneRead lane = iota
	laneWrite
)

// request is the closed set of message variants the actor understands. Each
// variant embeds its own single-use reply channel so the dispatch site never
// needs to know the reply type statically.
type request interface {
	lane() lane
}

type createIndexReply struct {
	meta MetadataRecord
	err  error
}

type createIndexReq struct {
	id         ID
	primaryKey *string
	reply      chan createIndexReply
}

func (createIndexReq) lane() lane { return laneWrite }

type updateReply struct {
	result UpdateResult
	err    error
}

type updateReq struct {
	meta  ProcessingMeta
	data  *os.File
	reply chan updateReply
}

func (updateReq) lane() lane { return laneWrite }

type searchReply struct {
	result SearchResult
	err    error
}

type searchReq struct {
	id    ID
	query SearchQuery
	reply chan searchReply
}

func (searchReq) lane() lane { return laneRead }

type settingsReply struct {
	settings Settings
	err      error
}

type settingsReq struct {
	id    ID
	reply chan settingsReply
}

func (settingsReq) lane() lane { return laneRead }

type documentsReply struct {
	docs []Document
	err  error
}

type documentsReq struct {
	id     ID
	offset int
	limit  int
	attrs  []string
	reply  chan documentsReply
}

func (documentsReq) lane() lane { return laneRead }

type documentReply struct {
	doc Document
	err error
}

type documentReq struct {
	id    ID
	docID string
	attrs []string
	reply chan documentReply
}

func (documentReq) lane() lane { return laneRead }

type deleteReply struct {
	err error
}

type deleteReq struct {
	id    ID
	reply chan deleteReply
}

func (deleteReq) lane() lane { return laneWrite }

type getMetaReply struct {
	meta *MetadataRecord
	err  error
}

type getMetaReq struct {
	id    ID
	reply chan getMetaReply
}

func (getMetaReq) lane() lane { return laneRead }
