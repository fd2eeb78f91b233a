// Copyright 2026 The TangleTunes Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package test_ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangletunes/tunes/cbor"
	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

var _ chunkfetch.Authorizer = (*MockAuthorizer)(nil)

// RequestPayload is the unsigned request body produced by MockAuthorizer
type RequestPayload struct {
	cbor.StructAsArray
	ContentId    chunk.ContentId
	StartChunkId uint64
	ChunkCount   uint64
	Distributor  common.Address
}

// DecodeRequestPayload decodes a payload built by MockAuthorizer
func DecodeRequestPayload(payload []byte) (RequestPayload, error) {
	var ret RequestPayload
	if err := cbor.DecodeStrict(payload, &ret); err != nil {
		return RequestPayload{}, err
	}
	return ret, nil
}

// MockAuthorizer builds unsigned CBOR request payloads and records every request
type MockAuthorizer struct {
	// Account is the address reported by Address
	Account common.Address
	// Err is returned by BuildRequestPayload when set
	Err error

	mutex    sync.Mutex
	requests []RequestPayload
}

func (a *MockAuthorizer) Address() common.Address {
	return a.Account
}

func (a *MockAuthorizer) BuildRequestPayload(
	_ context.Context,
	contentId chunk.ContentId,
	startChunkId int,
	chunkCount int,
	distributor common.Address,
) ([]byte, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	req := RequestPayload{
		ContentId:    contentId,
		StartChunkId: uint64(startChunkId),
		ChunkCount:   uint64(chunkCount),
		Distributor:  distributor,
	}
	a.mutex.Lock()
	a.requests = append(a.requests, req)
	a.mutex.Unlock()
	return cbor.Encode(&req)
}

// Requests returns the requests built so far
func (a *MockAuthorizer) Requests() []RequestPayload {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	ret := make([]RequestPayload, len(a.requests))
	copy(ret, a.requests)
	return ret
}
