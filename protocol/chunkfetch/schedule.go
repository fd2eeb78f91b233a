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

package chunkfetch

import (
	"fmt"

	"github.com/tangletunes/tunes/chunk"
)

// PendingRequest is one request for ChunkCount chunks starting at StartChunkId
type PendingRequest struct {
	StartChunkId int
	ChunkCount   int
}

func (p PendingRequest) String() string {
	return fmt.Sprintf("%d chunks starting at %d", p.ChunkCount, p.StartChunkId)
}

// Schedule partitions a chunk range into requests aligned to the request batch grid and
// hands them out in ascending order. It is owned by a single download and is not safe
// for concurrent use.
type Schedule struct {
	requests   []PendingRequest
	firstChunk int
	batchSize  int
	chunkSize  int
	windowSize int
	windowMode WindowMode
}

// ScheduleOptionFunc represents a function used to modify a Schedule
type ScheduleOptionFunc func(*Schedule)

// WithScheduleBatchSize specifies the request batch grid
func WithScheduleBatchSize(batchSize int) ScheduleOptionFunc {
	return func(s *Schedule) {
		s.batchSize = batchSize
	}
}

// WithScheduleChunkSize specifies the chunk size used by the dispatch gate
func WithScheduleChunkSize(chunkSize int) ScheduleOptionFunc {
	return func(s *Schedule) {
		s.chunkSize = chunkSize
	}
}

// WithScheduleWindow specifies the pipelining window used by the dispatch gate
func WithScheduleWindow(windowSize int, mode WindowMode) ScheduleOptionFunc {
	return func(s *Schedule) {
		s.windowSize = windowSize
		s.windowMode = mode
	}
}

// NewSchedule returns the requests covering [firstChunk, lastChunk).
//
// Request boundaries fall on multiples of the batch size. When firstChunk is not on the
// grid, the leading request is clipped to start at firstChunk, and the final request is
// clipped by lastChunk.
func NewSchedule(
	firstChunk int,
	lastChunk int,
	options ...ScheduleOptionFunc,
) *Schedule {
	s := &Schedule{
		firstChunk: firstChunk,
		batchSize:  RequestBatchSize,
		chunkSize:  chunk.Size,
		windowSize: ConcurrentRequestsWindow,
		windowMode: WindowModeLiteral,
	}
	for _, option := range options {
		option(s)
	}
	if s.batchSize <= 0 {
		s.batchSize = RequestBatchSize
	}
	for start := firstChunk; start < lastChunk; {
		next := (start/s.batchSize + 1) * s.batchSize
		end := min(next, lastChunk)
		s.requests = append(
			s.requests,
			PendingRequest{
				StartChunkId: start,
				ChunkCount:   end - start,
			},
		)
		start = end
	}
	return s
}

// Len returns the number of requests that have not been dispatched yet
func (s *Schedule) Len() int {
	return len(s.requests)
}

// Remaining returns a copy of the requests that have not been dispatched yet
func (s *Schedule) Remaining() []PendingRequest {
	ret := make([]PendingRequest, len(s.requests))
	copy(ret, s.requests)
	return ret
}

// ReadyToSend returns and removes the next request if it may be dispatched given that
// bufferLen bytes have been received so far
func (s *Schedule) ReadyToSend(bufferLen int) (PendingRequest, bool) {
	if len(s.requests) == 0 {
		return PendingRequest{}, false
	}
	head := s.requests[0]
	var limit int
	switch s.windowMode {
	case WindowModeChunks:
		limit = s.firstChunk + bufferLen/s.chunkSize + s.windowSize
	default:
		limit = bufferLen*s.chunkSize + s.windowSize
	}
	if head.StartChunkId > limit {
		return PendingRequest{}, false
	}
	return s.Next()
}

// Next returns and removes the next request regardless of the dispatch gate
func (s *Schedule) Next() (PendingRequest, bool) {
	if len(s.requests) == 0 {
		return PendingRequest{}, false
	}
	head := s.requests[0]
	s.requests = s.requests[1:]
	return head, true
}
