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

// Package chunkfetch implements the downloader side of the chunk fetch protocol.
//
// A download drives one streaming connection to one distributor for one range of
// chunks of one song. Requests for batches of chunks are pipelined ahead of the
// received data, chunks must arrive contiguously and in order, and the assembled
// bytes are verified against the chunk hashes stored in the ledger before they are
// handed back to the caller.
package chunkfetch

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangletunes/tunes/chunk"
)

const ProtocolName = "chunk-fetch"

const (
	// RequestBatchSize is the maximum number of chunks asked for in a single request
	RequestBatchSize = 20
	// ConcurrentRequestsWindow bounds how far ahead of the received data a request may be dispatched
	ConcurrentRequestsWindow = 3
)

// WindowMode selects the arithmetic used by the dispatch gate
type WindowMode int

const (
	// WindowModeLiteral dispatches the next request when
	// start <= bufferLen*chunkSize + window. This reproduces the behavior of the
	// reference client exactly, even though it compares a byte count scaled by the
	// chunk size against a chunk index.
	WindowModeLiteral WindowMode = iota
	// WindowModeChunks dispatches the next request when
	// start <= firstChunk + bufferLen/chunkSize + window, which keeps both sides
	// of the comparison in chunk index units.
	WindowModeChunks
)

func (m WindowMode) String() string {
	switch m {
	case WindowModeLiteral:
		return "literal"
	case WindowModeChunks:
		return "chunks"
	default:
		return "unknown"
	}
}

// Frame is one inbound chunks frame: contiguous chunk bytes starting at StartChunkId
type Frame struct {
	StartChunkId int
	Payload      []byte
}

// Transport is a streaming connection to a distributor
type Transport interface {
	// Send blocks until payload has been accepted by the transport
	Send(ctx context.Context, payload []byte) error
	// NextFrame blocks until a full frame is available. It returns io.EOF when the
	// distributor has closed the connection.
	NextFrame(ctx context.Context) (Frame, error)
}

// Authorizer builds signed, payment-authorized chunk requests. Implementations must be
// safe for concurrent use.
type Authorizer interface {
	BuildRequestPayload(
		ctx context.Context,
		contentId chunk.ContentId,
		startChunkId int,
		chunkCount int,
		distributor common.Address,
	) ([]byte, error)
}

// HashSource provides the authoritative chunk hashes for a song. Implementations must be
// safe for concurrent use.
type HashSource interface {
	ChunkHashes(
		ctx context.Context,
		contentId chunk.ContentId,
		firstChunkId int,
		count int,
	) ([]common.Hash, error)
}

// MetricsRecorder receives download events
type MetricsRecorder interface {
	RecordRequest(chunkCount int)
	RecordFrame(payloadLength int)
	RecordDownload(duration time.Duration, bytes int, err error)
}

// ProgressFunc is called after every received frame
type ProgressFunc func(receivedBytes int, expectedBytes int)

// Request describes a single download attempt
type Request struct {
	ContentId   chunk.ContentId
	FirstChunk  int
	ChunkCount  int
	Distributor common.Address
	// AttemptId tags the log records of this attempt. A random ID is used when empty.
	AttemptId string
	// ProgressFunc is optional
	ProgressFunc ProgressFunc
}

// Config is used to configure the chunk fetch client
type Config struct {
	Authorizer       Authorizer
	HashSource       HashSource
	ChunkSize        int
	RequestBatchSize int
	WindowSize       int
	WindowMode       WindowMode
	Logger           *slog.Logger
	Metrics          MetricsRecorder
}

// ChunkFetchOptionFunc represents a function used to modify the chunk fetch config
type ChunkFetchOptionFunc func(*Config)

// NewConfig returns a new chunk fetch config object with the provided options
func NewConfig(options ...ChunkFetchOptionFunc) Config {
	c := Config{
		ChunkSize:        chunk.Size,
		RequestBatchSize: RequestBatchSize,
		WindowSize:       ConcurrentRequestsWindow,
		WindowMode:       WindowModeLiteral,
	}
	// Apply provided options functions
	for _, option := range options {
		option(&c)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// WithAuthorizer specifies the capability used to sign chunk requests
func WithAuthorizer(authorizer Authorizer) ChunkFetchOptionFunc {
	return func(c *Config) {
		c.Authorizer = authorizer
	}
}

// WithHashSource specifies the ledger capability used to verify downloaded chunks
func WithHashSource(hashSource HashSource) ChunkFetchOptionFunc {
	return func(c *Config) {
		c.HashSource = hashSource
	}
}

// WithChunkSize specifies the chunk size. This should only be changed for testing
func WithChunkSize(chunkSize int) ChunkFetchOptionFunc {
	return func(c *Config) {
		c.ChunkSize = chunkSize
	}
}

// WithRequestBatchSize specifies the maximum number of chunks per request
func WithRequestBatchSize(batchSize int) ChunkFetchOptionFunc {
	return func(c *Config) {
		c.RequestBatchSize = batchSize
	}
}

// WithWindow specifies the pipelining window and the arithmetic used to apply it
func WithWindow(windowSize int, mode WindowMode) ChunkFetchOptionFunc {
	return func(c *Config) {
		c.WindowSize = windowSize
		c.WindowMode = mode
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) ChunkFetchOptionFunc {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics specifies a recorder for download metrics
func WithMetrics(metrics MetricsRecorder) ChunkFetchOptionFunc {
	return func(c *Config) {
		c.Metrics = metrics
	}
}
