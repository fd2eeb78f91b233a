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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tangletunes/tunes/chunk"
)

// Client implements the chunk fetch protocol client. A single Client may run any number
// of concurrent downloads; each download owns its own transport, schedule and buffer.
type Client struct {
	config   *Config
	verifier *Verifier
}

// NewClient returns a new chunk fetch client with the given configuration
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		config:   cfg,
		verifier: NewVerifier(cfg.HashSource, cfg.ChunkSize),
	}
}

// Verifier returns the verifier used for completed downloads
func (c *Client) Verifier() *Verifier {
	return c.verifier
}

// Download fetches the chunks described by req over transport and returns the verified bytes.
//
// Download takes ownership of transport: if it implements io.Closer, it is closed before
// Download returns. No data is returned unless the whole range was received and verified.
func (c *Client) Download(
	ctx context.Context,
	transport Transport,
	req Request,
) (data []byte, err error) {
	startTime := time.Now()
	if req.AttemptId == "" {
		req.AttemptId = uuid.NewString()
	}
	logger := c.config.Logger.With(
		"component", "network",
		"protocol", ProtocolName,
		"role", "client",
		"attempt_id", req.AttemptId,
		"song_id", req.ContentId.String(),
		"distributor", req.Distributor.Hex(),
	)
	defer func() {
		if closer, ok := transport.(io.Closer); ok {
			if closeErr := closer.Close(); closeErr != nil {
				logger.Debug(
					fmt.Sprintf("failed to close transport: %s", closeErr),
				)
			}
		}
		if err != nil {
			data = nil
		}
		if c.config.Metrics != nil {
			c.config.Metrics.RecordDownload(time.Since(startTime), len(data), err)
		}
	}()
	if c.config.Authorizer == nil {
		return nil, errors.New("no request authorizer configured")
	}
	chunkRange, err := chunk.NewRange(req.FirstChunk, req.FirstChunk+req.ChunkCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	chunkSize := c.config.ChunkSize
	expectedBytes := req.ChunkCount * chunkSize
	logger.Debug(
		fmt.Sprintf("starting download of chunks %s", chunkRange),
	)
	schedule := NewSchedule(
		chunkRange.First,
		chunkRange.Last,
		WithScheduleBatchSize(c.config.RequestBatchSize),
		WithScheduleChunkSize(chunkSize),
		WithScheduleWindow(c.config.WindowSize, c.config.WindowMode),
	)
	buf := make([]byte, 0, min(expectedBytes, c.config.RequestBatchSize*chunkSize))
	// End (exclusive) of the highest chunk range requested so far
	dispatchedEnd := chunkRange.First
	for !chunk.IsTransferComplete(len(buf), req.ChunkCount, chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, contextError(err)
		}
		pending, ok := schedule.ReadyToSend(len(buf))
		if !ok && dispatchedEnd <= chunkRange.First+len(buf)/chunkSize {
			// Nothing is outstanding, so waiting for a frame would never end
			pending, ok = schedule.Next()
		}
		if ok {
			if err := c.sendRequest(ctx, transport, req, pending, logger); err != nil {
				return nil, err
			}
			dispatchedEnd = pending.StartChunkId + pending.ChunkCount
		}
		frame, err := transport.NextFrame(ctx)
		if err != nil {
			return nil, c.recvError(ctx, err)
		}
		if err := checkFrame(req, chunkSize, len(buf), frame); err != nil {
			logger.Warn(err.Error())
			return nil, err
		}
		logger.Debug(
			fmt.Sprintf(
				"received %d bytes starting at chunk %d",
				len(frame.Payload),
				frame.StartChunkId,
			),
		)
		buf = append(buf, frame.Payload...)
		if c.config.Metrics != nil {
			c.config.Metrics.RecordFrame(len(frame.Payload))
		}
		if req.ProgressFunc != nil {
			req.ProgressFunc(len(buf), expectedBytes)
		}
	}
	mismatch, err := c.verifier.firstMismatch(ctx, req.ContentId, buf, chunkRange.First)
	if err != nil {
		return nil, err
	}
	if mismatch >= 0 {
		err := &VerificationError{ChunkId: chunkRange.First + mismatch}
		logger.Warn(err.Error())
		return nil, err
	}
	logger.Debug(
		fmt.Sprintf("verified %d bytes in %s", len(buf), time.Since(startTime)),
	)
	return buf, nil
}

func (c *Client) sendRequest(
	ctx context.Context,
	transport Transport,
	req Request,
	pending PendingRequest,
	logger *slog.Logger,
) error {
	logger.Debug(fmt.Sprintf("requesting %s", pending))
	payload, err := c.config.Authorizer.BuildRequestPayload(
		ctx,
		req.ContentId,
		pending.StartChunkId,
		pending.ChunkCount,
		req.Distributor,
	)
	if err != nil {
		return err
	}
	if err := transport.Send(ctx, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		if errors.Is(err, ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: send failed: %w", ErrConnection, err)
	}
	if c.config.Metrics != nil {
		c.config.Metrics.RecordRequest(pending.ChunkCount)
	}
	return nil
}

func (c *Client) recvError(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) {
		return ErrStreamClosedEarly
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err)
	}
	if errors.Is(err, ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: receive failed: %w", ErrConnection, err)
}

// contextError maps an expired deadline to ErrStreamClosedEarly and leaves cancellation as is
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStreamClosedEarly, err)
	}
	return err
}

// checkFrame validates that frame continues the buffer without gaps and stays inside the range
func checkFrame(req Request, chunkSize int, bufferLen int, frame Frame) error {
	expected := req.FirstChunk + bufferLen/chunkSize
	if frame.StartChunkId != expected {
		return &ProtocolViolationError{
			Reason:   "chunks are not contiguous",
			Expected: expected,
			Got:      frame.StartChunkId,
		}
	}
	if len(frame.Payload) == 0 {
		return &ProtocolViolationError{
			Reason:   "empty payload",
			Expected: expected,
			Got:      frame.StartChunkId,
		}
	}
	newLen := bufferLen + len(frame.Payload)
	if newLen > req.ChunkCount*chunkSize {
		return &ProtocolViolationError{
			Reason:   "payload extends past the requested range",
			Expected: expected,
			Got:      frame.StartChunkId,
		}
	}
	if newLen%chunkSize != 0 &&
		!chunk.IsTransferComplete(newLen, req.ChunkCount, chunkSize) {
		return &ProtocolViolationError{
			Reason:   "partial chunk before the end of the range",
			Expected: expected,
			Got:      frame.StartChunkId,
		}
	}
	return nil
}
