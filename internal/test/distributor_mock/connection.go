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

package distributor_mock

import (
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"time"

	test_ledger "github.com/tangletunes/tunes/internal/test/ledger"
	"github.com/tangletunes/tunes/wire"
)

// Connection mocks the downloader's connection to a distributor. The downloader uses the
// Connection itself as its net.Conn, and the mocked distributor drives the other end of
// an in-memory pipe.
type Connection struct {
	mockConn     net.Conn
	conn         net.Conn
	conversation []ConversationEntry
	errorChan    chan error
	onceClose    sync.Once
	requestMutex sync.Mutex
	requests     []test_ledger.RequestPayload
	// Serving mode
	songData         []byte
	chunkSize        int
	frameChunks      int
	closeAfterFrames int
	stall            bool
	tamperFunc       func(chunkId int, data []byte) []byte
	frameFilterFunc  func([]*wire.Chunks) []*wire.Chunks
}

// DistributorOptionFunc represents a function used to modify a serving mock distributor
type DistributorOptionFunc func(*Connection)

// WithFrameChunks splits every response into frames of at most frameChunks chunks
func WithFrameChunks(frameChunks int) DistributorOptionFunc {
	return func(c *Connection) {
		c.frameChunks = frameChunks
	}
}

// WithCloseAfterFrames closes the connection after sending the given number of frames
func WithCloseAfterFrames(frames int) DistributorOptionFunc {
	return func(c *Connection) {
		c.closeAfterFrames = frames
	}
}

// WithStall makes the distributor accept requests without ever answering them
func WithStall() DistributorOptionFunc {
	return func(c *Connection) {
		c.stall = true
	}
}

// WithTamper lets a test modify the content of each chunk before it is sent
func WithTamper(tamperFunc func(chunkId int, data []byte) []byte) DistributorOptionFunc {
	return func(c *Connection) {
		c.tamperFunc = tamperFunc
	}
}

// WithFrameFilter lets a test rewrite the frames sent for each request
func WithFrameFilter(
	frameFilterFunc func([]*wire.Chunks) []*wire.Chunks,
) DistributorOptionFunc {
	return func(c *Connection) {
		c.frameFilterFunc = frameFilterFunc
	}
}

// NewConnection returns a new Connection that plays the provided conversation entries
func NewConnection(conversation []ConversationEntry) *Connection {
	c := &Connection{
		conversation: conversation,
		errorChan:    make(chan error, 10),
	}
	c.conn, c.mockConn = net.Pipe()
	go c.asyncLoop()
	return c
}

// NewDistributor returns a new Connection that serves any requested range of songData,
// split into chunks of chunkSize. Requests must be built by test_ledger.MockAuthorizer.
func NewDistributor(
	songData []byte,
	chunkSize int,
	options ...DistributorOptionFunc,
) *Connection {
	c := &Connection{
		errorChan: make(chan error, 10),
		songData:  songData,
		chunkSize: chunkSize,
	}
	for _, option := range options {
		option(c)
	}
	c.conn, c.mockConn = net.Pipe()
	reqChan := make(chan test_ledger.RequestPayload, 10)
	go c.readLoop(reqChan)
	go c.serveLoop(reqChan)
	return c
}

// ErrorChan returns the channel for errors from the mocked distributor
func (c *Connection) ErrorChan() <-chan error {
	return c.errorChan
}

// Requests returns the requests received by the mocked distributor
func (c *Connection) Requests() []test_ledger.RequestPayload {
	c.requestMutex.Lock()
	defer c.requestMutex.Unlock()
	ret := make([]test_ledger.RequestPayload, len(c.requests))
	copy(ret, c.requests)
	return ret
}

// Read provides a proxy to the client-side connection's Read function. This is needed to satisfy the net.Conn interface
func (c *Connection) Read(b []byte) (n int, err error) {
	return c.conn.Read(b)
}

// Write provides a proxy to the client-side connection's Write function. This is needed to satisfy the net.Conn interface
func (c *Connection) Write(b []byte) (n int, err error) {
	return c.conn.Write(b)
}

// Close closes both sides of the connection. This is needed to satisfy the net.Conn interface
func (c *Connection) Close() error {
	var err error
	c.onceClose.Do(func() {
		err = errors.Join(c.conn.Close(), c.mockConn.Close())
	})
	return err
}

// LocalAddr provides a proxy to the client-side connection's LocalAddr function. This is needed to satisfy the net.Conn interface
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr provides a proxy to the client-side connection's RemoteAddr function. This is needed to satisfy the net.Conn interface
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline provides a proxy to the client-side connection's SetDeadline function. This is needed to satisfy the net.Conn interface
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline provides a proxy to the client-side connection's SetReadDeadline function. This is needed to satisfy the net.Conn interface
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline provides a proxy to the client-side connection's SetWriteDeadline function. This is needed to satisfy the net.Conn interface
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// hangUp closes the distributor side only, which the downloader reads as io.EOF
func (c *Connection) hangUp() {
	_ = c.mockConn.Close()
}

func (c *Connection) sendError(err error) {
	select {
	case c.errorChan <- err:
	default:
	}
}

func (c *Connection) asyncLoop() {
	for _, entry := range c.conversation {
		switch entry.Type {
		case EntryTypeInput:
			if err := c.processInputEntry(entry); err != nil {
				c.sendError(fmt.Errorf("input error: %w", err))
				return
			}
		case EntryTypeOutput:
			if err := c.processOutputEntry(entry); err != nil {
				c.sendError(fmt.Errorf("output error: %w", err))
				return
			}
		case EntryTypeClose:
			c.hangUp()
		default:
			c.sendError(
				fmt.Errorf(
					"unknown conversation entry type: %d: %#v",
					entry.Type,
					entry,
				),
			)
			return
		}
	}
}

func (c *Connection) readRequest() (test_ledger.RequestPayload, error) {
	msg, err := wire.ReadRequest(c.mockConn, wire.DefaultMaxPayloadLength)
	if err != nil {
		return test_ledger.RequestPayload{}, err
	}
	req, err := test_ledger.DecodeRequestPayload(msg.Payload)
	if err != nil {
		return test_ledger.RequestPayload{}, fmt.Errorf("decode error: %w", err)
	}
	c.requestMutex.Lock()
	c.requests = append(c.requests, req)
	c.requestMutex.Unlock()
	return req, nil
}

func (c *Connection) processInputEntry(entry ConversationEntry) error {
	req, err := c.readRequest()
	if err != nil {
		return err
	}
	if entry.InputRequest != nil && !reflect.DeepEqual(req, *entry.InputRequest) {
		return fmt.Errorf(
			"request does not match expected value: got %#v, expected %#v",
			req,
			*entry.InputRequest,
		)
	}
	return nil
}

func (c *Connection) processOutputEntry(entry ConversationEntry) error {
	for _, frame := range entry.OutputFrames {
		if err := wire.WriteChunks(c.mockConn, frame); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) readLoop(reqChan chan<- test_ledger.RequestPayload) {
	defer close(reqChan)
	for {
		req, err := c.readRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.sendError(err)
			}
			return
		}
		reqChan <- req
	}
}

func (c *Connection) serveLoop(reqChan <-chan test_ledger.RequestPayload) {
	sentFrames := 0
	for req := range reqChan {
		if c.stall {
			continue
		}
		frames := c.framesForRequest(req)
		if c.frameFilterFunc != nil {
			frames = c.frameFilterFunc(frames)
		}
		for _, frame := range frames {
			if c.closeAfterFrames > 0 && sentFrames >= c.closeAfterFrames {
				c.hangUp()
				continue
			}
			if err := wire.WriteChunks(c.mockConn, frame); err != nil {
				// The downloader hung up
				_ = c.Close()
				continue
			}
			sentFrames++
		}
	}
}

func (c *Connection) framesForRequest(req test_ledger.RequestPayload) []*wire.Chunks {
	frameChunks := c.frameChunks
	if frameChunks <= 0 {
		frameChunks = int(req.ChunkCount)
	}
	var ret []*wire.Chunks
	end := int(req.StartChunkId + req.ChunkCount)
	for start := int(req.StartChunkId); start < end; start += frameChunks {
		var payload []byte
		for chunkId := start; chunkId < min(start+frameChunks, end); chunkId++ {
			payload = append(payload, c.chunkData(chunkId)...)
		}
		if len(payload) == 0 {
			break
		}
		ret = append(ret, wire.NewChunks(uint32(start), payload))
	}
	return ret
}

func (c *Connection) chunkData(chunkId int) []byte {
	offset := chunkId * c.chunkSize
	if offset >= len(c.songData) {
		return nil
	}
	data := make([]byte, min(c.chunkSize, len(c.songData)-offset))
	copy(data, c.songData[offset:])
	if c.tamperFunc != nil {
		data = c.tamperFunc(chunkId, data)
	}
	return data
}
