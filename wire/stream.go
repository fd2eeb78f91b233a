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

// Package wire implements the framing used between a downloader and a distributor.
//
// A downloader writes request frames (a big-endian uint32 payload length followed by an
// opaque signed request) and reads chunks frames (a big-endian uint32 start chunk ID, a
// big-endian uint32 payload length and the chunk bytes).
package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/tangletunes/tunes/chunk"
)

// DefaultMaxPayloadLength allows one full batch of chunks per frame
const DefaultMaxPayloadLength uint32 = 20 * chunk.Size

// Stream is the downloader side of a distributor connection. Inbound chunks frames are
// read by a background goroutine and delivered in arrival order on RecvChan.
type Stream struct {
	conn             net.Conn
	sendMutex        sync.Mutex
	recvChan         chan *Chunks
	errorChan        chan error
	doneChan         chan struct{}
	readDoneChan     chan struct{}
	onceStart        sync.Once
	onceStop         sync.Once
	errMutex         sync.Mutex
	err              error
	maxPayloadLength uint32
}

// StreamOptionFunc is a type that represents functions that modify the Stream config
type StreamOptionFunc func(*Stream)

// WithMaxPayloadLength specifies the largest chunks frame payload that will be accepted
func WithMaxPayloadLength(maxPayloadLength uint32) StreamOptionFunc {
	return func(s *Stream) {
		s.maxPayloadLength = maxPayloadLength
	}
}

// New returns a Stream for conn. Start must be called before frames are received.
func New(conn net.Conn, options ...StreamOptionFunc) *Stream {
	s := &Stream{
		conn:             conn,
		recvChan:         make(chan *Chunks, 10),
		errorChan:        make(chan error, 1),
		doneChan:         make(chan struct{}),
		readDoneChan:     make(chan struct{}),
		maxPayloadLength: DefaultMaxPayloadLength,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start launches the read loop. Safe to call multiple times.
func (s *Stream) Start() {
	s.onceStart.Do(func() {
		go s.readLoop()
	})
}

// Stop signals the read loop to exit. The read loop will not notice until its pending
// read returns, so callers normally close the underlying connection afterward.
func (s *Stream) Stop() {
	s.onceStop.Do(func() {
		close(s.doneChan)
	})
}

// RecvChan returns the channel of received chunks frames. It is closed when the read loop exits.
func (s *Stream) RecvChan() <-chan *Chunks {
	return s.recvChan
}

// ErrorChan returns the channel for asynchronous read errors. It is closed when the read loop exits.
func (s *Stream) ErrorChan() <-chan error {
	return s.errorChan
}

// ReadDone returns a channel that is closed once the read loop has exited
func (s *Stream) ReadDone() <-chan struct{} {
	return s.readDoneChan
}

// Err returns the error that terminated the read loop. A peer that closed the connection
// is reported as io.EOF.
func (s *Stream) Err() error {
	s.errMutex.Lock()
	defer s.errMutex.Unlock()
	return s.err
}

// Send writes a request frame containing payload
func (s *Stream) Send(payload []byte) error {
	msg := NewRequest(payload)
	if msg == nil {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	// Only one request may be written at a time
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()
	return WriteRequest(s.conn, msg)
}

func (s *Stream) setErr(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// Return a bare io.EOF error if error is EOF/ErrUnexpectedEOF
		err = io.EOF
	}
	s.errMutex.Lock()
	s.err = err
	s.errMutex.Unlock()
	select {
	case s.errorChan <- err:
	default:
	}
}

func (s *Stream) readLoop() {
	defer func() {
		close(s.recvChan)
		close(s.errorChan)
		close(s.readDoneChan)
	}()
	for {
		// Break out of read loop if we're shutting down
		select {
		case <-s.doneChan:
			s.setErr(net.ErrClosed)
			return
		default:
		}
		msg, err := ReadChunks(s.conn, s.maxPayloadLength)
		if err != nil {
			s.setErr(err)
			return
		}
		select {
		case <-s.doneChan:
			s.setErr(net.ErrClosed)
			return
		case s.recvChan <- msg:
		}
	}
}
