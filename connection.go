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

// Package tunes implements a TangleTunes downloader: it buys songs registered in the
// TangleTunes smart contract and fetches their chunks from distributors.
//
// The chunk fetch protocol itself lives in the protocol/chunkfetch package. This package
// provides the connection to a distributor and the App, which ties the ledger, the wallet
// and the local song store together into the purchase and download flow.
package tunes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tangletunes/tunes/protocol/chunkfetch"
	"github.com/tangletunes/tunes/wire"
)

// ConnectionId uniquely identifies a Connection within the process
type ConnectionId uint64

var lastConnectionId atomic.Uint64

// The Connection type is a wrapper around a net.Conn object that handles communication with a
// distributor using the chunk fetch wire format over that connection
type Connection struct {
	id               ConnectionId
	conn             net.Conn
	stream           *wire.Stream
	logger           *slog.Logger
	dialTimeout      time.Duration
	maxPayloadLength uint32
	doneChan         chan struct{}
	onceClose        sync.Once
	closeErr         error
}

var _ chunkfetch.Transport = (*Connection)(nil)

// NewConnection returns a new Connection object with the specified options. If a connection is
// provided, it is ready for use immediately. Otherwise Dial must be called first.
func NewConnection(options ...ConnectionOptionFunc) (*Connection, error) {
	c := &Connection{
		id:               ConnectionId(lastConnectionId.Add(1)),
		maxPayloadLength: wire.DefaultMaxPayloadLength,
		doneChan:         make(chan struct{}),
	}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.conn != nil {
		c.setupConnection()
	}
	return c, nil
}

// Id returns the process-unique ID of the connection
func (c *Connection) Id() ConnectionId {
	return c.id
}

// Dial will establish a connection using the specified protocol and address. These parameters are
// passed to [net.Dialer.DialContext]. An error will be returned if the connection fails or a
// connection was already established
func (c *Connection) Dial(ctx context.Context, proto string, address string) error {
	if c.conn != nil {
		return errors.New("a connection was already established")
	}
	dialer := net.Dialer{
		Timeout: c.dialTimeout,
	}
	conn, err := dialer.DialContext(ctx, proto, address)
	if err != nil {
		return fmt.Errorf("%w: %w", chunkfetch.ErrConnection, err)
	}
	c.conn = conn
	c.setupConnection()
	return nil
}

// Send writes a request frame. A done context interrupts a blocked write.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	if c.stream == nil {
		return fmt.Errorf("%w: not connected", chunkfetch.ErrConnection)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()
	if err := c.stream.Send(payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", chunkfetch.ErrConnection, err)
	}
	return nil
}

// NextFrame returns the next chunks frame. It returns io.EOF once the distributor has closed
// the connection and every frame received before that has been returned.
func (c *Connection) NextFrame(ctx context.Context) (chunkfetch.Frame, error) {
	if c.stream == nil {
		return chunkfetch.Frame{}, fmt.Errorf("%w: not connected", chunkfetch.ErrConnection)
	}
	select {
	case <-ctx.Done():
		return chunkfetch.Frame{}, ctx.Err()
	case msg, ok := <-c.stream.RecvChan():
		if !ok {
			err := c.stream.Err()
			if errors.Is(err, io.EOF) {
				return chunkfetch.Frame{}, io.EOF
			}
			return chunkfetch.Frame{}, fmt.Errorf("%w: %w", chunkfetch.ErrConnection, err)
		}
		return chunkfetch.Frame{
			StartChunkId: int(msg.StartChunkId),
			Payload:      msg.Payload,
		}, nil
	}
}

// Done returns a channel that is closed when the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.doneChan
}

// RemoteAddr returns the address of the distributor
func (c *Connection) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// Close will shut down the connection and wait for the read loop to exit
func (c *Connection) Close() error {
	c.onceClose.Do(func() {
		// Close doneChan to signify that we're shutting down
		close(c.doneChan)
		if c.conn == nil {
			return
		}
		c.stream.Stop()
		c.closeErr = c.conn.Close()
		// Wait for the read loop to notice
		<-c.stream.ReadDone()
		c.logger.Debug(
			"connection closed",
			"component", "network",
			"connection_id", c.id,
		)
	})
	return c.closeErr
}

// setupConnection starts the read loop on the established connection
func (c *Connection) setupConnection() {
	c.stream = wire.New(
		c.conn,
		wire.WithMaxPayloadLength(c.maxPayloadLength),
	)
	c.stream.Start()
	c.logger.Debug(
		"connection established",
		"component", "network",
		"connection_id", c.id,
		"remote_addr", c.conn.RemoteAddr().String(),
	)
}
