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

package tunes

import (
	"log/slog"
	"net"
	"time"
)

// ConnectionOptionFunc is a type that represents functions that modify the Connection config
type ConnectionOptionFunc func(*Connection)

// WithConnection specifies an existing connection to use. If none is provided, the Dial() function can be
// used to create one later
func WithConnection(conn net.Conn) ConnectionOptionFunc {
	return func(c *Connection) {
		c.conn = conn
	}
}

// WithLogger specifies the logger for connection events
func WithLogger(logger *slog.Logger) ConnectionOptionFunc {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithDialTimeout specifies how long Dial waits for the distributor to accept the connection
func WithDialTimeout(timeout time.Duration) ConnectionOptionFunc {
	return func(c *Connection) {
		c.dialTimeout = timeout
	}
}

// WithMaxPayloadLength specifies the largest chunks frame payload accepted from the distributor
func WithMaxPayloadLength(maxPayloadLength uint32) ConnectionOptionFunc {
	return func(c *Connection) {
		c.maxPayloadLength = maxPayloadLength
	}
}
