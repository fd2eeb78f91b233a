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
	"errors"
	"sync"
)

// ConnectionManagerConnClosedFunc is a function that takes a connection ID
type ConnectionManagerConnClosedFunc func(ConnectionId)

// ConnectionManager keeps track of the open distributor connections so that they can be
// shut down together
type ConnectionManager struct {
	config           ConnectionManagerConfig
	connections      map[ConnectionId]*Connection
	connectionsMutex sync.Mutex
	closed           bool
	waitGroup        sync.WaitGroup
}

// ErrConnectionManagerClosed is returned when adding a connection after CloseAll
var ErrConnectionManagerClosed = errors.New("connection manager is closed")

type ConnectionManagerConfig struct {
	ConnClosedFunc ConnectionManagerConnClosedFunc
}

func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	return &ConnectionManager{
		config:      cfg,
		connections: make(map[ConnectionId]*Connection),
	}
}

// AddConnection tracks conn until it is closed. Once CloseAll has been called, conn is
// closed right away and ErrConnectionManagerClosed is returned.
func (c *ConnectionManager) AddConnection(conn *Connection) error {
	connId := conn.Id()
	c.connectionsMutex.Lock()
	if c.closed {
		c.connectionsMutex.Unlock()
		return errors.Join(ErrConnectionManagerClosed, conn.Close())
	}
	c.connections[connId] = conn
	c.waitGroup.Add(1)
	c.connectionsMutex.Unlock()
	go func() {
		defer c.waitGroup.Done()
		<-conn.Done()
		c.RemoveConnection(connId)
		// Call configured connection closed callback func
		if c.config.ConnClosedFunc != nil {
			c.config.ConnClosedFunc(connId)
		}
	}()
	return nil
}

func (c *ConnectionManager) RemoveConnection(connId ConnectionId) {
	c.connectionsMutex.Lock()
	delete(c.connections, connId)
	c.connectionsMutex.Unlock()
}

func (c *ConnectionManager) GetConnectionById(connId ConnectionId) *Connection {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return c.connections[connId]
}

// Len returns the number of open connections
func (c *ConnectionManager) Len() int {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return len(c.connections)
}

// Closed reports whether CloseAll has been called
func (c *ConnectionManager) Closed() bool {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return c.closed
}

// CloseAll closes every tracked connection and waits for their bookkeeping to finish. No
// connections can be added afterwards.
func (c *ConnectionManager) CloseAll() error {
	c.connectionsMutex.Lock()
	c.closed = true
	conns := make([]*Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		conns = append(conns, conn)
	}
	c.connectionsMutex.Unlock()
	var err error
	for _, conn := range conns {
		err = errors.Join(err, conn.Close())
	}
	c.waitGroup.Wait()
	return err
}
