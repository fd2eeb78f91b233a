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

package tunes_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	tunes "github.com/tangletunes/tunes"
	"github.com/tangletunes/tunes/internal/test/distributor_mock"
)

func newMockConnection(t *testing.T) *tunes.Connection {
	conn, err := tunes.NewConnection(
		tunes.WithConnection(distributor_mock.NewConnection(nil)),
	)
	require.NoError(t, err)
	return conn
}

func TestConnectionManagerConnClosed(t *testing.T) {
	defer goleak.VerifyNone(t)
	closedChan := make(chan tunes.ConnectionId, 3)
	connManager := tunes.NewConnectionManager(
		tunes.ConnectionManagerConfig{
			ConnClosedFunc: func(connId tunes.ConnectionId) {
				closedChan <- connId
			},
		},
	)
	conns := make([]*tunes.Connection, 3)
	for i := range conns {
		conns[i] = newMockConnection(t)
		require.NoError(t, connManager.AddConnection(conns[i]))
	}
	assert.Equal(t, 3, connManager.Len())
	assert.Same(t, conns[1], connManager.GetConnectionById(conns[1].Id()))
	require.NoError(t, conns[1].Close())
	select {
	case connId := <-closedChan:
		assert.Equal(t, conns[1].Id(), connId)
	case <-time.After(5 * time.Second):
		t.Fatalf("did not receive closed signal within timeout")
	}
	assert.Eventually(
		t,
		func() bool { return connManager.Len() == 2 },
		time.Second,
		10*time.Millisecond,
	)
	assert.Nil(t, connManager.GetConnectionById(conns[1].Id()))
	require.NoError(t, connManager.CloseAll())
	assert.Equal(t, 0, connManager.Len())
	assert.Len(t, closedChan, 2)
}

func TestConnectionManagerRemoveConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	connManager := tunes.NewConnectionManager(tunes.ConnectionManagerConfig{})
	conn := newMockConnection(t)
	require.NoError(t, connManager.AddConnection(conn))
	connManager.RemoveConnection(conn.Id())
	assert.Equal(t, 0, connManager.Len())
	// Removed connections are not closed by CloseAll, which still waits for their watcher
	require.NoError(t, conn.Close())
	require.NoError(t, connManager.CloseAll())
}

func TestConnectionManagerAddAfterCloseAll(t *testing.T) {
	defer goleak.VerifyNone(t)
	connManager := tunes.NewConnectionManager(tunes.ConnectionManagerConfig{})
	require.NoError(t, connManager.CloseAll())
	assert.True(t, connManager.Closed())
	conn := newMockConnection(t)
	err := connManager.AddConnection(conn)
	assert.ErrorIs(t, err, tunes.ErrConnectionManagerClosed)
	assert.Equal(t, 0, connManager.Len())
	select {
	case <-conn.Done():
	default:
		t.Fatalf("connection was not closed")
	}
}
