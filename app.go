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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/ledger"
	"github.com/tangletunes/tunes/metrics"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
	"github.com/tangletunes/tunes/store"
)

const (
	DefaultMaxDownloadAttempts = 3
	DefaultRetryBackoff        = 250 * time.Millisecond
	DefaultConnectTimeout      = 10 * time.Second
)

var (
	ErrSongNotFound      = ledger.ErrSongNotFound
	ErrNoDistributor     = ledger.ErrNoDistributor
	ErrTooExpensive      = errors.New("song price is above the accepted maximum")
	ErrInsufficientFunds = errors.New("insufficient balance to buy song")
	ErrAppClosed         = errors.New("app is closed")
)

// Wallet signs chunk requests on behalf of an account
type Wallet interface {
	chunkfetch.Authorizer
	Address() common.Address
}

// DialFunc opens a stream connection to a distributor server
type DialFunc func(ctx context.Context, server string) (net.Conn, error)

// App holds everything needed to buy and download songs. An App is immutable once built
// and safe for concurrent use.
type App struct {
	ledger          ledger.Ledger
	wallet          Wallet
	store           *store.Store
	logger          *slog.Logger
	metrics         *metrics.DownloadCollector
	client          *chunkfetch.Client
	connManager     *ConnectionManager
	chunkSize       int
	batchSize       int
	maxAttempts     int
	retryBackoff    time.Duration
	connectTimeout  time.Duration
	downloadTimeout time.Duration
	dialFunc        DialFunc
	fetchOptions    []chunkfetch.ChunkFetchOptionFunc
}

// NewApp returns an App with the specified options. A ledger and a wallet are required.
func NewApp(options ...AppOptionFunc) (*App, error) {
	a := &App{
		chunkSize:      chunk.Size,
		batchSize:      chunkfetch.RequestBatchSize,
		maxAttempts:    DefaultMaxDownloadAttempts,
		retryBackoff:   DefaultRetryBackoff,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, option := range options {
		option(a)
	}
	if a.ledger == nil {
		return nil, errors.New("no ledger configured")
	}
	if a.wallet == nil {
		return nil, errors.New("no wallet configured")
	}
	if a.maxAttempts < 1 {
		return nil, fmt.Errorf("invalid max download attempts: %d", a.maxAttempts)
	}
	if a.retryBackoff <= 0 {
		return nil, fmt.Errorf("invalid retry backoff: %s", a.retryBackoff)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fetchOptions := []chunkfetch.ChunkFetchOptionFunc{
		chunkfetch.WithAuthorizer(a.wallet),
		chunkfetch.WithHashSource(a.ledger),
		chunkfetch.WithChunkSize(a.chunkSize),
		chunkfetch.WithRequestBatchSize(a.batchSize),
		chunkfetch.WithLogger(a.logger),
	}
	if a.metrics != nil {
		fetchOptions = append(fetchOptions, chunkfetch.WithMetrics(a.metrics))
	}
	// Caller supplied options go last so that they win
	fetchCfg := chunkfetch.NewConfig(append(fetchOptions, a.fetchOptions...)...)
	a.client = chunkfetch.NewClient(&fetchCfg)
	a.connManager = NewConnectionManager(
		ConnectionManagerConfig{
			ConnClosedFunc: func(connId ConnectionId) {
				a.logger.Debug(
					"distributor connection finished",
					"component", "app",
					"connection_id", connId,
				)
			},
		},
	)
	return a, nil
}

// Address returns the account that pays for downloads
func (a *App) Address() common.Address {
	return a.wallet.Address()
}

// Ledger returns the ledger used by the App
func (a *App) Ledger() ledger.Ledger {
	return a.ledger
}

// Store returns the song store, which may be nil
func (a *App) Store() *store.Store {
	return a.store
}

// ActiveConnections returns the number of open distributor connections
func (a *App) ActiveConnections() int {
	return a.connManager.Len()
}

// Close interrupts every running download by closing its distributor connection. Downloads
// that are still connecting fail with ErrAppClosed. The store is not closed.
func (a *App) Close() error {
	return a.connManager.CloseAll()
}

// connect opens a connection to a distributor and tracks it until it is closed
func (a *App) connect(ctx context.Context, server string) (*Connection, error) {
	if a.connManager.Closed() {
		return nil, ErrAppClosed
	}
	connOptions := []ConnectionOptionFunc{
		WithLogger(a.logger),
		WithDialTimeout(a.connectTimeout),
		WithMaxPayloadLength(uint32(a.batchSize * a.chunkSize)),
	}
	var conn *Connection
	if a.dialFunc != nil {
		netConn, err := a.dialFunc(ctx, server)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", chunkfetch.ErrConnection, server, err)
		}
		conn, err = NewConnection(append(connOptions, WithConnection(netConn))...)
		if err != nil {
			_ = netConn.Close()
			return nil, err
		}
	} else {
		var err error
		conn, err = NewConnection(connOptions...)
		if err != nil {
			return nil, err
		}
		if err := conn.Dial(ctx, "tcp", server); err != nil {
			return nil, err
		}
	}
	if err := a.connManager.AddConnection(conn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppClosed, err)
	}
	return conn, nil
}
