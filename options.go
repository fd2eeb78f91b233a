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
	"math/big"
	"time"

	"github.com/tangletunes/tunes/ledger"
	"github.com/tangletunes/tunes/metrics"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
	"github.com/tangletunes/tunes/store"
)

// AppOptionFunc is a type that represents functions that modify the App config
type AppOptionFunc func(*App)

// WithLedger specifies the ledger used for song info, balances, distributors and chunk hashes
func WithLedger(l ledger.Ledger) AppOptionFunc {
	return func(a *App) {
		a.ledger = l
	}
}

// WithWallet specifies the account that pays for chunks
func WithWallet(wallet Wallet) AppOptionFunc {
	return func(a *App) {
		a.wallet = wallet
	}
}

// WithStore specifies where downloaded songs are saved
func WithStore(s *store.Store) AppOptionFunc {
	return func(a *App) {
		a.store = s
	}
}

// WithAppLogger specifies the logger used by the App and everything it creates
func WithAppLogger(logger *slog.Logger) AppOptionFunc {
	return func(a *App) {
		a.logger = logger
	}
}

// WithMetrics specifies a collector for download metrics
func WithMetrics(collector *metrics.DownloadCollector) AppOptionFunc {
	return func(a *App) {
		a.metrics = collector
	}
}

// WithChunkSize specifies the chunk size. This should only be changed for testing
func WithChunkSize(chunkSize int) AppOptionFunc {
	return func(a *App) {
		a.chunkSize = chunkSize
	}
}

// WithMaxDownloadAttempts specifies how many distributors a song download may try
func WithMaxDownloadAttempts(attempts int) AppOptionFunc {
	return func(a *App) {
		a.maxAttempts = attempts
	}
}

// WithRetryBackoff specifies the initial delay between download attempts. The delay
// doubles after every attempt.
func WithRetryBackoff(backoff time.Duration) AppOptionFunc {
	return func(a *App) {
		a.retryBackoff = backoff
	}
}

// WithConnectTimeout specifies how long to wait for a distributor to accept a connection
func WithConnectTimeout(timeout time.Duration) AppOptionFunc {
	return func(a *App) {
		a.connectTimeout = timeout
	}
}

// WithDownloadTimeout bounds each download attempt. Zero means no limit.
func WithDownloadTimeout(timeout time.Duration) AppOptionFunc {
	return func(a *App) {
		a.downloadTimeout = timeout
	}
}

// WithDialFunc replaces the TCP dialer used to reach distributors
func WithDialFunc(dialFunc DialFunc) AppOptionFunc {
	return func(a *App) {
		a.dialFunc = dialFunc
	}
}

// WithChunkFetchOptions specifies extra options for the chunk fetch client
func WithChunkFetchOptions(options ...chunkfetch.ChunkFetchOptionFunc) AppOptionFunc {
	return func(a *App) {
		a.fetchOptions = append(a.fetchOptions, options...)
	}
}

// DownloadOptionFunc is a type that represents functions that modify a single download
type DownloadOptionFunc func(*downloadOptions)

type downloadOptions struct {
	maxPrice     *big.Int
	distribute   bool
	skipStore    bool
	progressFunc chunkfetch.ProgressFunc
}

// WithMaxPrice rejects the song when its price per chunk is above maxPrice
func WithMaxPrice(maxPrice *big.Int) DownloadOptionFunc {
	return func(o *downloadOptions) {
		o.maxPrice = maxPrice
	}
}

// WithDistribute marks the stored song as offered to other users
func WithDistribute(distribute bool) DownloadOptionFunc {
	return func(o *downloadOptions) {
		o.distribute = distribute
	}
}

// WithSkipStore returns the song without saving it in the store
func WithSkipStore() DownloadOptionFunc {
	return func(o *downloadOptions) {
		o.skipStore = true
	}
}

// WithProgressFunc specifies a function called after every received frame
func WithProgressFunc(progressFunc chunkfetch.ProgressFunc) DownloadOptionFunc {
	return func(o *downloadOptions) {
		o.progressFunc = progressFunc
	}
}
