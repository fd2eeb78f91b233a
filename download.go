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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/ledger"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

// Download buys the whole song and fetches it from distributors picked by the ledger.
//
// A failed attempt is retried with another distributor when the failure was caused by the
// distributor: a connection problem, a stream that ended early, a protocol violation or data
// that failed verification. Distributors that sent bad data are not picked again during this
// call. The song is saved in the store, if there is one, only after it was fully verified.
func (a *App) Download(
	ctx context.Context,
	contentId chunk.ContentId,
	options ...DownloadOptionFunc,
) ([]byte, error) {
	var opts downloadOptions
	for _, option := range options {
		option(&opts)
	}
	logger := a.logger.With(
		"component", "app",
		"song_id", contentId.String(),
	)
	info, err := a.ledger.SongInfo(ctx, contentId)
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		return nil, fmt.Errorf("%w: %s", ErrSongNotFound, contentId)
	}
	price := info.Price
	if price == nil {
		price = new(big.Int)
	}
	if opts.maxPrice != nil && price.Cmp(opts.maxPrice) > 0 {
		return nil, fmt.Errorf(
			"%w: %s per chunk, accepted %s",
			ErrTooExpensive,
			price,
			opts.maxPrice,
		)
	}
	chunkCount := chunk.Count(int(info.Length), a.chunkSize)
	totalPrice := new(big.Int).Mul(price, big.NewInt(int64(chunkCount)))
	balance, err := a.ledger.AccountBalance(ctx, a.wallet.Address())
	if err != nil {
		return nil, err
	}
	if totalPrice.Cmp(balance) > 0 {
		return nil, fmt.Errorf(
			"%w: song costs %s, balance is %s",
			ErrInsufficientFunds,
			totalPrice,
			balance,
		)
	}
	logger.Info(
		fmt.Sprintf("downloading %q (%d chunks for %s)", info.Name, chunkCount, totalPrice),
	)
	backoff := retry.NewExponential(a.retryBackoff)
	backoff = retry.WithMaxRetries(uint64(a.maxAttempts-1), backoff)
	excluded := make(map[common.Address]struct{})
	attempt := 0
	var data []byte
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		distribution, err := a.pickDistributor(ctx, contentId, excluded)
		if err != nil {
			return err
		}
		data, err = a.fetch(
			ctx,
			distribution,
			contentId,
			chunk.Range{First: 0, Last: chunkCount},
			opts.progressFunc,
		)
		if err == nil {
			return nil
		}
		if errors.Is(err, chunkfetch.ErrProtocolViolation) ||
			errors.Is(err, chunkfetch.ErrVerificationFailed) {
			excluded[distribution.Distributor] = struct{}{}
		}
		if ctx.Err() != nil || !isRetryable(err) {
			return err
		}
		logger.Warn(
			fmt.Sprintf("download attempt %d of %d failed: %s", attempt, a.maxAttempts, err),
			"distributor", distribution.Distributor.Hex(),
		)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	if a.store != nil && !opts.skipStore {
		if err := a.store.Put(contentId, data, opts.distribute); err != nil {
			return nil, err
		}
	}
	logger.Info(fmt.Sprintf("downloaded %d bytes", len(data)))
	return data, nil
}

// DownloadFromDistributor fetches a chunk range from a known distributor. It makes a single
// attempt and does not touch the store.
func (a *App) DownloadFromDistributor(
	ctx context.Context,
	contentId chunk.ContentId,
	distribution ledger.Distribution,
	chunkRange chunk.Range,
	options ...DownloadOptionFunc,
) ([]byte, error) {
	var opts downloadOptions
	for _, option := range options {
		option(&opts)
	}
	return a.fetch(ctx, distribution, contentId, chunkRange, opts.progressFunc)
}

// pickDistributor asks the ledger for a distributor that is not excluded. Each excluded
// distributor allows one more pick.
func (a *App) pickDistributor(
	ctx context.Context,
	contentId chunk.ContentId,
	excluded map[common.Address]struct{},
) (ledger.Distribution, error) {
	for range len(excluded) + 1 {
		distribution, err := a.ledger.PickDistributor(ctx, contentId)
		if err != nil {
			return ledger.Distribution{}, err
		}
		if _, ok := excluded[distribution.Distributor]; !ok {
			return distribution, nil
		}
	}
	return ledger.Distribution{}, fmt.Errorf(
		"%w: every distributor picked has already failed",
		ErrNoDistributor,
	)
}

func (a *App) fetch(
	ctx context.Context,
	distribution ledger.Distribution,
	contentId chunk.ContentId,
	chunkRange chunk.Range,
	progressFunc chunkfetch.ProgressFunc,
) ([]byte, error) {
	if a.metrics != nil {
		a.metrics.RecordAttempt()
	}
	// The same ID tags the protocol client's records for this attempt
	attemptId := uuid.NewString()
	a.logger.Debug(
		fmt.Sprintf("requesting chunks %s from %s", chunkRange, distribution.Server),
		"component", "app",
		"song_id", contentId.String(),
		"distributor", distribution.Distributor.Hex(),
		"attempt_id", attemptId,
	)
	if a.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.downloadTimeout)
		defer cancel()
	}
	conn, err := a.connect(ctx, distribution.Server)
	if err != nil {
		return nil, err
	}
	// The chunk fetch client closes the connection
	return a.client.Download(
		ctx,
		conn,
		chunkfetch.Request{
			ContentId:    contentId,
			FirstChunk:   chunkRange.First,
			ChunkCount:   chunkRange.Len(),
			Distributor:  distribution.Distributor,
			AttemptId:    attemptId,
			ProgressFunc: progressFunc,
		},
	)
}

// isRetryable reports whether another distributor might succeed where this one failed
func isRetryable(err error) bool {
	return errors.Is(err, chunkfetch.ErrConnection) ||
		errors.Is(err, chunkfetch.ErrStreamClosedEarly) ||
		errors.Is(err, chunkfetch.ErrProtocolViolation) ||
		errors.Is(err, chunkfetch.ErrVerificationFailed)
}
