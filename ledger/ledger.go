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

// Package ledger describes the smart-contract ledger that holds song metadata, account
// balances, distributor registrations and the authoritative chunk hashes
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangletunes/tunes/chunk"
)

// Ledger is the read side of the contract used by downloaders. Implementations must be
// safe for concurrent use.
type Ledger interface {
	// SongInfo returns the metadata registered for a song
	SongInfo(ctx context.Context, contentId chunk.ContentId) (SongInfo, error)
	// AccountBalance returns the deposited balance of an account
	AccountBalance(ctx context.Context, account common.Address) (*big.Int, error)
	// PickDistributor returns a random distributor of a song. It returns
	// ErrNoDistributor when nobody distributes the song.
	PickDistributor(ctx context.Context, contentId chunk.ContentId) (Distribution, error)
	// ChunkHashes returns the hashes of count chunks starting at firstChunkId
	ChunkHashes(
		ctx context.Context,
		contentId chunk.ContentId,
		firstChunkId int,
		count int,
	) ([]common.Hash, error)
}

// SongInfo is the metadata of a registered song
type SongInfo struct {
	Exists bool
	Author common.Address
	Name   string
	// Price is the price of a single chunk
	Price *big.Int
	// Length is the size of the song in bytes
	Length uint64
	// Duration is the play time of the song in seconds
	Duration uint64
}

// ChunkCount returns the number of chunks that make up the song
func (s SongInfo) ChunkCount() int {
	return chunk.Count(int(s.Length), chunk.Size)
}

// TotalPrice returns the price of downloading the whole song
func (s SongInfo) TotalPrice() *big.Int {
	if s.Price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(s.Price, big.NewInt(int64(s.ChunkCount())))
}

// Distribution identifies a distributor of a song and the server it listens on
type Distribution struct {
	Distributor common.Address
	Server      string
}

// IsZero reports whether the ledger returned no distributor
func (d Distribution) IsZero() bool {
	return d.Distributor == (common.Address{})
}
