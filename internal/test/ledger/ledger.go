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

package test_ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/ledger"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

// Compile-time check that MockLedger implements Ledger
var _ ledger.Ledger = (*MockLedger)(nil)

// MockSong is a song registered in a MockLedger along with its full content
type MockSong struct {
	Info ledger.SongInfo
	Data []byte
}

// MockLedger is the canonical in-memory ledger used by tests. Chunk hashes are
// calculated from the registered song data, so a MockLedger is authoritative for
// whatever bytes were added with AddSong.
type MockLedger struct {
	// ChunkHashesFunc optionally overrides chunk hash lookups
	ChunkHashesFunc func(chunk.ContentId, int, int) ([]common.Hash, error)
	// SongInfoErr, BalanceErr and DistributorErr are returned by the matching calls when set
	SongInfoErr    error
	BalanceErr     error
	DistributorErr error

	mutex            sync.Mutex
	chunkSize        int
	songs            map[chunk.ContentId]MockSong
	balances         map[common.Address]*big.Int
	distributors     map[chunk.ContentId][]ledger.Distribution
	nextDistributor  map[chunk.ContentId]int
	chunkHashesCalls int
}

// NewMockLedger returns an empty MockLedger that splits songs into chunks of chunkSize
func NewMockLedger(chunkSize int) *MockLedger {
	return &MockLedger{
		chunkSize:       chunkSize,
		songs:           make(map[chunk.ContentId]MockSong),
		balances:        make(map[common.Address]*big.Int),
		distributors:    make(map[chunk.ContentId][]ledger.Distribution),
		nextDistributor: make(map[chunk.ContentId]int),
	}
}

// AddSong registers data as a song with the given price per chunk and returns its id
func (m *MockLedger) AddSong(data []byte, price int64) chunk.ContentId {
	id := chunk.ContentId(chunkfetch.Keccak256(data))
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.songs[id] = MockSong{
		Info: ledger.SongInfo{
			Exists:   true,
			Name:     fmt.Sprintf("song %s", id.String()[:8]),
			Price:    big.NewInt(price),
			Length:   uint64(len(data)),
			Duration: uint64(len(data) / 16000),
		},
		Data: data,
	}
	return id
}

// AddDistributor registers a distributor for a song. Distributors are handed out in
// the order they were added.
func (m *MockLedger) AddDistributor(
	contentId chunk.ContentId,
	distribution ledger.Distribution,
) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.distributors[contentId] = append(m.distributors[contentId], distribution)
}

// SetBalance sets the deposited balance of an account
func (m *MockLedger) SetBalance(account common.Address, balance int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.balances[account] = big.NewInt(balance)
}

// ChunkHashesCalls returns the number of ChunkHashes calls that were not served by ChunkHashesFunc
func (m *MockLedger) ChunkHashesCalls() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.chunkHashesCalls
}

func (m *MockLedger) SongInfo(
	_ context.Context,
	contentId chunk.ContentId,
) (ledger.SongInfo, error) {
	if m.SongInfoErr != nil {
		return ledger.SongInfo{}, m.SongInfoErr
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	song, ok := m.songs[contentId]
	if !ok {
		// The contract returns a zero record for unknown songs
		return ledger.SongInfo{Price: new(big.Int)}, nil
	}
	return song.Info, nil
}

func (m *MockLedger) AccountBalance(
	_ context.Context,
	account common.Address,
) (*big.Int, error) {
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	balance, ok := m.balances[account]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *MockLedger) PickDistributor(
	_ context.Context,
	contentId chunk.ContentId,
) (ledger.Distribution, error) {
	if m.DistributorErr != nil {
		return ledger.Distribution{}, m.DistributorErr
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	distributors := m.distributors[contentId]
	if len(distributors) == 0 {
		return ledger.Distribution{}, ledger.ErrNoDistributor
	}
	idx := m.nextDistributor[contentId]
	m.nextDistributor[contentId] = (idx + 1) % len(distributors)
	return distributors[idx], nil
}

func (m *MockLedger) ChunkHashes(
	_ context.Context,
	contentId chunk.ContentId,
	firstChunkId int,
	count int,
) ([]common.Hash, error) {
	if m.ChunkHashesFunc != nil {
		return m.ChunkHashesFunc(contentId, firstChunkId, count)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.chunkHashesCalls++
	song, ok := m.songs[contentId]
	if !ok {
		return nil, ledger.ErrSongNotFound
	}
	hashes := chunkfetch.HashChunks(song.Data, m.chunkSize)
	if firstChunkId < 0 || firstChunkId > len(hashes) {
		return nil, fmt.Errorf("chunk %d out of range", firstChunkId)
	}
	end := min(firstChunkId+count, len(hashes))
	ret := make([]common.Hash, end-firstChunkId)
	copy(ret, hashes[firstChunkId:end])
	return ret, nil
}
