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

package wallet_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangletunes/tunes/chunk"
	ethledger "github.com/tangletunes/tunes/ledger/ethereum"
	"github.com/tangletunes/tunes/wallet"
)

// Well-known development key
const testKeyHex = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testAddress     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testContract    = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	testDistributor = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

type testChainState struct {
	nonce    uint64
	gasPrice int64
	err      error
}

func (s *testChainState) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return s.nonce, s.err
}

func (s *testChainState) SuggestGasPrice(context.Context) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return big.NewInt(s.gasPrice), nil
}

func newTestWallet(t *testing.T, options ...wallet.WalletOptionFunc) *wallet.Wallet {
	w, err := wallet.New(
		append(
			[]wallet.WalletOptionFunc{
				wallet.WithPrivateKeyHex(testKeyHex),
				wallet.WithChainId(1074),
				wallet.WithContract(testContract),
			},
			options...,
		)...,
	)
	require.NoError(t, err)
	return w
}

func decodeTx(t *testing.T, payload []byte) *types.Transaction {
	tx := new(types.Transaction)
	require.NoError(t, rlp.DecodeBytes(payload, tx))
	return tx
}

func TestAddress(t *testing.T) {
	w := newTestWallet(t)
	assert.Equal(t, testAddress, w.Address())
}

func TestNewErrors(t *testing.T) {
	_, err := wallet.New(wallet.WithChainId(1))
	assert.ErrorIs(t, err, wallet.ErrNoPrivateKey)
	_, err = wallet.New(wallet.WithPrivateKeyHex(testKeyHex))
	assert.ErrorIs(t, err, wallet.ErrNoChainId)
	_, err = wallet.New(wallet.WithPrivateKeyHex("zz"))
	assert.ErrorContains(t, err, "invalid private key")
}

func TestBuildRequestPayload(t *testing.T) {
	w := newTestWallet(
		t,
		wallet.WithChainState(&testChainState{nonce: 7, gasPrice: 1000}),
	)
	songId := chunk.ContentId{0xaa, 0xbb}
	payload, err := w.BuildRequestPayload(context.Background(), songId, 40, 20, testDistributor)
	require.NoError(t, err)
	tx := decodeTx(t, payload)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, int64(1000), tx.GasPrice().Int64())
	assert.Equal(t, wallet.DefaultGasLimit, tx.Gas())
	assert.Equal(t, testContract, *tx.To())
	assert.Equal(t, int64(1074), tx.ChainId().Int64())
	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1074)), tx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, sender)
	expectedData, err := ethledger.PackGetChunks(songId, 40, 20, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, expectedData, tx.Data())
	assert.Equal(t, uint64(8), w.Nonce())
}

func TestNoncesAreUnique(t *testing.T) {
	w := newTestWallet(t, wallet.WithGasPrice(big.NewInt(1)))
	var wg sync.WaitGroup
	var mutex sync.Mutex
	seen := make(map[uint64]bool)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := w.BuildRequestPayload(
				context.Background(),
				chunk.ContentId{},
				0,
				1,
				testDistributor,
			)
			if !assert.NoError(t, err) {
				return
			}
			tx := new(types.Transaction)
			if !assert.NoError(t, rlp.DecodeBytes(payload, tx)) {
				return
			}
			mutex.Lock()
			seen[tx.Nonce()] = true
			mutex.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
	for i := uint64(0); i < 20; i++ {
		assert.True(t, seen[i], "missing nonce %d", i)
	}
}

func TestChainStateError(t *testing.T) {
	testErr := errors.New("node unavailable")
	w := newTestWallet(t, wallet.WithChainState(&testChainState{err: testErr}))
	_, err := w.BuildRequestPayload(context.Background(), chunk.ContentId{}, 0, 1, testDistributor)
	assert.ErrorIs(t, err, testErr)
	// Nothing was consumed
	assert.Equal(t, uint64(0), w.Nonce())
}
