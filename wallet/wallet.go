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

// Package wallet signs the payment transactions that authorize chunk requests.
//
// Every request sent to a distributor carries a signed get_chunks transaction. The
// distributor submits it to the chain to get paid, so each one needs its own nonce.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/tangletunes/tunes/chunk"
	ethledger "github.com/tangletunes/tunes/ledger/ethereum"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

// DefaultGasLimit is the gas limit of a get_chunks transaction
const DefaultGasLimit uint64 = 200_000

var (
	ErrNoPrivateKey = errors.New("no private key configured")
	ErrNoChainId    = errors.New("no chain ID configured")
)

// ChainState provides the account nonce and gas price. ethclient.Client satisfies it.
type ChainState interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

var _ chunkfetch.Authorizer = (*Wallet)(nil)

// Wallet holds the downloader's account key. It is safe for concurrent use.
type Wallet struct {
	key        *ecdsa.PrivateKey
	address    common.Address
	chainId    *big.Int
	contract   common.Address
	gasLimit   uint64
	gasPrice   *big.Int
	chainState ChainState
	logger     *slog.Logger
	// nonceMutex serializes nonce allocation
	nonceMutex  sync.Mutex
	nonce       uint64
	nonceLoaded bool
}

// WalletOptionFunc represents a function used to modify a Wallet
type WalletOptionFunc func(*Wallet) error

// WithPrivateKey specifies the account key
func WithPrivateKey(key *ecdsa.PrivateKey) WalletOptionFunc {
	return func(w *Wallet) error {
		w.key = key
		return nil
	}
}

// WithPrivateKeyHex specifies the account key as a hex string with an optional 0x prefix
func WithPrivateKeyHex(keyHex string) WalletOptionFunc {
	return func(w *Wallet) error {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
		if err != nil {
			return fmt.Errorf("invalid private key: %w", err)
		}
		w.key = key
		return nil
	}
}

// WithChainId specifies the EIP-155 chain ID
func WithChainId(chainId uint64) WalletOptionFunc {
	return func(w *Wallet) error {
		w.chainId = new(big.Int).SetUint64(chainId)
		return nil
	}
}

// WithContract specifies the address of the TangleTunes contract
func WithContract(contract common.Address) WalletOptionFunc {
	return func(w *Wallet) error {
		w.contract = contract
		return nil
	}
}

// WithGasLimit specifies the gas limit of signed transactions
func WithGasLimit(gasLimit uint64) WalletOptionFunc {
	return func(w *Wallet) error {
		w.gasLimit = gasLimit
		return nil
	}
}

// WithGasPrice specifies a fixed gas price. Without it the price is asked from the chain
// state once and reused.
func WithGasPrice(gasPrice *big.Int) WalletOptionFunc {
	return func(w *Wallet) error {
		w.gasPrice = gasPrice
		return nil
	}
}

// WithChainState specifies where the starting nonce and the gas price come from. Without
// it, nonces start at 0.
func WithChainState(chainState ChainState) WalletOptionFunc {
	return func(w *Wallet) error {
		w.chainState = chainState
		return nil
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) WalletOptionFunc {
	return func(w *Wallet) error {
		w.logger = logger
		return nil
	}
}

// New returns a Wallet with the specified options
func New(options ...WalletOptionFunc) (*Wallet, error) {
	w := &Wallet{
		gasLimit: DefaultGasLimit,
	}
	for _, option := range options {
		if err := option(w); err != nil {
			return nil, err
		}
	}
	if w.key == nil {
		return nil, ErrNoPrivateKey
	}
	if w.chainId == nil || w.chainId.Sign() == 0 {
		return nil, ErrNoChainId
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w.address = crypto.PubkeyToAddress(w.key.PublicKey)
	return w, nil
}

// Address returns the account address of the wallet
func (w *Wallet) Address() common.Address {
	return w.address
}

// BuildRequestPayload returns an RLP encoded, EIP-155 signed transaction that calls
// get_chunks for count chunks starting at startChunkId, paying distributor
func (w *Wallet) BuildRequestPayload(
	ctx context.Context,
	contentId chunk.ContentId,
	startChunkId int,
	count int,
	distributor common.Address,
) ([]byte, error) {
	data, err := ethledger.PackGetChunks(contentId, startChunkId, count, distributor)
	if err != nil {
		return nil, err
	}
	tx, err := w.SignTx(ctx, data)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(tx)
}

// SignTx signs a contract call carrying data with the next nonce
func (w *Wallet) SignTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	w.nonceMutex.Lock()
	defer w.nonceMutex.Unlock()
	if err := w.loadChainState(ctx); err != nil {
		return nil, err
	}
	contract := w.contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    w.nonce,
		GasPrice: w.gasPrice,
		Gas:      w.gasLimit,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(w.chainId), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	w.logger.Debug(
		"signed transaction",
		"component", "wallet",
		"nonce", w.nonce,
		"tx_hash", signed.Hash().Hex(),
	)
	w.nonce++
	return signed, nil
}

// Nonce returns the nonce that the next signed transaction will use
func (w *Wallet) Nonce() uint64 {
	w.nonceMutex.Lock()
	defer w.nonceMutex.Unlock()
	return w.nonce
}

// loadChainState must be called with nonceMutex held
func (w *Wallet) loadChainState(ctx context.Context) error {
	if w.gasPrice == nil {
		if w.chainState == nil {
			w.gasPrice = big.NewInt(0)
		} else {
			gasPrice, err := w.chainState.SuggestGasPrice(ctx)
			if err != nil {
				return fmt.Errorf("get gas price: %w", err)
			}
			w.gasPrice = gasPrice
		}
	}
	if w.nonceLoaded {
		return nil
	}
	if w.chainState != nil {
		nonce, err := w.chainState.PendingNonceAt(ctx, w.address)
		if err != nil {
			return fmt.Errorf("get account nonce: %w", err)
		}
		w.nonce = nonce
	}
	w.nonceLoaded = true
	return nil
}
