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

// Package ethereum reads the TangleTunes contract on an EVM chain through go-ethereum
package ethereum

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/ledger"
)

var _ ledger.Ledger = (*Client)(nil)

// Client implements ledger.Ledger with read-only calls against the contract
type Client struct {
	caller   geth.ContractCaller
	contract common.Address
	from     common.Address
	abi      abi.ABI
	logger   *slog.Logger
}

// ClientOptionFunc represents a function used to modify a Client
type ClientOptionFunc func(*Client)

// WithFrom specifies the account used as the sender of contract calls
func WithFrom(from common.Address) ClientOptionFunc {
	return func(c *Client) {
		c.from = from
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) ClientOptionFunc {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a Client that calls the contract at address contract through caller
func NewClient(
	caller geth.ContractCaller,
	contract common.Address,
	options ...ClientOptionFunc,
) (*Client, error) {
	parsed, err := ContractABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract ABI: %w", err)
	}
	c := &Client{
		caller:   caller,
		contract: contract,
		abi:      parsed,
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// Dial connects to the node at nodeUrl and returns a Client for the contract along with the
// underlying node client, which the caller must close
func Dial(
	ctx context.Context,
	nodeUrl string,
	contract common.Address,
	options ...ClientOptionFunc,
) (*Client, *ethclient.Client, error) {
	ethClient, err := ethclient.DialContext(ctx, nodeUrl)
	if err != nil {
		return nil, nil, fmt.Errorf("dial node %s: %w", nodeUrl, err)
	}
	c, err := NewClient(ethClient, contract, options...)
	if err != nil {
		ethClient.Close()
		return nil, nil, err
	}
	return c, ethClient, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	contract := c.contract
	msg := geth.CallMsg{
		From: c.from,
		To:   &contract,
		Data: data,
	}
	c.logger.Debug(
		"calling contract",
		"component", "ledger",
		"method", method,
	)
	ret, err := c.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) SongInfo(
	ctx context.Context,
	contentId chunk.ContentId,
) (ledger.SongInfo, error) {
	out, err := c.call(ctx, MethodSongs, [32]byte(contentId))
	if err != nil {
		return ledger.SongInfo{}, err
	}
	if len(out) != 6 {
		return ledger.SongInfo{}, fmt.Errorf("unexpected %s result length %d", MethodSongs, len(out))
	}
	length := *abi.ConvertType(out[4], new(*big.Int)).(**big.Int)
	duration := *abi.ConvertType(out[5], new(*big.Int)).(**big.Int)
	return ledger.SongInfo{
		Exists:   *abi.ConvertType(out[0], new(bool)).(*bool),
		Author:   *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		Name:     *abi.ConvertType(out[2], new(string)).(*string),
		Price:    *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		Length:   length.Uint64(),
		Duration: duration.Uint64(),
	}, nil
}

func (c *Client) AccountBalance(
	ctx context.Context,
	account common.Address,
) (*big.Int, error) {
	out, err := c.call(ctx, MethodUsers, account)
	if err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected %s result length %d", MethodUsers, len(out))
	}
	return *abi.ConvertType(out[3], new(*big.Int)).(**big.Int), nil
}

func (c *Client) PickDistributor(
	ctx context.Context,
	contentId chunk.ContentId,
) (ledger.Distribution, error) {
	out, err := c.call(ctx, MethodGetRandDistributor, [32]byte(contentId))
	if err != nil {
		return ledger.Distribution{}, err
	}
	if len(out) != 2 {
		return ledger.Distribution{}, fmt.Errorf(
			"unexpected %s result length %d",
			MethodGetRandDistributor,
			len(out),
		)
	}
	ret := ledger.Distribution{
		Distributor: *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Server:      *abi.ConvertType(out[1], new(string)).(*string),
	}
	// The contract returns the zero address when nobody distributes the song
	if ret.IsZero() {
		return ledger.Distribution{}, ledger.ErrNoDistributor
	}
	return ret, nil
}

func (c *Client) ChunkHashes(
	ctx context.Context,
	contentId chunk.ContentId,
	firstChunkId int,
	count int,
) ([]common.Hash, error) {
	out, err := c.call(
		ctx,
		MethodCheckChunks,
		[32]byte(contentId),
		big.NewInt(int64(firstChunkId)),
		big.NewInt(int64(count)),
	)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", MethodCheckChunks, len(out))
	}
	raw := *abi.ConvertType(out[0], new([][32]byte)).(*[][32]byte)
	ret := make([]common.Hash, len(raw))
	for i, hash := range raw {
		ret[i] = common.Hash(hash)
	}
	return ret, nil
}
