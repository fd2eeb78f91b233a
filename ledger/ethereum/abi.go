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

package ethereum

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tangletunes/tunes/chunk"
)

// Contract method names
const (
	MethodSongs              = "songs"
	MethodUsers              = "users"
	MethodGetRandDistributor = "get_rand_distributor"
	MethodCheckChunks        = "check_chunks"
	MethodGetChunks          = "get_chunks"
)

// ContractABIJSON is the subset of the TangleTunes contract ABI used by a downloader
const ContractABIJSON = `[
	{
		"type": "function",
		"name": "songs",
		"stateMutability": "view",
		"inputs": [{"name": "", "type": "bytes32"}],
		"outputs": [
			{"name": "exists", "type": "bool"},
			{"name": "author", "type": "address"},
			{"name": "name", "type": "string"},
			{"name": "price", "type": "uint256"},
			{"name": "length", "type": "uint256"},
			{"name": "duration", "type": "uint256"}
		]
	},
	{
		"type": "function",
		"name": "users",
		"stateMutability": "view",
		"inputs": [{"name": "", "type": "address"}],
		"outputs": [
			{"name": "exists", "type": "bool"},
			{"name": "username", "type": "string"},
			{"name": "description", "type": "string"},
			{"name": "balance", "type": "uint256"}
		]
	},
	{
		"type": "function",
		"name": "get_rand_distributor",
		"stateMutability": "view",
		"inputs": [{"name": "_song", "type": "bytes32"}],
		"outputs": [
			{"name": "", "type": "address"},
			{"name": "", "type": "string"}
		]
	},
	{
		"type": "function",
		"name": "check_chunks",
		"stateMutability": "view",
		"inputs": [
			{"name": "_song", "type": "bytes32"},
			{"name": "_index", "type": "uint256"},
			{"name": "_amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bytes32[]"}]
	},
	{
		"type": "function",
		"name": "get_chunks",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "_song", "type": "bytes32"},
			{"name": "_index", "type": "uint256"},
			{"name": "_amount", "type": "uint256"},
			{"name": "_distributor", "type": "address"}
		],
		"outputs": []
	}
]`

var (
	contractABI     abi.ABI
	contractABIErr  error
	contractABIOnce sync.Once
)

// ContractABI returns the parsed contract ABI
func ContractABI() (abi.ABI, error) {
	contractABIOnce.Do(func() {
		contractABI, contractABIErr = abi.JSON(strings.NewReader(ContractABIJSON))
	})
	return contractABI, contractABIErr
}

// PackGetChunks returns the calldata of a get_chunks call, which pays distributor for count
// chunks of a song starting at startChunkId
func PackGetChunks(
	contentId chunk.ContentId,
	startChunkId int,
	count int,
	distributor common.Address,
) ([]byte, error) {
	parsed, err := ContractABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack(
		MethodGetChunks,
		[32]byte(contentId),
		big.NewInt(int64(startChunkId)),
		big.NewInt(int64(count)),
		distributor,
	)
}
