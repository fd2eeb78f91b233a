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

package chunkfetch

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/tangletunes/tunes/chunk"
)

// Verifier checks downloaded chunks against the hashes stored in the ledger
type Verifier struct {
	hashSource HashSource
	chunkSize  int
}

// NewVerifier returns a Verifier that uses hashSource as the authoritative source of chunk hashes
func NewVerifier(hashSource HashSource, chunkSize int) *Verifier {
	return &Verifier{
		hashSource: hashSource,
		chunkSize:  chunkSize,
	}
}

// Verify reports whether data, which starts at chunk firstChunkId, matches the chunk hashes
// stored in the ledger. Errors from the ledger are returned unchanged.
func (v *Verifier) Verify(
	ctx context.Context,
	contentId chunk.ContentId,
	data []byte,
	firstChunkId int,
) (bool, error) {
	mismatch, err := v.firstMismatch(ctx, contentId, data, firstChunkId)
	if err != nil {
		return false, err
	}
	return mismatch < 0, nil
}

// firstMismatch returns the offset within data of the first chunk that does not match, or -1
func (v *Verifier) firstMismatch(
	ctx context.Context,
	contentId chunk.ContentId,
	data []byte,
	firstChunkId int,
) (int, error) {
	if v.hashSource == nil {
		return 0, errors.New("no chunk hash source configured")
	}
	count := chunk.Count(len(data), v.chunkSize)
	expected, err := v.hashSource.ChunkHashes(ctx, contentId, firstChunkId, count)
	if err != nil {
		return 0, err
	}
	calculated := HashChunks(data, v.chunkSize)
	for i := 0; i < min(len(expected), len(calculated)); i++ {
		if expected[i] != calculated[i] {
			return i, nil
		}
	}
	if len(expected) != len(calculated) {
		return min(len(expected), len(calculated)), nil
	}
	return -1, nil
}

// Keccak256 returns the legacy Keccak-256 digest used by the ledger for chunk hashes
func Keccak256(data []byte) common.Hash {
	var ret common.Hash
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(ret[:0])
	return ret
}

// HashChunks splits data into chunks and returns the digest of each one
func HashChunks(data []byte, chunkSize int) []common.Hash {
	chunks := chunk.Split(data, chunkSize)
	ret := make([]common.Hash, 0, len(chunks))
	for _, c := range chunks {
		ret = append(ret, Keccak256(c))
	}
	return ret
}
