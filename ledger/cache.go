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

package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tangletunes/tunes/chunk"
)

// DefaultCacheSize is the default number of chunk hashes kept by a CachedLedger
const DefaultCacheSize = 16384

type chunkKey struct {
	contentId chunk.ContentId
	index     int
}

// CachedLedger wraps a Ledger and keeps the chunk hashes it has seen in an LRU cache.
// Chunk hashes never change once a song is registered. Song metadata, balances and
// distributors are always read through.
type CachedLedger struct {
	Ledger
	hashes *lru.Cache[chunkKey, common.Hash]
	size   int
}

var _ Ledger = (*CachedLedger)(nil)

// NewCachedLedger returns a CachedLedger that holds up to size chunk hashes
func NewCachedLedger(upstream Ledger, size int) (*CachedLedger, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[chunkKey, common.Hash](size)
	if err != nil {
		return nil, err
	}
	return &CachedLedger{
		Ledger: upstream,
		hashes: cache,
		size:   size,
	}, nil
}

// ChunkHashes serves the range from the cache when every hash in it is present and
// otherwise fetches the whole range from the wrapped ledger
func (c *CachedLedger) ChunkHashes(
	ctx context.Context,
	contentId chunk.ContentId,
	firstChunkId int,
	count int,
) ([]common.Hash, error) {
	ret := make([]common.Hash, 0, count)
	for i := firstChunkId; i < firstChunkId+count; i++ {
		hash, ok := c.hashes.Get(chunkKey{contentId: contentId, index: i})
		if !ok {
			break
		}
		ret = append(ret, hash)
	}
	if len(ret) == count {
		return ret, nil
	}
	hashes, err := c.Ledger.ChunkHashes(ctx, contentId, firstChunkId, count)
	if err != nil {
		return nil, err
	}
	// A short answer is left to the verifier and never cached
	if len(hashes) == count {
		for i, hash := range hashes {
			c.hashes.Add(chunkKey{contentId: contentId, index: firstChunkId + i}, hash)
		}
	}
	return hashes, nil
}

// Len returns the number of cached chunk hashes
func (c *CachedLedger) Len() int {
	return c.hashes.Len()
}

// MaxSize returns the maximum number of cached chunk hashes
func (c *CachedLedger) MaxSize() int {
	return c.size
}

// Purge drops all cached chunk hashes
func (c *CachedLedger) Purge() {
	c.hashes.Purge()
}
