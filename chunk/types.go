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

package chunk

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const ContentIdSize = 32

// ContentId uniquely identifies a song. It is the 32-byte id the ledger uses as a key.
type ContentId [ContentIdSize]byte

// NewContentId creates a ContentId from a byte slice
func NewContentId(data []byte) (ContentId, error) {
	var ret ContentId
	if len(data) != ContentIdSize {
		return ret, fmt.Errorf(
			"invalid content ID length: expected %d bytes, got %d",
			ContentIdSize,
			len(data),
		)
	}
	copy(ret[:], data)
	return ret, nil
}

// ParseContentId parses a hex encoded content ID. A leading "0x" is allowed.
func ParseContentId(s string) (ContentId, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	data, err := hex.DecodeString(s)
	if err != nil {
		return ContentId{}, fmt.Errorf("invalid content ID %q: %w", s, err)
	}
	return NewContentId(data)
}

func (c ContentId) String() string {
	return hex.EncodeToString(c[:])
}

func (c ContentId) Bytes() []byte {
	return c[:]
}

// Range is a half-open interval [First, Last) of chunk indices
type Range struct {
	First int
	Last  int
}

var ErrInvalidRange = errors.New("invalid chunk range")

// NewRange returns the range [first, last)
func NewRange(first int, last int) (Range, error) {
	if first < 0 || first > last {
		return Range{}, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, first, last)
	}
	return Range{First: first, Last: last}, nil
}

// Len returns the number of chunks in the range
func (r Range) Len() int {
	return r.Last - r.First
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.First, r.Last)
}
