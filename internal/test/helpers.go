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

package test

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
)

// DecodeHexString is a helper function for tests that decodes hex strings. It doesn't return
// an error value, which makes it usable inline.
func DecodeHexString(hexData string) []byte {
	// Strip off any leading/trailing whitespace and 0x prefix in hex string
	hexData = strings.TrimPrefix(strings.TrimSpace(hexData), "0x")
	decoded, err := hex.DecodeString(hexData)
	if err != nil {
		panic(fmt.Sprintf("error decoding hex: %s", err))
	}
	return decoded
}

// SongData returns length bytes of deterministic pseudo-random content for the given seed
func SongData(length int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x5eed))
	ret := make([]byte, length)
	for i := range ret {
		ret[i] = byte(r.UintN(256))
	}
	return ret
}
