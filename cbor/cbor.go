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

// Package cbor wraps fxamacker/cbor with the encoding and decoding modes used for
// records persisted by this module
package cbor

import (
	"fmt"
	"sync"

	_cbor "github.com/fxamacker/cbor/v2"
)

// StructAsArray can be embedded in a record to encode it as a CBOR array instead of a map
type StructAsArray struct {
	_ struct{} `cbor:",toarray"`
}

// Records are deterministic so equal values always produce equal bytes. Times are
// stored as whole Unix seconds.
var encMode = sync.OnceValues(func() (_cbor.EncMode, error) {
	return _cbor.EncOptions{
		Sort: _cbor.SortCoreDeterministic,
		Time: _cbor.TimeUnix,
	}.EncMode()
})

var decMode = sync.OnceValues(func() (_cbor.DecMode, error) {
	return _cbor.DecOptions{
		DupMapKey:         _cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: _cbor.ExtraDecErrorUnknownField,
	}.DecMode()
})

// Encode returns the CBOR encoding of v
func Encode(v any) ([]byte, error) {
	em, err := encMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(v)
}

// DecodeStrict decodes data into dest and fails if anything is left over
func DecodeStrict(data []byte, dest any) error {
	dm, err := decMode()
	if err != nil {
		return err
	}
	rest, err := dm.UnmarshalFirst(data, dest)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("found %d trailing bytes after CBOR item", len(rest))
	}
	return nil
}
