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
	"errors"
	"fmt"
)

var (
	// ErrConnection means the transport could not be established or failed at the I/O layer
	ErrConnection = errors.New("connection error")
	// ErrStreamClosedEarly means the distributor closed the stream before the range was assembled
	ErrStreamClosedEarly = errors.New(
		"distributor closed stream before all data was received",
	)
	// ErrProtocolViolation means the distributor sent data that does not fit the requested range.
	// Callers should not use the same distributor again for this download.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrVerificationFailed means the downloaded chunks do not match the hashes in the ledger
	ErrVerificationFailed = errors.New("chunk verification failed")
	// ErrInvalidRequest means the download request itself is malformed
	ErrInvalidRequest = errors.New("invalid download request")
)

// ProtocolViolationError describes a frame that broke the contiguity rules
type ProtocolViolationError struct {
	Reason   string
	Expected int
	Got      int
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf(
		"%s: %s (expected chunk %d, got %d)",
		ErrProtocolViolation,
		e.Reason,
		e.Expected,
		e.Got,
	)
}

func (e *ProtocolViolationError) Unwrap() error {
	return ErrProtocolViolation
}

// VerificationError identifies the first chunk whose hash did not match the ledger
type VerificationError struct {
	ChunkId int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: first mismatch at chunk %d", ErrVerificationFailed, e.ChunkId)
}

func (e *VerificationError) Unwrap() error {
	return ErrVerificationFailed
}
