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

// Package chunk defines how a song's byte stream maps to fixed-size, indexed chunks.
//
// Every chunk of a song is Size bytes long except the last one, which may be
// shorter. All functions in this package are pure.
package chunk

// Size is the number of bytes in every chunk except the last chunk of a song.
// It matches the chunk size used by the TangleTunes contract when it stores chunk hashes.
const Size = 32_500

// Count returns the number of chunks needed to hold totalBytes bytes
func Count(totalBytes int, chunkSize int) int {
	if totalBytes <= 0 {
		return 0
	}
	return (totalBytes + chunkSize - 1) / chunkSize
}

// IsTransferComplete reports whether a download buffer of bufferLen bytes covers
// requestedChunks chunks.
//
// This is a boundary heuristic, not an exact byte count: it returns true as soon as
// bufferLen + chunkSize > requestedChunks * chunkSize, which is the first moment at
// least one byte of the last expected chunk has been received. The last chunk of a
// song may be short, so the buffer cannot be expected to reach a whole multiple of
// chunkSize.
func IsTransferComplete(bufferLen int, requestedChunks int, chunkSize int) bool {
	return bufferLen+chunkSize > requestedChunks*chunkSize
}

// ByteOffset returns the offset of the first byte of the chunk with the given index
func ByteOffset(index int, chunkSize int) int {
	return index * chunkSize
}

// Split partitions data into chunkSize slices. The last slice may be shorter.
// The returned slices share memory with data.
func Split(data []byte, chunkSize int) [][]byte {
	ret := make([][]byte, 0, Count(len(data), chunkSize))
	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		ret = append(ret, data[start:end])
	}
	return ret
}
