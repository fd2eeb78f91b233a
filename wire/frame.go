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

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// RequestHeaderLength is the size of the header in front of every request frame
	RequestHeaderLength = 4
	// ChunksHeaderLength is the size of the header in front of every chunks frame
	ChunksHeaderLength = 8
)

var ErrPayloadTooLarge = errors.New("frame payload too large")

// RequestHeader precedes an opaque, signed chunk request sent by a downloader
type RequestHeader struct {
	PayloadLength uint32
}

// Request is a chunk request frame
type Request struct {
	RequestHeader
	Payload []byte
}

// ChunksHeader precedes one or more contiguous chunks sent by a distributor
type ChunksHeader struct {
	StartChunkId  uint32
	PayloadLength uint32
}

// Chunks is a frame carrying chunk data, starting at StartChunkId
type Chunks struct {
	ChunksHeader
	Payload []byte
}

// NewRequest returns a new request frame for the given payload. It returns nil if the
// payload does not fit in a frame.
func NewRequest(payload []byte) *Request {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil
	}
	return &Request{
		RequestHeader: RequestHeader{
			PayloadLength: uint32(len(payload)),
		},
		Payload: payload,
	}
}

// NewChunks returns a new chunks frame. It returns nil if the payload does not fit in a frame.
func NewChunks(startChunkId uint32, payload []byte) *Chunks {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil
	}
	return &Chunks{
		ChunksHeader: ChunksHeader{
			StartChunkId:  startChunkId,
			PayloadLength: uint32(len(payload)),
		},
		Payload: payload,
	}
}

// WriteRequest writes a request frame with a single call to w.Write
func WriteRequest(w io.Writer, msg *Request) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, msg.RequestHeader); err != nil {
		return err
	}
	buf.Write(msg.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadRequest reads a single request frame. Payloads longer than maxPayloadLength are rejected
// before any payload bytes are read.
func ReadRequest(r io.Reader, maxPayloadLength uint32) (*Request, error) {
	header := RequestHeader{}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, err
	}
	if header.PayloadLength > maxPayloadLength {
		return nil, fmt.Errorf(
			"%w: %d > %d",
			ErrPayloadTooLarge,
			header.PayloadLength,
			maxPayloadLength,
		)
	}
	msg := &Request{
		RequestHeader: header,
		Payload:       make([]byte, header.PayloadLength),
	}
	if _, err := io.ReadFull(r, msg.Payload); err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteChunks writes a chunks frame with a single call to w.Write
func WriteChunks(w io.Writer, msg *Chunks) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, msg.ChunksHeader); err != nil {
		return err
	}
	buf.Write(msg.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadChunks reads a single chunks frame. Payloads longer than maxPayloadLength are rejected
// before any payload bytes are read.
func ReadChunks(r io.Reader, maxPayloadLength uint32) (*Chunks, error) {
	header := ChunksHeader{}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, err
	}
	if header.PayloadLength > maxPayloadLength {
		return nil, fmt.Errorf(
			"%w: %d > %d",
			ErrPayloadTooLarge,
			header.PayloadLength,
			maxPayloadLength,
		)
	}
	msg := &Chunks{
		ChunksHeader: header,
		Payload:      make([]byte, header.PayloadLength),
	}
	// We use ReadFull because it guarantees to read the expected number of bytes or
	// return an error
	if _, err := io.ReadFull(r, msg.Payload); err != nil {
		return nil, err
	}
	return msg, nil
}
