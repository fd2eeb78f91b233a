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

package chunkfetch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/internal/test"
	test_ledger "github.com/tangletunes/tunes/internal/test/ledger"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

const testChunkSize = 100

var testDistributor = common.HexToAddress("0x00000000000000000000000000000000000000d1")

// testTransport is an in-memory Transport. Frames are either queued up front or
// produced by serving requests against songData.
type testTransport struct {
	mutex       sync.Mutex
	frames      chan chunkfetch.Frame
	songData    []byte
	frameChunks int
	sent        []test_ledger.RequestPayload
	sendErr     error
	onSend      func()
	closed      bool
}

func newScriptedTransport(frames ...chunkfetch.Frame) *testTransport {
	t := &testTransport{
		frames: make(chan chunkfetch.Frame, len(frames)),
	}
	for _, frame := range frames {
		t.frames <- frame
	}
	close(t.frames)
	return t
}

func newServingTransport(songData []byte, frameChunks int) *testTransport {
	return &testTransport{
		frames:      make(chan chunkfetch.Frame, 1000),
		songData:    songData,
		frameChunks: frameChunks,
	}
}

// newSilentTransport returns a transport that accepts requests and never answers
func newSilentTransport() *testTransport {
	return &testTransport{
		frames: make(chan chunkfetch.Frame),
	}
}

func (t *testTransport) Send(_ context.Context, payload []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	req, err := test_ledger.DecodeRequestPayload(payload)
	if err != nil {
		return err
	}
	t.sent = append(t.sent, req)
	if t.onSend != nil {
		t.onSend()
	}
	if t.songData == nil {
		return nil
	}
	end := int(req.StartChunkId + req.ChunkCount)
	for start := int(req.StartChunkId); start < end; start += t.frameChunks {
		from := min(start*testChunkSize, len(t.songData))
		to := min(min(start+t.frameChunks, end)*testChunkSize, len(t.songData))
		t.frames <- chunkfetch.Frame{
			StartChunkId: start,
			Payload:      t.songData[from:to],
		}
	}
	return nil
}

func (t *testTransport) NextFrame(ctx context.Context) (chunkfetch.Frame, error) {
	select {
	case <-ctx.Done():
		return chunkfetch.Frame{}, ctx.Err()
	case frame, ok := <-t.frames:
		if !ok {
			return chunkfetch.Frame{}, io.EOF
		}
		return frame, nil
	}
}

func (t *testTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.closed = true
	return nil
}

func (t *testTransport) Closed() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.closed
}

func (t *testTransport) Sent() []test_ledger.RequestPayload {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]test_ledger.RequestPayload{}, t.sent...)
}

type testMetrics struct {
	mutex     sync.Mutex
	requests  int
	frames    int
	downloads int
	lastErr   error
}

func (m *testMetrics) RecordRequest(int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests++
}

func (m *testMetrics) RecordFrame(int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.frames++
}

func (m *testMetrics) RecordDownload(_ time.Duration, _ int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.downloads++
	m.lastErr = err
}

type testFixture struct {
	ledger     *test_ledger.MockLedger
	authorizer *test_ledger.MockAuthorizer
	metrics    *testMetrics
	client     *chunkfetch.Client
	songData   []byte
	songId     chunk.ContentId
}

func newTestFixture(songLength int, options ...chunkfetch.ChunkFetchOptionFunc) *testFixture {
	f := &testFixture{
		ledger:     test_ledger.NewMockLedger(testChunkSize),
		authorizer: &test_ledger.MockAuthorizer{},
		metrics:    &testMetrics{},
		songData:   test.SongData(songLength, uint64(songLength)),
	}
	f.songId = f.ledger.AddSong(f.songData, 1)
	cfg := chunkfetch.NewConfig(
		append(
			[]chunkfetch.ChunkFetchOptionFunc{
				chunkfetch.WithAuthorizer(f.authorizer),
				chunkfetch.WithHashSource(f.ledger),
				chunkfetch.WithChunkSize(testChunkSize),
				chunkfetch.WithMetrics(f.metrics),
			},
			options...,
		)...,
	)
	f.client = chunkfetch.NewClient(&cfg)
	return f
}

func (f *testFixture) request(first int, count int) chunkfetch.Request {
	return chunkfetch.Request{
		ContentId:   f.songId,
		FirstChunk:  first,
		ChunkCount:  count,
		Distributor: testDistributor,
	}
}

func TestDownloadWholeSong(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTestFixture(1000)
	transport := newServingTransport(f.songData, 20)
	data, err := f.client.Download(context.Background(), transport, f.request(0, 10))
	require.NoError(t, err)
	assert.Equal(t, f.songData, data)
	assert.True(t, transport.Closed())
	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(0), sent[0].StartChunkId)
	assert.Equal(t, uint64(10), sent[0].ChunkCount)
	assert.Equal(t, testDistributor, sent[0].Distributor)
	assert.Equal(t, f.songId, sent[0].ContentId)
	assert.Equal(t, 1, f.metrics.requests)
	assert.Equal(t, 1, f.metrics.frames)
	assert.Equal(t, 1, f.metrics.downloads)
	assert.NoError(t, f.metrics.lastErr)
}

func TestDownloadShortLastChunk(t *testing.T) {
	f := newTestFixture(10_050)
	transport := newServingTransport(f.songData, 7)
	var progress []int
	req := f.request(0, 101)
	req.ProgressFunc = func(received int, expected int) {
		assert.Equal(t, 101*testChunkSize, expected)
		progress = append(progress, received)
	}
	data, err := f.client.Download(context.Background(), transport, req)
	require.NoError(t, err)
	assert.Equal(t, f.songData, data)
	require.NotEmpty(t, progress)
	assert.Equal(t, len(f.songData), progress[len(progress)-1])
	var starts []uint64
	for _, r := range transport.Sent() {
		starts = append(starts, r.StartChunkId)
	}
	assert.Equal(t, []uint64{0, 20, 40, 60, 80, 100}, starts)
}

func TestDownloadUnalignedRange(t *testing.T) {
	f := newTestFixture(10_000)
	transport := newServingTransport(f.songData, 20)
	data, err := f.client.Download(context.Background(), transport, f.request(25, 30))
	require.NoError(t, err)
	assert.Equal(t, f.songData[2500:5500], data)
	sent := transport.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(25), sent[0].StartChunkId)
	assert.Equal(t, uint64(15), sent[0].ChunkCount)
	assert.Equal(t, uint64(40), sent[1].StartChunkId)
	assert.Equal(t, uint64(15), sent[1].ChunkCount)
}

func TestDownloadChunkWindow(t *testing.T) {
	f := newTestFixture(
		6000,
		chunkfetch.WithWindow(3, chunkfetch.WindowModeChunks),
	)
	transport := newServingTransport(f.songData, 1)
	data, err := f.client.Download(context.Background(), transport, f.request(0, 60))
	require.NoError(t, err)
	assert.Equal(t, f.songData, data)
	assert.Len(t, transport.Sent(), 3)
	assert.Equal(t, 60, f.metrics.frames)
}

func TestDownloadZeroChunks(t *testing.T) {
	f := newTestFixture(1000)
	transport := newServingTransport(f.songData, 20)
	data, err := f.client.Download(context.Background(), transport, f.request(0, 0))
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Empty(t, transport.Sent())
	assert.True(t, transport.Closed())
}

func TestDownloadInvalidRequest(t *testing.T) {
	f := newTestFixture(1000)
	transport := newServingTransport(f.songData, 20)
	_, err := f.client.Download(context.Background(), transport, f.request(-1, 5))
	assert.ErrorIs(t, err, chunkfetch.ErrInvalidRequest)
	_, err = f.client.Download(context.Background(), transport, f.request(0, -5))
	assert.ErrorIs(t, err, chunkfetch.ErrInvalidRequest)
}

func TestDownloadContiguityViolation(t *testing.T) {
	f := newTestFixture(1000)
	transport := newScriptedTransport(
		chunkfetch.Frame{StartChunkId: 0, Payload: f.songData[0:100]},
		chunkfetch.Frame{StartChunkId: 2, Payload: f.songData[200:300]},
	)
	data, err := f.client.Download(context.Background(), transport, f.request(0, 10))
	assert.Nil(t, data)
	require.ErrorIs(t, err, chunkfetch.ErrProtocolViolation)
	var violation *chunkfetch.ProtocolViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, 1, violation.Expected)
	assert.Equal(t, 2, violation.Got)
	assert.True(t, transport.Closed())
	assert.ErrorIs(t, f.metrics.lastErr, chunkfetch.ErrProtocolViolation)
}

func TestDownloadFramingViolations(t *testing.T) {
	f := newTestFixture(1000)
	testDefs := []struct {
		name   string
		frames []chunkfetch.Frame
	}{
		{
			name: "empty payload",
			frames: []chunkfetch.Frame{
				{StartChunkId: 0, Payload: []byte{}},
			},
		},
		{
			name: "overrun",
			frames: []chunkfetch.Frame{
				{StartChunkId: 0, Payload: make([]byte, 1100)},
			},
		},
		{
			name: "partial chunk",
			frames: []chunkfetch.Frame{
				{StartChunkId: 0, Payload: f.songData[0:150]},
				{StartChunkId: 1, Payload: f.songData[150:200]},
			},
		},
		{
			name: "duplicate frame",
			frames: []chunkfetch.Frame{
				{StartChunkId: 0, Payload: f.songData[0:100]},
				{StartChunkId: 0, Payload: f.songData[0:100]},
			},
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			transport := newScriptedTransport(testDef.frames...)
			data, err := f.client.Download(
				context.Background(),
				transport,
				f.request(0, 10),
			)
			assert.Nil(t, data)
			assert.ErrorIs(t, err, chunkfetch.ErrProtocolViolation)
		})
	}
}

func TestDownloadStreamClosedEarly(t *testing.T) {
	f := newTestFixture(1000)
	transport := newScriptedTransport(
		chunkfetch.Frame{StartChunkId: 0, Payload: f.songData[0:500]},
	)
	data, err := f.client.Download(context.Background(), transport, f.request(0, 10))
	assert.Nil(t, data)
	assert.ErrorIs(t, err, chunkfetch.ErrStreamClosedEarly)
	assert.True(t, transport.Closed())
}

func TestDownloadCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTestFixture(1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport := newSilentTransport()
	transport.onSend = cancel
	data, err := f.client.Download(ctx, transport, f.request(0, 10))
	assert.Nil(t, data)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, chunkfetch.ErrStreamClosedEarly)
	assert.True(t, transport.Closed())
	assert.Len(t, transport.Sent(), 1)
}

func TestDownloadDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTestFixture(1000)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	transport := newSilentTransport()
	data, err := f.client.Download(ctx, transport, f.request(0, 10))
	assert.Nil(t, data)
	assert.ErrorIs(t, err, chunkfetch.ErrStreamClosedEarly)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, transport.Closed())
}

func TestDownloadVerificationFailure(t *testing.T) {
	f := newTestFixture(1000)
	tampered := append([]byte{}, f.songData...)
	tampered[345] ^= 0xff
	transport := newServingTransport(tampered, 20)
	data, err := f.client.Download(context.Background(), transport, f.request(0, 10))
	assert.Nil(t, data)
	require.ErrorIs(t, err, chunkfetch.ErrVerificationFailed)
	var verifyErr *chunkfetch.VerificationError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, 3, verifyErr.ChunkId)
}

func TestDownloadAuthorizerError(t *testing.T) {
	f := newTestFixture(1000)
	testErr := errors.New("wallet locked")
	f.authorizer.Err = testErr
	transport := newServingTransport(f.songData, 20)
	_, err := f.client.Download(context.Background(), transport, f.request(0, 10))
	assert.Equal(t, testErr, err)
	assert.True(t, transport.Closed())
}

func TestDownloadSendError(t *testing.T) {
	f := newTestFixture(1000)
	transport := newServingTransport(f.songData, 20)
	transport.sendErr = io.ErrClosedPipe
	_, err := f.client.Download(context.Background(), transport, f.request(0, 10))
	assert.ErrorIs(t, err, chunkfetch.ErrConnection)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestDownloadLedgerError(t *testing.T) {
	f := newTestFixture(1000)
	testErr := errors.New("node unavailable")
	f.ledger.ChunkHashesFunc = func(chunk.ContentId, int, int) ([]common.Hash, error) {
		return nil, testErr
	}
	transport := newServingTransport(f.songData, 20)
	_, err := f.client.Download(context.Background(), transport, f.request(0, 10))
	assert.Equal(t, testErr, err)
}

func TestDownloadNoAuthorizer(t *testing.T) {
	cfg := chunkfetch.NewConfig()
	client := chunkfetch.NewClient(&cfg)
	transport := newServingTransport(nil, 20)
	_, err := client.Download(context.Background(), transport, chunkfetch.Request{ChunkCount: 1})
	assert.Error(t, err)
	assert.True(t, transport.Closed())
}

func TestDownloadConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newTestFixture(5000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(first int) {
			defer wg.Done()
			transport := newServingTransport(f.songData, 3)
			data, err := f.client.Download(
				context.Background(),
				transport,
				f.request(first, 50-first),
			)
			assert.NoError(t, err)
			assert.Equal(t, f.songData[first*testChunkSize:], data)
		}(i * 5)
	}
	wg.Wait()
	assert.Equal(t, 8, f.metrics.downloads)
}

func TestDownloadAttemptIdLogged(t *testing.T) {
	defer goleak.VerifyNone(t)
	var logBuf bytes.Buffer
	f := newTestFixture(
		1000,
		chunkfetch.WithLogger(
			slog.New(slog.NewJSONHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})),
		),
	)
	req := f.request(0, 10)
	req.AttemptId = "attempt-1"
	data, err := f.client.Download(
		context.Background(),
		newServingTransport(f.songData, 20),
		req,
	)
	require.NoError(t, err)
	ok, err := f.client.Verifier().Verify(context.Background(), f.songId, data, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	ids := map[string]int{}
	for _, line := range bytes.Split(bytes.TrimSpace(logBuf.Bytes()), []byte("\n")) {
		var record map[string]any
		require.NoError(t, json.Unmarshal(line, &record))
		ids[record["attempt_id"].(string)]++
	}
	require.Len(t, ids, 1)
	assert.Positive(t, ids["attempt-1"])
	// Without an ID every record of the attempt still carries the same generated one
	logBuf.Reset()
	_, err = f.client.Download(
		context.Background(),
		newServingTransport(f.songData, 20),
		f.request(0, 10),
	)
	require.NoError(t, err)
	ids = map[string]int{}
	for _, line := range bytes.Split(bytes.TrimSpace(logBuf.Bytes()), []byte("\n")) {
		var record map[string]any
		require.NoError(t, json.Unmarshal(line, &record))
		ids[record["attempt_id"].(string)]++
	}
	require.Len(t, ids, 1)
	assert.NotContains(t, ids, "attempt-1")
	assert.NotContains(t, ids, "")
}
