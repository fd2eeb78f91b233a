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

package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/internal/test"
	"github.com/tangletunes/tunes/store"
)

func openTestStore(t *testing.T, options ...store.StoreOptionFunc) *store.Store {
	s, err := store.Open(filepath.Join(t.TempDir(), "songs.db"), options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)
	id := chunk.ContentId{0x01}
	data := test.SongData(1000, 1)
	has, err := s.Has(id)
	require.NoError(t, err)
	assert.False(t, has)
	_, err = s.Get(id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.Put(id, data, true))
	has, err = s.Has(id)
	require.NoError(t, err)
	assert.True(t, has)
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	song, err := s.Song(id)
	require.NoError(t, err)
	assert.Equal(t, id, song.Id)
	assert.Equal(t, 1000, song.Length)
	assert.True(t, song.Distributing)
	assert.WithinDuration(t, time.Now(), song.Added, 5*time.Second)
}

func TestGetRange(t *testing.T) {
	s := openTestStore(t, store.WithChunkSize(100))
	id := chunk.ContentId{0x02}
	data := test.SongData(1050, 2)
	require.NoError(t, s.Put(id, data, false))
	testDefs := []struct {
		first    int
		count    int
		expected []byte
	}{
		{first: 0, count: 1, expected: data[0:100]},
		{first: 2, count: 3, expected: data[200:500]},
		{first: 9, count: 5, expected: data[900:1050]},
		{first: 10, count: 1, expected: data[1000:1050]},
		{first: 0, count: 11, expected: data},
		{first: 4, count: 0, expected: []byte{}},
	}
	for _, testDef := range testDefs {
		got, err := s.GetRange(id, testDef.first, testDef.count)
		require.NoError(t, err)
		assert.Equal(t, testDef.expected, got, "first=%d count=%d", testDef.first, testDef.count)
	}
	_, err := s.GetRange(id, 11, 1)
	assert.ErrorIs(t, err, store.ErrChunkOutside)
	_, err = s.GetRange(id, -1, 1)
	assert.ErrorIs(t, err, chunk.ErrInvalidRange)
	_, err = s.GetRange(chunk.ContentId{0xff}, 0, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListAndDistribution(t *testing.T) {
	s := openTestStore(t)
	ids := []chunk.ContentId{{0x03}, {0x01}, {0x02}}
	for i, id := range ids {
		require.NoError(t, s.Put(id, test.SongData(10*(i+1), uint64(i)), false))
	}
	require.NoError(t, s.SetDistributing(chunk.ContentId{0x02}, true))
	assert.ErrorIs(t, s.SetDistributing(chunk.ContentId{0x09}, true), store.ErrNotFound)
	songs, err := s.List()
	require.NoError(t, err)
	require.Len(t, songs, 3)
	// bbolt iterates in key order
	assert.Equal(t, chunk.ContentId{0x01}, songs[0].Id)
	assert.Equal(t, 20, songs[0].Length)
	assert.False(t, songs[0].Distributing)
	assert.Equal(t, chunk.ContentId{0x02}, songs[1].Id)
	assert.True(t, songs[1].Distributing)
	assert.Equal(t, chunk.ContentId{0x03}, songs[2].Id)
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)
	id := chunk.ContentId{0x04}
	require.NoError(t, s.Put(id, []byte("song"), false))
	require.NoError(t, s.Remove(id))
	assert.ErrorIs(t, s.Remove(id), store.ErrNotFound)
	_, err := s.Get(id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	songs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, songs)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "songs.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	id := chunk.ContentId{0x05}
	require.NoError(t, s.Put(id, []byte("persisted"), true))
	require.NoError(t, s.Close())
	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}
