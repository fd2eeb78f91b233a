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

// Package store keeps downloaded songs in a local bbolt database
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tangletunes/tunes/cbor"
	"github.com/tangletunes/tunes/chunk"
)

const DefaultOpenTimeout = 1 * time.Second

var (
	songsBucket   = []byte("songs")
	contentBucket = []byte("content")
)

var (
	ErrNotFound     = errors.New("song not found in store")
	ErrChunkOutside = errors.New("chunk outside of song")
)

// Song describes a stored song
type Song struct {
	Id           chunk.ContentId
	Length       int
	Distributing bool
	Added        time.Time
}

// songRecord is the CBOR value kept in the songs bucket
type songRecord struct {
	cbor.StructAsArray
	Length       uint64
	Distributing bool
	Added        time.Time
}

// Store is a song database. It is safe for concurrent use.
type Store struct {
	db          *bolt.DB
	chunkSize   int
	openTimeout time.Duration
	logger      *slog.Logger
}

// StoreOptionFunc represents a function used to modify a Store
type StoreOptionFunc func(*Store)

// WithChunkSize specifies the chunk size used by GetRange
func WithChunkSize(chunkSize int) StoreOptionFunc {
	return func(s *Store) {
		s.chunkSize = chunkSize
	}
}

// WithOpenTimeout specifies how long Open waits for the database file lock
func WithOpenTimeout(timeout time.Duration) StoreOptionFunc {
	return func(s *Store) {
		s.openTimeout = timeout
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) StoreOptionFunc {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens or creates the database at path
func Open(path string, options ...StoreOptionFunc) (*Store, error) {
	s := &Store{
		chunkSize:   chunk.Size,
		openTimeout: DefaultOpenTimeout,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: s.openTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(songsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(contentBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	s.db = db
	s.logger.Debug(
		"opened song database",
		"component", "store",
		"path", path,
	)
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the content of a song, replacing any previous content
func (s *Store) Put(id chunk.ContentId, data []byte, distribute bool) error {
	record, err := cbor.Encode(songRecord{
		Length:       uint64(len(data)),
		Distributing: distribute,
		Added:        time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode song record: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(contentBucket).Put(id.Bytes(), data); err != nil {
			return err
		}
		return tx.Bucket(songsBucket).Put(id.Bytes(), record)
	})
	if err != nil {
		return fmt.Errorf("store song %s: %w", id, err)
	}
	s.logger.Debug(
		"stored song",
		"component", "store",
		"song_id", id.String(),
		"length", len(data),
		"distributing", distribute,
	)
	return nil
}

// Get returns the full content of a song
func (s *Store) Get(id chunk.ContentId) ([]byte, error) {
	var ret []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(contentBucket).Get(id.Bytes())
		if data == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction
		ret = make([]byte, len(data))
		copy(ret, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// GetRange returns up to count chunks of a song starting at chunk first. The result is
// shorter when the range runs past the end of the song.
func (s *Store) GetRange(id chunk.ContentId, first int, count int) ([]byte, error) {
	if first < 0 || count < 0 {
		return nil, chunk.ErrInvalidRange
	}
	var ret []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(contentBucket).Get(id.Bytes())
		if data == nil {
			return ErrNotFound
		}
		start := chunk.ByteOffset(first, s.chunkSize)
		if start >= len(data) && count > 0 {
			return fmt.Errorf(
				"%w: chunk %d of song %s with %d chunks",
				ErrChunkOutside,
				first,
				id,
				chunk.Count(len(data), s.chunkSize),
			)
		}
		end := min(chunk.ByteOffset(first+count, s.chunkSize), len(data))
		if start > end {
			start = end
		}
		ret = make([]byte, end-start)
		copy(ret, data[start:end])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Has reports whether the song is stored
func (s *Store) Has(id chunk.ContentId) (bool, error) {
	var ret bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ret = tx.Bucket(songsBucket).Get(id.Bytes()) != nil
		return nil
	})
	return ret, err
}

// Remove deletes a song
func (s *Store) Remove(id chunk.ContentId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		songs := tx.Bucket(songsBucket)
		if songs.Get(id.Bytes()) == nil {
			return ErrNotFound
		}
		if err := songs.Delete(id.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(contentBucket).Delete(id.Bytes())
	})
}

// List returns every stored song ordered by id
func (s *Store) List() ([]Song, error) {
	var ret []Song
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(songsBucket).ForEach(func(k, v []byte) error {
			id, err := chunk.NewContentId(k)
			if err != nil {
				return err
			}
			song, err := decodeSong(id, v)
			if err != nil {
				return err
			}
			ret = append(ret, song)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Song returns the description of a stored song
func (s *Store) Song(id chunk.ContentId) (Song, error) {
	var ret Song
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(songsBucket).Get(id.Bytes())
		if v == nil {
			return ErrNotFound
		}
		var err error
		ret, err = decodeSong(id, v)
		return err
	})
	return ret, err
}

// SetDistributing marks whether a stored song is offered to other users
func (s *Store) SetDistributing(id chunk.ContentId, distributing bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		songs := tx.Bucket(songsBucket)
		v := songs.Get(id.Bytes())
		if v == nil {
			return ErrNotFound
		}
		var record songRecord
		if err := cbor.DecodeStrict(v, &record); err != nil {
			return fmt.Errorf("decode song record: %w", err)
		}
		record.Distributing = distributing
		encoded, err := cbor.Encode(record)
		if err != nil {
			return fmt.Errorf("encode song record: %w", err)
		}
		return songs.Put(id.Bytes(), encoded)
	})
}

func decodeSong(id chunk.ContentId, v []byte) (Song, error) {
	var record songRecord
	if err := cbor.DecodeStrict(v, &record); err != nil {
		return Song{}, fmt.Errorf("decode song record %s: %w", id, err)
	}
	return Song{
		Id:           id,
		Length:       int(record.Length),
		Distributing: record.Distributing,
		Added:        record.Added,
	}, nil
}
