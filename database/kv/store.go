// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package kv

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/icon-project/icon-service-sub005/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const (
	ErrNotFound = common.ConstError("not found")
	ErrClosed   = common.ConstError("store closed")
)

// Store is the interface of a key-value store holding either the state or
// the reward calculator data.
type Store interface {
	// Get returns the value stored for key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	// WriteBatch applies all entries atomically. Later entries for the same
	// key take precedence. If the sequence fails, nothing is written.
	WriteBatch(entries iter.Seq2[Entry, error]) error
	// ForEach visits all key/value pairs in ascending key order.
	ForEach(visit func(key, value []byte) error) error
	Close() error
}

// GetOptional returns the value of key, or nil and false if it is absent.
func GetOptional(store Store, key []byte) ([]byte, bool, error) {
	value, err := store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// ReadAll copies the full content of the store into a map.
func ReadAll(store Store) (map[string][]byte, error) {
	res := map[string][]byte{}
	err := store.ForEach(func(key, value []byte) error {
		value = slices.Clone(value)
		if value == nil {
			value = []byte{}
		}
		res[string(key)] = value
		return nil
	})
	return res, err
}

// LevelDB is a persistent implementation of Store based on LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates a LevelDB store in the given directory. A
// cache size of zero selects the LevelDB defaults.
func OpenLevelDB(path string, cacheSize int) (*LevelDB, error) {
	var options *opt.Options
	if cacheSize > 0 {
		options = &opt.Options{
			BlockCacheCapacity: cacheSize / 2,
			WriteBuffer:        cacheSize / 4,
		}
	}
	db, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (s *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := s.db.Get(key, &opt.ReadOptions{})
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LevelDB) Put(key []byte, value []byte) error {
	return s.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (s *LevelDB) WriteBatch(entries iter.Seq2[Entry, error]) error {
	batch := new(leveldb.Batch)
	for entry, err := range entries {
		if err != nil {
			return err
		}
		if entry.Deleted {
			batch.Delete(entry.Key)
		} else {
			batch.Put(entry.Key, entry.Value)
		}
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *LevelDB) ForEach(visit func(key, value []byte) error) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := visit(slices.Clone(iter.Key()), slices.Clone(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}

// Memory is an in-memory implementation of Store for testing purposes.
type Memory struct {
	mu     sync.RWMutex
	store  map[string][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

func (s *Memory) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	value, ok := s.store[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(value), nil
}

func (s *Memory) Put(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.store[string(key)] = slices.Clone(value)
	return nil
}

func (s *Memory) WriteBatch(entries iter.Seq2[Entry, error]) error {
	collected, err := Collect(entries)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, entry := range collected {
		if entry.Deleted {
			delete(s.store, string(entry.Key))
		} else {
			s.store[string(entry.Key)] = slices.Clone(entry.Value)
		}
	}
	return nil
}

func (s *Memory) ForEach(visit func(key, value []byte) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(s.store))
	for key := range s.store {
		keys = append(keys, key)
	}
	values := make([][]byte, 0, len(keys))
	slices.Sort(keys)
	for _, key := range keys {
		values = append(values, slices.Clone(s.store[key]))
	}
	s.mu.RUnlock()

	for i, key := range keys {
		if err := visit([]byte(key), values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
