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
	"iter"
	"sync/atomic"
)

// Batch is an ordered in-memory collection of entries produced by the
// execution engine for one block. Unlike a general Source, a Batch may be
// iterated any number of times. Entries may be tagged with the index of the
// transaction that produced them; the highest index is reported by
// LastTxIndex after a complete iteration.
type Batch struct {
	entries   []Entry
	txIndexes []int64
	lastTx    atomic.Int64
}

const noTxIndex = -1

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	res := &Batch{}
	res.lastTx.Store(noTxIndex)
	return res
}

// Put appends an update of key to value.
func (b *Batch) Put(key, value []byte) *Batch {
	return b.add(Put(key, value), noTxIndex)
}

// Delete appends a deletion of key.
func (b *Batch) Delete(key []byte) *Batch {
	return b.add(Delete(key), noTxIndex)
}

// PutTx appends an update of key to value produced by the given transaction.
func (b *Batch) PutTx(txIndex uint32, key, value []byte) *Batch {
	return b.add(Put(key, value), int64(txIndex))
}

// Add appends the given entry.
func (b *Batch) Add(entry Entry) *Batch {
	return b.add(entry, noTxIndex)
}

func (b *Batch) add(entry Entry, txIndex int64) *Batch {
	b.entries = append(b.entries, entry)
	b.txIndexes = append(b.txIndexes, txIndex)
	return b
}

// Len returns the number of entries in the batch, including duplicates.
func (b *Batch) Len() int {
	return len(b.entries)
}

// Entries lists all entries in insertion order.
func (b *Batch) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		last := int64(noTxIndex)
		for i, entry := range b.entries {
			last = max(last, b.txIndexes[i])
			if !yield(entry, nil) {
				return
			}
		}
		b.lastTx.Store(last)
	}
}

// Keys lists the distinct keys of the batch in order of first occurrence.
func (b *Batch) Keys() [][]byte {
	seen := make(map[string]struct{}, len(b.entries))
	res := make([][]byte, 0, len(b.entries))
	for _, entry := range b.entries {
		if _, found := seen[string(entry.Key)]; found {
			continue
		}
		seen[string(entry.Key)] = struct{}{}
		res = append(res, entry.Key)
	}
	return res
}

// LastTxIndex returns the highest transaction index observed by the most
// recent complete iteration of the batch. The second result is false if no
// complete iteration took place or no entry was tagged.
func (b *Batch) LastTxIndex() (uint32, bool) {
	last := b.lastTx.Load()
	if last < 0 {
		return 0, false
	}
	return uint32(last), true
}

// TxIndexReporter is implemented by sources tracking the transactions their
// entries originate from.
type TxIndexReporter interface {
	LastTxIndex() (uint32, bool)
}
