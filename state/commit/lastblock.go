// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package commit

import (
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
	"github.com/icon-project/icon-service-sub005/database/rc"
)

// LastBlockKey is the state store key holding the record of the most
// recently committed block.
var LastBlockKey = []byte("last_block")

// lastBlockRevision is the encoding revision of the stored last block. It is
// fixed so the record can be decoded without knowing the chain revision.
const lastBlockRevision = block.RevisionFixedFee

// LastBlockEntry creates the state store entry recording the given block as
// the last committed block.
func LastBlockEntry(record block.Record) (kv.Entry, error) {
	data, err := record.ToBytes(lastBlockRevision)
	if err != nil {
		return kv.Entry{}, err
	}
	return kv.Put(LastBlockKey, data), nil
}

// ReadLastBlock returns the last committed block recorded in the state
// store. The second result is false if no block was committed yet.
func ReadLastBlock(store kv.Store) (block.Record, bool, error) {
	data, found, err := kv.GetOptional(store, LastBlockKey)
	if err != nil || !found {
		return block.Record{}, false, err
	}
	record, err := block.FromBytes(data, lastBlockRevision)
	if err != nil {
		return block.Record{}, false, fmt.Errorf("invalid last block in state store: %w", err)
	}
	return record, true, nil
}

// EncodeTxIndex encodes a transaction index as stored under
// rc.LastTxIndexKey.
func EncodeTxIndex(index uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, index)
}

// withTrailer produces all entries of the source followed by the entries
// created by trailer once the source has been fully consumed.
type withTrailer struct {
	source  kv.Source
	trailer func() []kv.Entry
}

func (s withTrailer) Entries() iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		for entry, err := range s.source.Entries() {
			if !yield(entry, err) || err != nil {
				return
			}
		}
		for _, entry := range s.trailer() {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// rcSource appends the last transaction index reported by the batch, if
// any, to the reward calculator entries.
func rcSource(source kv.Source) kv.Source {
	return withTrailer{source: source, trailer: func() []kv.Entry {
		reporter, ok := source.(kv.TxIndexReporter)
		if !ok {
			return nil
		}
		index, found := reporter.LastTxIndex()
		if !found {
			return nil
		}
		return []kv.Entry{kv.Put(rc.LastTxIndexKey, EncodeTxIndex(index))}
	}}
}

// stateSource appends the last block entry to the state entries.
func stateSource(source kv.Source, last kv.Entry) kv.Source {
	return withTrailer{source: source, trailer: func() []kv.Entry {
		return []kv.Entry{last}
	}}
}

// emptySource has no entries.
type emptySource struct{}

func (emptySource) Entries() iter.Seq2[kv.Entry, error] {
	return func(func(kv.Entry, error) bool) {}
}
