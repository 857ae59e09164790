// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package kv provides the key/value store abstraction used for the state and
// reward-calculator stores together with ordered write batches.
package kv

import (
	"bytes"
	"fmt"
	"iter"
)

// Entry is a single key/value update. A deleted entry carries no value; a
// non-deleted entry always carries a non-nil, possibly empty, value.
type Entry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Put creates an entry setting key to value.
func Put(key, value []byte) Entry {
	if value == nil {
		value = []byte{}
	}
	return Entry{Key: key, Value: value}
}

// Delete creates an entry removing key.
func Delete(key []byte) Entry {
	return Entry{Key: key, Deleted: true}
}

// Equal reports whether both entries describe the same update.
func (e Entry) Equal(other Entry) bool {
	return e.Deleted == other.Deleted &&
		bytes.Equal(e.Key, other.Key) &&
		bytes.Equal(e.Value, other.Value)
}

func (e Entry) String() string {
	if e.Deleted {
		return fmt.Sprintf("%x -> <deleted>", e.Key)
	}
	return fmt.Sprintf("%x -> %x", e.Key, e.Value)
}

// Source produces, in a stable order, the entries to be written to a store.
// A source may only be consumed once unless documented otherwise.
type Source interface {
	Entries() iter.Seq2[Entry, error]
}

// Collect drains the given sequence into a slice.
func Collect(entries iter.Seq2[Entry, error]) ([]Entry, error) {
	var res []Entry
	for entry, err := range entries {
		if err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, nil
}
