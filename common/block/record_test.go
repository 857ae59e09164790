// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package block

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	maxFee := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	return []Record{
		{},
		New(1, common.Hash{1}, common.Hash{}, 1_700_000_000_000_000, 0),
		New(42, common.Hash{0xAA, 31: 0xBB}, common.Hash{0xCC}, -5, 123456789),
		{Height: ^uint64(0), Hash: common.Hash{2}, PrevHash: common.Hash{3}, Timestamp: -1 << 63, CumulativeFee: *maxFee},
	}
}

func TestRecord_RoundTripForAllRevisions(t *testing.T) {
	for _, revision := range []uint32{0, 1, RevisionFixedFee, 7} {
		for _, record := range sampleRecords() {
			data, err := record.ToBytes(revision)
			require.NoError(t, err)
			restored, err := FromBytes(data, revision)
			require.NoError(t, err)
			require.Equal(t, record, restored, "revision %d", revision)
		}
	}
}

func TestRecord_EncodingIsDeterministic(t *testing.T) {
	for _, revision := range []uint32{0, RevisionFixedFee} {
		for _, record := range sampleRecords() {
			a, err := record.ToBytes(revision)
			require.NoError(t, err)
			b, err := record.ToBytes(revision)
			require.NoError(t, err)
			require.Equal(t, a, b)
		}
	}
}

func TestRecord_EncodingDependsOnRevision(t *testing.T) {
	record := New(5, common.Hash{5}, common.Hash{4}, 100, 7)
	legacy, err := record.ToBytes(0)
	require.NoError(t, err)
	fixed, err := record.ToBytes(RevisionFixedFee)
	require.NoError(t, err)
	require.NotEqual(t, legacy, fixed)
	require.Len(t, fixed, len(legacy)+16)
}

func TestRecord_FeesBeyond128BitsAreRejected(t *testing.T) {
	record := Record{CumulativeFee: *new(uint256.Int).Lsh(uint256.NewInt(1), 128)}
	_, err := record.ToBytes(0)
	require.ErrorIs(t, err, ErrFeeOverflow)
	_, err = record.ToBytes(RevisionFixedFee)
	require.ErrorIs(t, err, ErrFeeOverflow)
}

func TestRecord_CorruptedBlobIsRejected(t *testing.T) {
	data, err := New(1, common.Hash{1}, common.Hash{}, 1, 1).ToBytes(0)
	require.NoError(t, err)
	_, err = FromBytes(data[:len(data)-1], 0)
	require.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = FromBytes(append(data, 0), 0)
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestRecord_DigestChangesWithContent(t *testing.T) {
	a, err := New(1, common.Hash{1}, common.Hash{}, 1, 1).Digest(0)
	require.NoError(t, err)
	b, err := New(1, common.Hash{1}, common.Hash{}, 1, 2).Digest(0)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestRecord_IsParentOf(t *testing.T) {
	parent := New(9, common.Hash{9}, common.Hash{8}, 0, 0)
	child := New(10, common.Hash{10}, common.Hash{9}, 0, 0)
	require.True(t, parent.IsParentOf(child))
	require.False(t, child.IsParentOf(parent))
	require.False(t, parent.IsParentOf(New(10, common.Hash{10}, common.Hash{7}, 0, 0)))
}
