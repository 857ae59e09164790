// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package block defines the identity record of a committed block as it is
// embedded into write-ahead logs and persisted in the state store.
package block

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	carmen "github.com/icon-project/icon-service-sub005/common"
)

const (
	// ErrFeeOverflow is returned when a cumulative fee exceeds 128 bits.
	ErrFeeOverflow = carmen.ConstError("cumulative fee exceeds 128 bits")
	// ErrInvalidEncoding is returned when a record blob cannot be decoded.
	ErrInvalidEncoding = carmen.ConstError("invalid block record encoding")
)

// RevisionFixedFee is the first revision encoding the cumulative fee as a
// fixed-size 16 byte field. Older revisions use a minimal big integer.
const RevisionFixedFee = 2

// Record is the immutable identity of a committed block. Records are
// comparable using ==.
type Record struct {
	Height        uint64
	Hash          common.Hash
	PrevHash      common.Hash
	Timestamp     int64
	CumulativeFee uint256.Int
}

type legacyRecord struct {
	Height    uint64
	Hash      common.Hash
	PrevHash  common.Hash
	Timestamp uint64
	Fee       *big.Int
}

type fixedFeeRecord struct {
	Height    uint64
	Hash      common.Hash
	PrevHash  common.Hash
	Timestamp uint64
	Fee       [16]byte
}

// New creates a record with a fee given as a plain integer.
func New(height uint64, hash, prevHash common.Hash, timestamp int64, fee uint64) Record {
	return Record{
		Height:        height,
		Hash:          hash,
		PrevHash:      prevHash,
		Timestamp:     timestamp,
		CumulativeFee: *uint256.NewInt(fee),
	}
}

// ToBytes encodes the record for the given revision. The same revision always
// produces the same bytes for the same record.
func (r Record) ToBytes(revision uint32) ([]byte, error) {
	if r.CumulativeFee.BitLen() > 128 {
		return nil, fmt.Errorf("%w: %s", ErrFeeOverflow, r.CumulativeFee.Dec())
	}
	if revision < RevisionFixedFee {
		return rlp.EncodeToBytes(&legacyRecord{
			Height:    r.Height,
			Hash:      r.Hash,
			PrevHash:  r.PrevHash,
			Timestamp: uint64(r.Timestamp),
			Fee:       r.CumulativeFee.ToBig(),
		})
	}
	full := r.CumulativeFee.Bytes32()
	res := fixedFeeRecord{
		Height:    r.Height,
		Hash:      r.Hash,
		PrevHash:  r.PrevHash,
		Timestamp: uint64(r.Timestamp),
	}
	copy(res.Fee[:], full[16:])
	return rlp.EncodeToBytes(&res)
}

// FromBytes decodes a record encoded by ToBytes using the same revision.
func FromBytes(data []byte, revision uint32) (Record, error) {
	if revision < RevisionFixedFee {
		var enc legacyRecord
		if err := rlp.DecodeBytes(data, &enc); err != nil {
			return Record{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
		}
		if enc.Fee == nil {
			enc.Fee = new(big.Int)
		}
		fee, overflow := uint256.FromBig(enc.Fee)
		if overflow || fee.BitLen() > 128 {
			return Record{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, ErrFeeOverflow)
		}
		return Record{
			Height:        enc.Height,
			Hash:          enc.Hash,
			PrevHash:      enc.PrevHash,
			Timestamp:     int64(enc.Timestamp),
			CumulativeFee: *fee,
		}, nil
	}
	var enc fixedFeeRecord
	if err := rlp.DecodeBytes(data, &enc); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	var fee uint256.Int
	fee.SetBytes(enc.Fee[:])
	return Record{
		Height:        enc.Height,
		Hash:          enc.Hash,
		PrevHash:      enc.PrevHash,
		Timestamp:     int64(enc.Timestamp),
		CumulativeFee: fee,
	}, nil
}

// Digest returns the Keccak-256 hash of the record's encoding for the given
// revision.
func (r Record) Digest(revision uint32) (common.Hash, error) {
	data, err := r.ToBytes(revision)
	if err != nil {
		return common.Hash{}, err
	}
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	var res common.Hash
	hasher.Sum(res[:0])
	return res, nil
}

// IsParentOf reports whether r is the direct predecessor of child.
func (r Record) IsParentOf(child Record) bool {
	return r.Height+1 == child.Height && r.Hash == child.PrevHash
}

func (r Record) String() string {
	return fmt.Sprintf("#%d(%x)", r.Height, r.Hash[:4])
}
