// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package wal implements the write-ahead log container used both for forward
// commit recovery and for block backups.
//
// File layout (big-endian):
//
//	offset 0  : magic              4 bytes
//	offset 4  : format version     4 bytes
//	offset 8  : revision           4 bytes
//	offset 12 : progress state     4 bytes bitmask
//	offset 16 : instant block hash 32 bytes
//	offset 48 : log count          4 bytes
//	offset 52 : log start offsets  4 bytes for each of the max log count slots
//	then      : block record size  4 bytes, followed by the block record
//	then      : segments, each a 4 byte size followed by RLP encoded entries
//
// Each entry of a segment is encoded as the RLP list [key, deleted, value].
package wal

import (
	"fmt"
	"strings"

	"github.com/icon-project/icon-service-sub005/common"
)

const (
	// Magic identifies write-ahead log files ("IWAL").
	Magic uint32 = 0x4957414c
	// Version is the only supported format version.
	Version uint32 = 0

	// DefaultMaxLogCount is the number of segment slots of commit and backup
	// logs: one for the reward calculator batch, one for the state batch.
	DefaultMaxLogCount = 2

	// RCSegment and StateSegment are the conventional segment indexes.
	RCSegment    = 0
	StateSegment = 1

	// ChunkSize bounds the amount of segment data read at once.
	ChunkSize = 64 * 1024
)

const (
	offsetMagic       = 0
	offsetVersion     = 4
	offsetRevision    = 8
	offsetState       = 12
	offsetInstantHash = 16
	offsetLogCount    = 48
	fixedHeaderSize   = 52
)

const (
	// ErrFormat is wrapped by all errors caused by malformed log content.
	ErrFormat = common.ConstError("invalid write-ahead log format")
	// ErrBlockRecord reports a structurally valid log whose block record
	// cannot be decoded.
	ErrBlockRecord = common.ConstError("invalid block record in write-ahead log")
	// ErrAlreadyOpen is returned when opening a writer or reader twice.
	ErrAlreadyOpen = common.ConstError("write-ahead log already open")
	// ErrNotOpen is returned when using a writer or reader that is not open.
	ErrNotOpen = common.ConstError("write-ahead log not open")
	// ErrTooManySegments is returned when all segment slots are in use.
	ErrTooManySegments = common.ConstError("no free segment slot")
)

// HeaderSize returns the size of the fixed header for the given number of
// segment slots.
func HeaderSize(maxLogCount int) int {
	return fixedHeaderSize + 4*maxLogCount
}

// State is the progress bitmask stored in the header of a log.
type State uint32

// Progress bits of commit logs.
const (
	CalcPeriodStartBlock State = 1 << iota
	WriteRCDB
	WriteStateDB
	SendCommitBlock
	SendCalculate
)

// CalcPeriodEndBlock marks a backup log of the last block of a calculation
// period, i.e. the block preceding a calculation period start.
const CalcPeriodEndBlock State = 1

// AllStates has every bit set. It is a reader-side convenience and never
// written as a meaningful progress value.
const AllStates State = 0xFFFFFFFF

// Has reports whether all given bits are set.
func (s State) Has(bits State) bool {
	return s&bits == bits
}

func (s State) String() string {
	if s == 0 {
		return "none"
	}
	names := []string{"calc_period_start", "write_rc_db", "write_state_db", "send_commit_block", "send_calculate"}
	var parts []string
	for i, name := range names {
		if s&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := s &^ (1<<len(names) - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// pair is the on-disk encoding of a single entry.
type pair struct {
	Key     []byte
	Deleted bool
	Value   []byte
}
