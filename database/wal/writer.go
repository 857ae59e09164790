// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
)

// Writer creates a write-ahead log for a single block. Writes are not
// durable before Flush is called; callers must flush between logging an
// intent and performing the mutation the intent protects.
type Writer struct {
	revision    uint32
	maxLogCount int
	block       block.Record
	instantHash common.Hash

	file     *os.File
	state    State
	logCount uint32
}

// NewWriter creates a writer for logs of the given block.
func NewWriter(revision uint32, maxLogCount int, record block.Record, instantHash common.Hash) *Writer {
	return &Writer{
		revision:    revision,
		maxLogCount: maxLogCount,
		block:       record,
		instantHash: instantHash,
	}
}

// Open creates the log file at the given path, replacing any existing file,
// and durably writes the header and the block record. If Open fails, the
// writer remains closed and Open may be retried.
func (w *Writer) Open(path string) (err error) {
	if w.file != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, w.file.Name())
	}
	if w.maxLogCount <= 0 {
		return fmt.Errorf("invalid maximum log count %d", w.maxLogCount)
	}
	record, err := w.block.ToBytes(w.revision)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			err = errors.Join(err, file.Close(), os.Remove(path))
		}
	}()

	headerSize := HeaderSize(w.maxLogCount)
	data := make([]byte, headerSize+4+len(record))
	binary.BigEndian.PutUint32(data[offsetMagic:], Magic)
	binary.BigEndian.PutUint32(data[offsetVersion:], Version)
	binary.BigEndian.PutUint32(data[offsetRevision:], w.revision)
	binary.BigEndian.PutUint32(data[offsetState:], 0)
	copy(data[offsetInstantHash:offsetLogCount], w.instantHash[:])
	binary.BigEndian.PutUint32(data[offsetLogCount:], 0)
	binary.BigEndian.PutUint32(data[headerSize:], uint32(len(record)))
	copy(data[headerSize+4:], record)

	if _, err := file.Write(data); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}

	w.file = file
	w.state = 0
	w.logCount = 0
	success = true
	return nil
}

// Resume opens an existing log at the given path for progress updates and
// further segments without rewriting its header. The header must be valid
// for the writer's number of segment slots.
func (w *Writer) Resume(path string) (err error) {
	if w.file != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, w.file.Name())
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			err = errors.Join(err, file.Close())
		}
	}()

	header := make([]byte, HeaderSize(w.maxLogCount))
	if _, err := io.ReadFull(file, header); err != nil {
		return fmt.Errorf("%w: truncated header: %w", ErrFormat, err)
	}
	if magic := binary.BigEndian.Uint32(header[offsetMagic:]); magic != Magic {
		return fmt.Errorf("%w: invalid magic 0x%08x", ErrFormat, magic)
	}
	if version := binary.BigEndian.Uint32(header[offsetVersion:]); version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrFormat, version)
	}
	logCount := binary.BigEndian.Uint32(header[offsetLogCount:])
	if int(logCount) > w.maxLogCount {
		return fmt.Errorf("%w: log count %d exceeds %d slots", ErrFormat, logCount, w.maxLogCount)
	}

	w.file = file
	w.revision = binary.BigEndian.Uint32(header[offsetRevision:])
	w.state = State(binary.BigEndian.Uint32(header[offsetState:]))
	copy(w.instantHash[:], header[offsetInstantHash:offsetLogCount])
	w.logCount = logCount
	success = true
	return nil
}

// WriteSegment appends all entries of the source as a new segment and
// registers it in the header. It returns the number of payload bytes
// written. The log count is only updated once the segment size is in place.
func (w *Writer) WriteSegment(source kv.Source) (int, error) {
	if w.file == nil {
		return 0, ErrNotOpen
	}
	if int(w.logCount) >= w.maxLogCount {
		return 0, fmt.Errorf("%w: %d of %d used", ErrTooManySegments, w.logCount, w.maxLogCount)
	}

	start, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if start > math.MaxUint32 {
		return 0, fmt.Errorf("log file exceeds addressable size: %d", start)
	}

	// Reserve the size prefix, back-patched once the payload is written.
	var sizeBuf [4]byte
	if _, err := w.file.Write(sizeBuf[:]); err != nil {
		return 0, err
	}

	counter := &countingWriter{writer: bufio.NewWriterSize(w.file, ChunkSize)}
	for entry, err := range source.Entries() {
		if err != nil {
			return 0, err
		}
		enc := pair{Key: entry.Key, Deleted: entry.Deleted}
		if !entry.Deleted {
			enc.Value = entry.Value
		}
		if err := rlp.Encode(counter, &enc); err != nil {
			return 0, err
		}
	}
	if err := counter.writer.Flush(); err != nil {
		return 0, err
	}
	if counter.written > math.MaxUint32 {
		return 0, fmt.Errorf("segment exceeds maximum size: %d", counter.written)
	}

	binary.BigEndian.PutUint32(sizeBuf[:], uint32(counter.written))
	if _, err := w.file.WriteAt(sizeBuf[:], start); err != nil {
		return 0, err
	}

	var offsetBuf [4]byte
	binary.BigEndian.PutUint32(offsetBuf[:], uint32(start))
	if _, err := w.file.WriteAt(offsetBuf[:], int64(fixedHeaderSize+4*w.logCount)); err != nil {
		return 0, err
	}

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], w.logCount+1)
	if _, err := w.file.WriteAt(countBuf[:], offsetLogCount); err != nil {
		return 0, err
	}
	w.logCount++
	return int(counter.written), nil
}

// SetProgress updates the progress bitmask in the header. With merge, the
// given bits are added to the current mask, otherwise they replace it.
func (w *Writer) SetProgress(bits State, merge bool) error {
	if w.file == nil {
		return ErrNotOpen
	}
	state := bits
	if merge {
		state |= w.state
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(state))
	if _, err := w.file.WriteAt(buf[:], offsetState); err != nil {
		return err
	}
	w.state = state
	return nil
}

// Flush makes all writes issued so far durable.
func (w *Writer) Flush() error {
	if w.file == nil {
		return ErrNotOpen
	}
	return w.file.Sync()
}

// Close releases the file. Closing a closed writer is a no-op.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Progress returns the current progress bitmask.
func (w *Writer) Progress() State {
	return w.state
}

// LogCount returns the number of complete segments.
func (w *Writer) LogCount() int {
	return int(w.logCount)
}

// Path returns the path of the open file, or the empty string.
func (w *Writer) Path() string {
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

type countingWriter struct {
	writer  *bufio.Writer
	written int64
}

func (w *countingWriter) Write(data []byte) (int, error) {
	n, err := w.writer.Write(data)
	w.written += int64(n)
	return n, err
}
