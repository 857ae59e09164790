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
	"iter"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
)

// Reader parses a write-ahead log. After a successful Open, the header fields
// and the block record are available and segments can be streamed.
type Reader struct {
	maxLogCount int

	file     *os.File
	fileSize int64

	version     uint32
	revision    uint32
	state       State
	logCount    int
	instantHash common.Hash
	block       block.Record
	offsets     []uint32
}

// NewReader creates a reader for logs with the given number of segment slots.
func NewReader(maxLogCount int) *Reader {
	return &Reader{maxLogCount: maxLogCount}
}

// Open validates the header of the log at the given path and decodes its
// block record. Missing files are reported as fs.ErrNotExist, malformed
// content as ErrFormat or ErrBlockRecord. On failure the reader stays closed.
func (r *Reader) Open(path string) (err error) {
	if r.file != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, r.file.Name())
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			err = errors.Join(err, file.Close())
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	headerSize := HeaderSize(r.maxLogCount)
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(file, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated header, %d bytes available, %d required", ErrFormat, info.Size(), headerSize)
		}
		return err
	}

	if magic := binary.BigEndian.Uint32(header[offsetMagic:]); magic != Magic {
		return fmt.Errorf("%w: invalid magic 0x%08x", ErrFormat, magic)
	}
	version := binary.BigEndian.Uint32(header[offsetVersion:])
	if version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrFormat, version)
	}
	revision := binary.BigEndian.Uint32(header[offsetRevision:])
	state := State(binary.BigEndian.Uint32(header[offsetState:]))
	var instantHash common.Hash
	copy(instantHash[:], header[offsetInstantHash:offsetLogCount])
	logCount := binary.BigEndian.Uint32(header[offsetLogCount:])
	if int(logCount) > r.maxLogCount {
		return fmt.Errorf("%w: log count %d exceeds %d slots", ErrFormat, logCount, r.maxLogCount)
	}
	offsets := make([]uint32, logCount)
	for i := range offsets {
		offsets[i] = binary.BigEndian.Uint32(header[fixedHeaderSize+4*i:])
		if int64(offsets[i])+4 > info.Size() {
			return fmt.Errorf("%w: segment %d starts beyond end of file", ErrFormat, i)
		}
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(file, sizeBuf[:]); err != nil {
		return fmt.Errorf("%w: missing block record size: %w", ErrFormat, err)
	}
	recordSize := binary.BigEndian.Uint32(sizeBuf[:])
	if int64(headerSize)+4+int64(recordSize) > info.Size() {
		return fmt.Errorf("%w: truncated block record of %d bytes", ErrFormat, recordSize)
	}
	data := make([]byte, recordSize)
	if _, err := io.ReadFull(file, data); err != nil {
		return fmt.Errorf("%w: truncated block record: %w", ErrFormat, err)
	}
	record, err := block.FromBytes(data, revision)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBlockRecord, err)
	}

	r.file = file
	r.fileSize = info.Size()
	r.version = version
	r.revision = revision
	r.state = state
	r.logCount = int(logCount)
	r.instantHash = instantHash
	r.block = record
	r.offsets = offsets
	success = true
	return nil
}

func (r *Reader) Version() uint32               { return r.version }
func (r *Reader) Revision() uint32              { return r.revision }
func (r *Reader) Progress() State               { return r.state }
func (r *Reader) LogCount() int                 { return r.logCount }
func (r *Reader) InstantBlockHash() common.Hash { return r.instantHash }
func (r *Reader) Block() block.Record           { return r.block }

// Segment streams the entries of the segment with the given index. The
// payload is decoded in chunks of at most ChunkSize bytes. Malformed or
// truncated payloads produce an error wrapping ErrFormat, after which the
// iteration ends.
func (r *Reader) Segment(index int) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		if r.file == nil {
			yield(kv.Entry{}, ErrNotOpen)
			return
		}
		if index < 0 || index >= r.logCount {
			yield(kv.Entry{}, fmt.Errorf("%w: segment %d not present, log count %d", ErrFormat, index, r.logCount))
			return
		}

		start := int64(r.offsets[index])
		var sizeBuf [4]byte
		if _, err := r.file.ReadAt(sizeBuf[:], start); err != nil {
			yield(kv.Entry{}, fmt.Errorf("%w: failed to read size of segment %d: %w", ErrFormat, index, err))
			return
		}
		size := int64(binary.BigEndian.Uint32(sizeBuf[:]))
		if start+4+size > r.fileSize {
			yield(kv.Entry{}, fmt.Errorf("%w: segment %d truncated, %d bytes declared, %d available", ErrFormat, index, size, r.fileSize-start-4))
			return
		}

		counter := &countingReader{reader: io.NewSectionReader(r.file, start+4, size)}
		stream := rlp.NewStream(bufio.NewReaderSize(counter, ChunkSize), uint64(size))
		for {
			var enc pair
			if err := stream.Decode(&enc); err != nil {
				if errors.Is(err, io.EOF) {
					if counter.read != size {
						yield(kv.Entry{}, fmt.Errorf("%w: segment %d ended after %d of %d bytes", ErrFormat, index, counter.read, size))
					}
					return
				}
				yield(kv.Entry{}, fmt.Errorf("%w: failed to decode segment %d: %w", ErrFormat, index, err))
				return
			}
			var entry kv.Entry
			if enc.Deleted {
				if len(enc.Value) != 0 {
					yield(kv.Entry{}, fmt.Errorf("%w: deleted entry with value in segment %d", ErrFormat, index))
					return
				}
				entry = kv.Delete(enc.Key)
			} else {
				entry = kv.Put(enc.Key, enc.Value)
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// Close releases the file. Closing a closed reader is a no-op.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// OpenReader creates a reader and opens the log at the given path.
func OpenReader(path string, maxLogCount int) (*Reader, error) {
	reader := NewReader(maxLogCount)
	if err := reader.Open(path); err != nil {
		return nil, err
	}
	return reader, nil
}

type countingReader struct {
	reader io.Reader
	read   int64
}

func (r *countingReader) Read(data []byte) (int, error) {
	n, err := r.reader.Read(data)
	r.read += int64(n)
	return n, err
}
