// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package backup records, before a block is committed, the values the block
// is about to overwrite, so that committed blocks can be rolled back.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/0xsoniclabs/tracy"
	"github.com/ethereum/go-ethereum/log"

	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
	"github.com/icon-project/icon-service-sub005/database/rc"
	"github.com/icon-project/icon-service-sub005/database/wal"
	"github.com/icon-project/icon-service-sub005/state/commit"
)

const (
	filePrefix = "block-"
	fileSuffix = ".bak"
)

// Keyed lists the distinct keys a batch touches. It is implemented by
// kv.Batch.
type Keyed interface {
	Keys() [][]byte
}

// RCStore provides the current reward calculator store.
type RCStore interface {
	Current() kv.Store
}

// Manager writes one backup log per committed block into a directory. The
// backup of a block is named after the height it reverts to, i.e. the height
// of the block it supersedes.
type Manager struct {
	dir      string
	window   int
	revision uint32
	state    kv.Store
	rc       RCStore
	log      log.Logger
}

// NewManager creates a manager retaining the backups of the most recent
// window heights. A window of one keeps only the backup of the latest block.
func NewManager(dir string, window int, revision uint32, state kv.Store, rcStore RCStore) (*Manager, error) {
	if window < 1 {
		return nil, fmt.Errorf("invalid backup window %d", window)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{
		dir:      dir,
		window:   window,
		revision: revision,
		state:    state,
		rc:       rcStore,
		log:      log.New("module", "backup"),
	}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) Window() int {
	return m.window
}

// Path returns the location of the backup reverting to the given height.
func (m *Manager) Path(height uint64) string {
	return filepath.Join(m.dir, filePrefix+strconv.FormatUint(height, 10)+fileSuffix)
}

// Run durably records the current values of all keys touched by the state
// and reward calculator batches of the block following superseded. It must
// be called before any of the batches is applied. If isPeriodStart is set,
// the backup is marked as the end of a calculation period. The number of
// payload bytes written to the backup is returned.
func (m *Manager) Run(state, rewards Keyed, superseded block.Record, isPeriodStart bool) (written int, err error) {
	zone := tracy.ZoneBegin("backup::run")
	defer zone.End()

	height := superseded.Height
	if err := m.prune(height); err != nil {
		return 0, fmt.Errorf("failed to prune backups: %w", err)
	}

	path := m.Path(height)
	writer := wal.NewWriter(m.revision, wal.DefaultMaxLogCount, superseded, superseded.Hash)
	if err := writer.Open(path); err != nil {
		return 0, fmt.Errorf("failed to create backup for block %d: %w", height, err)
	}
	success := false
	defer func() {
		err = errors.Join(err, writer.Close())
		if !success {
			err = errors.Join(err, os.Remove(path))
		}
	}()

	if isPeriodStart {
		if err := writer.SetProgress(wal.CalcPeriodEndBlock, true); err != nil {
			return 0, err
		}
	}
	rcKeys := withKey(rewards.Keys(), rc.LastTxIndexKey)
	rcBytes, err := writer.WriteSegment(preImages{store: m.rc.Current(), keys: rcKeys})
	if err != nil {
		return 0, fmt.Errorf("failed to back up reward calculator values of block %d: %w", height, err)
	}
	stateKeys := withKey(state.Keys(), commit.LastBlockKey)
	stateBytes, err := writer.WriteSegment(preImages{store: m.state, keys: stateKeys})
	if err != nil {
		return 0, fmt.Errorf("failed to back up state values of block %d: %w", height, err)
	}
	if err := writer.Flush(); err != nil {
		return 0, err
	}
	success = true
	written = rcBytes + stateBytes
	m.log.Debug("Created backup", "block", superseded, "periodEnd", isPeriodStart, "rcKeys", len(rcKeys), "stateKeys", len(stateKeys), "bytes", written)
	return written, nil
}

// prune removes backups outside of the retention window ending at the given
// height. Backups above it were abandoned by a rollback.
func (m *Manager) prune(height uint64) error {
	heights, err := m.Heights()
	if err != nil {
		return err
	}
	var errs []error
	for _, h := range heights {
		if h > height || h+uint64(m.window) <= height {
			errs = append(errs, m.Remove(h))
		}
	}
	return errors.Join(errs...)
}

// Heights lists the heights of all backups in ascending order.
func (m *Manager) Heights() ([]uint64, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var res []uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		height, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		res = append(res, height)
	}
	slices.Sort(res)
	return res, nil
}

// Remove deletes the backup of the given height. Removing a missing backup
// is a no-op.
func (m *Manager) Remove(height uint64) error {
	if err := os.Remove(m.Path(height)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear deletes all backups.
func (m *Manager) Clear() error {
	heights, err := m.Heights()
	if err != nil {
		return err
	}
	var errs []error
	for _, h := range heights {
		errs = append(errs, m.Remove(h))
	}
	return errors.Join(errs...)
}

func withKey(keys [][]byte, key []byte) [][]byte {
	if slices.ContainsFunc(keys, func(k []byte) bool { return string(k) == string(key) }) {
		return keys
	}
	return append(slices.Clip(keys), key)
}

// preImages produces the current value of every key, or a deletion for keys
// absent from the store.
type preImages struct {
	store kv.Store
	keys  [][]byte
}

func (p preImages) Entries() iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		for _, key := range p.keys {
			value, found, err := kv.GetOptional(p.store, key)
			if err != nil {
				yield(kv.Entry{}, fmt.Errorf("failed to read %x: %w", key, err))
				return
			}
			entry := kv.Delete(key)
			if found {
				entry = kv.Put(key, value)
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}
