// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package rollback reverts committed blocks using the backups recorded
// before each of them was committed.
package rollback

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"slices"

	"github.com/0xsoniclabs/tracy"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/exp/maps"

	carmen "github.com/icon-project/icon-service-sub005/common"
	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
	"github.com/icon-project/icon-service-sub005/database/rc"
	"github.com/icon-project/icon-service-sub005/database/wal"
	"github.com/icon-project/icon-service-sub005/state/backup"
)

const (
	// ErrInvalidParams is returned for rollback requests that cannot be
	// served. Nothing is modified.
	ErrInvalidParams = carmen.ConstError("invalid rollback parameters")
	// ErrMissingBackup is returned if a backup of the rollback range does not
	// exist. Nothing is modified.
	ErrMissingBackup = carmen.ConstError("missing backup")
	// ErrInvalidBackup is returned if a backup does not describe the height
	// it is stored for.
	ErrInvalidBackup = carmen.ConstError("invalid backup")
)

// RCStore is the reward calculator storage rolled back alongside the state.
// It is implemented by rc.Storage.
type RCStore interface {
	Current() kv.Store
	Restore(height uint64) error
}

// Result describes the state reached by a rollback.
type Result struct {
	Height uint64
	Block  block.Record
	// IsCalcPeriodEnd is set if the reached block is the last block of a
	// calculation period.
	IsCalcPeriodEnd bool
}

// Manager reverts the state store and the reward calculator store to an
// earlier height.
type Manager struct {
	backups *backup.Manager
	state   kv.Store
	rc      RCStore
	log     log.Logger
}

func NewManager(backups *backup.Manager, state kv.Store, rcStore RCStore) *Manager {
	return &Manager{
		backups: backups,
		state:   state,
		rc:      rcStore,
		log:     log.New("module", "rollback"),
	}
}

// Run reverts the stores from lastConfirmed to target, where calcStart is
// the first block of the calculation period lastConfirmed belongs to. If the
// range crosses calcStart, the reward calculator store is restored to the
// generation sealed at calcStart. The consumed backups are deleted once both
// stores are written; a failed run may be repeated.
func (m *Manager) Run(lastConfirmed, target, calcStart uint64) (Result, error) {
	zone := tracy.ZoneBegin("rollback::run")
	defer zone.End()

	if target >= lastConfirmed {
		return Result{}, fmt.Errorf("%w: target %d not below last confirmed block %d", ErrInvalidParams, target, lastConfirmed)
	}
	crossesPeriod := target < calcStart && calcStart <= lastConfirmed

	state := newAccumulator()
	rewards := newAccumulator()
	var res Result
	for height := lastConfirmed - 1; ; height-- {
		periodEnd, record, err := m.merge(height, state, rewards, !crossesPeriod || height < calcStart)
		if err != nil {
			return Result{}, err
		}
		if periodEnd && (!crossesPeriod || height != calcStart-1) {
			return Result{}, fmt.Errorf("%w: calculation period ends at %d, rollback from %d to %d with period start %d crosses it",
				ErrInvalidParams, height, lastConfirmed, target, calcStart)
		}
		if crossesPeriod && height == calcStart-1 && !periodEnd {
			return Result{}, fmt.Errorf("%w: block %d is not the end of a calculation period", ErrInvalidParams, height)
		}
		if height == target {
			res = Result{Height: target, Block: record, IsCalcPeriodEnd: periodEnd}
			break
		}
	}

	if crossesPeriod {
		// The block produce info of the period start is regenerated on
		// re-execution.
		rewards.set(kv.Delete(rc.BlockProduceInfoKey(calcStart)))
		if err := m.rc.Restore(calcStart); err != nil {
			return Result{}, err
		}
	}
	if err := m.rc.Current().WriteBatch(rewards.Entries()); err != nil {
		return Result{}, fmt.Errorf("failed to roll back reward calculator store: %w", err)
	}
	if err := m.state.WriteBatch(state.Entries()); err != nil {
		return Result{}, fmt.Errorf("failed to roll back state store: %w", err)
	}

	var errs []error
	for height := target; height < lastConfirmed; height++ {
		errs = append(errs, m.backups.Remove(height))
	}
	if err := errors.Join(errs...); err != nil {
		return Result{}, fmt.Errorf("failed to remove consumed backups: %w", err)
	}

	m.log.Info("Rolled back", "from", lastConfirmed, "to", res.Block, "periodStart", calcStart,
		"crossedPeriod", crossesPeriod, "stateKeys", state.Len(), "rcKeys", rewards.Len())
	return res, nil
}

// merge adds the pre-images of the backup at the given height to the
// accumulators. Backups are merged from the highest height down, so values
// of lower heights replace those of higher ones.
func (m *Manager) merge(height uint64, state, rewards *accumulator, includeRewards bool) (periodEnd bool, record block.Record, err error) {
	reader, err := wal.OpenReader(m.backups.Path(height), wal.DefaultMaxLogCount)
	if errors.Is(err, fs.ErrNotExist) {
		return false, block.Record{}, fmt.Errorf("%w: no backup for block %d", ErrMissingBackup, height)
	}
	if err != nil {
		return false, block.Record{}, fmt.Errorf("%w: backup for block %d: %w", ErrInvalidBackup, height, err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	record = reader.Block()
	if record.Height != height {
		return false, block.Record{}, fmt.Errorf("%w: backup for block %d holds block %v", ErrInvalidBackup, height, record)
	}
	if reader.LogCount() != wal.DefaultMaxLogCount {
		return false, block.Record{}, fmt.Errorf("%w: backup for block %d has %d segments", ErrInvalidBackup, height, reader.LogCount())
	}
	if includeRewards {
		if err := rewards.merge(reader.Segment(wal.RCSegment)); err != nil {
			return false, block.Record{}, fmt.Errorf("%w: backup for block %d: %w", ErrInvalidBackup, height, err)
		}
	}
	if err := state.merge(reader.Segment(wal.StateSegment)); err != nil {
		return false, block.Record{}, fmt.Errorf("%w: backup for block %d: %w", ErrInvalidBackup, height, err)
	}
	return reader.Progress().Has(wal.CalcPeriodEndBlock), record, nil
}

// accumulator collects one entry per key.
type accumulator struct {
	entries map[string]kv.Entry
}

func newAccumulator() *accumulator {
	return &accumulator{entries: map[string]kv.Entry{}}
}

func (a *accumulator) set(entry kv.Entry) {
	a.entries[string(entry.Key)] = entry
}

func (a *accumulator) merge(entries iter.Seq2[kv.Entry, error]) error {
	for entry, err := range entries {
		if err != nil {
			return err
		}
		a.set(entry)
	}
	return nil
}

func (a *accumulator) Len() int {
	return len(a.entries)
}

// Entries lists the collected entries ordered by key.
func (a *accumulator) Entries() iter.Seq2[kv.Entry, error] {
	keys := maps.Keys(a.entries)
	slices.Sort(keys)
	return func(yield func(kv.Entry, error) bool) {
		for _, key := range keys {
			if !yield(a.entries[key], nil) {
				return
			}
		}
	}
}
