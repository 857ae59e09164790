// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package state ties the stores of a node to the commit, backup and
// rollback procedures. A Manager serializes all operations modifying the
// stores.
package state

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/0xsoniclabs/tracy"
	"github.com/ethereum/go-ethereum/log"

	carmen "github.com/icon-project/icon-service-sub005/common"
	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
	"github.com/icon-project/icon-service-sub005/database/rc"
	"github.com/icon-project/icon-service-sub005/state/backup"
	"github.com/icon-project/icon-service-sub005/state/commit"
	"github.com/icon-project/icon-service-sub005/state/rollback"
)

const (
	// ErrNotRecovered is returned when blocks are committed or rolled back
	// before the startup recovery ran.
	ErrNotRecovered = carmen.ConstError("recovery has not been run")
	// ErrUnexpectedBlock is returned for blocks not following the last
	// committed block.
	ErrUnexpectedBlock = carmen.ConstError("block does not follow last committed block")
	// ErrNoBlock is returned when rolling back before any block was committed.
	ErrNoBlock = carmen.ConstError("no block committed")
)

// Manager owns the state store and the reward calculator store of a node.
type Manager struct {
	mu          sync.Mutex
	params      Parameters
	state       *kv.LevelDB
	rc          *rc.Storage
	backups     *backup.Manager
	coordinator *commit.Coordinator
	rollback    *rollback.Manager
	recovered   bool
	last        block.Record
	hasLast     bool
	metrics     *managerMetrics
	log         log.Logger
}

// Open opens or creates the stores described by the parameters. Recover
// must be called before blocks are committed.
func Open(params Parameters, calculator rc.Calculator) (_ *Manager, err error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(params.Directory, 0o755); err != nil {
		return nil, err
	}

	state, err := kv.OpenLevelDB(params.StatePath(), params.CacheSize)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			err = errors.Join(err, state.Close())
		}
	}()

	rcStorage, err := rc.OpenStorage(params.RCPath(), params.CacheSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !success {
			err = errors.Join(err, rcStorage.Close())
		}
	}()

	backups, err := backup.NewManager(params.BackupPath(), params.BackupWindow, params.Revision, state, rcStorage)
	if err != nil {
		return nil, err
	}

	res := &Manager{
		params:      params,
		state:       state,
		rc:          rcStorage,
		backups:     backups,
		coordinator: commit.NewCoordinator(params.CommitLogPath(), state, rcStorage, calculator),
		rollback:    rollback.NewManager(backups, state, rcStorage),
		metrics:     newManagerMetrics(),
		log:         log.New("module", "state"),
	}
	if err := res.loadLastBlock(); err != nil {
		return nil, err
	}
	success = true
	res.log.Info("Opened state", "params", params, "last", res.last, "hasLast", res.hasLast)
	return res, nil
}

func (m *Manager) loadLastBlock() error {
	last, found, err := commit.ReadLastBlock(m.state)
	if err != nil {
		return err
	}
	m.last, m.hasLast = last, found
	if found {
		m.metrics.height.Set(float64(last.Height))
	}
	return nil
}

// Recover completes or discards a commit interrupted by a crash. If expect
// is not nil, an interrupted commit must be of that block.
func (m *Manager) Recover(expect *block.Record) (commit.RecoveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.coordinator.Recover(expect)
	if err != nil {
		return res, err
	}
	m.metrics.recoveries.WithLabelValues(res.Action.String()).Inc()
	if err := m.loadLastBlock(); err != nil {
		return res, err
	}
	m.recovered = true
	return res, nil
}

// LastBlock returns the last committed block. The second result is false
// if no block was committed yet.
func (m *Manager) LastBlock() (block.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}

// CommitBlock backs up the values the block overwrites and commits its
// batches. The first committed block has no backup and cannot be rolled
// back.
func (m *Manager) CommitBlock(record block.Record, state, rewards *kv.Batch, isCalcPeriodStart bool) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	zone := tracy.ZoneBegin("state::commit_block")
	defer zone.End()
	start := time.Now()
	defer func() {
		m.metrics.commits.WithLabelValues(result(err)).Inc()
		m.metrics.commitDuration.Observe(time.Since(start).Seconds())
	}()

	if !m.recovered {
		return ErrNotRecovered
	}
	if m.hasLast && !m.last.IsParentOf(record) {
		return fmt.Errorf("%w: last %v, got %v", ErrUnexpectedBlock, m.last, record)
	}
	if state == nil {
		state = kv.NewBatch()
	}
	if rewards == nil {
		rewards = kv.NewBatch()
	}

	if m.hasLast {
		written, err := m.backups.Run(state, rewards, m.last, isCalcPeriodStart)
		if err != nil {
			return err
		}
		m.metrics.backupBytes.Add(float64(written))
	}
	err = m.coordinator.Commit(commit.Request{
		Block:             record,
		Revision:          m.params.Revision,
		InstantHash:       record.Hash,
		State:             state,
		RC:                rewards,
		IsCalcPeriodStart: isCalcPeriodStart,
	})
	if err != nil {
		// The commit log decides the outcome.
		m.recovered = false
		return err
	}
	m.last, m.hasLast = record, true
	m.metrics.height.Set(float64(record.Height))
	return nil
}

// Rollback reverts the stores to the target height. calcStart is the first
// block of the calculation period of the last committed block.
func (m *Manager) Rollback(target, calcStart uint64) (_ rollback.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		m.metrics.rollbacks.WithLabelValues(result(err)).Inc()
	}()

	if !m.recovered {
		return rollback.Result{}, ErrNotRecovered
	}
	if !m.hasLast {
		return rollback.Result{}, ErrNoBlock
	}
	from := m.last.Height
	res, err := m.rollback.Run(from, target, calcStart)
	if err != nil {
		return rollback.Result{}, err
	}
	m.last = res.Block
	m.metrics.rolledBackBlocks.Add(float64(from - target))
	m.metrics.height.Set(float64(target))
	return res, nil
}

func (m *Manager) Params() Parameters {
	return m.params
}

// Backups provides access to the retained backups.
func (m *Manager) Backups() *backup.Manager {
	return m.backups
}

// Generations provides access to the reward calculator store generations.
func (m *Manager) Generations() *rc.Generations {
	return m.rc.Generations()
}

// State returns the state store.
func (m *Manager) State() kv.Store {
	return m.state
}

// RC returns the current reward calculator store. It must not be retained
// across commits.
func (m *Manager) RC() kv.Store {
	return m.rc.Current()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.rc.Close(), m.state.Close())
}
