// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package commit makes the commit of a block durable. Every batch is logged
// to a write-ahead log before it is applied, so that a crash at any point of
// the commit can be completed or discarded on the next start.
package commit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/0xsoniclabs/tracy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	carmen "github.com/icon-project/icon-service-sub005/common"
	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
	"github.com/icon-project/icon-service-sub005/database/rc"
	"github.com/icon-project/icon-service-sub005/database/wal"
)

const (
	// ErrBlockMismatch is returned by recovery if the logged block is not the
	// block the node expects to commit next. It requires operator action.
	ErrBlockMismatch = carmen.ConstError("commit log does not match node state")
	// ErrInvalidProgress is returned for progress states no commit produces.
	ErrInvalidProgress = carmen.ConstError("invalid progress state in commit log")
)

// RCStore is the reward calculator storage the coordinator writes to. It is
// implemented by rc.Storage.
type RCStore interface {
	Current() kv.Store
	Seal(height uint64) (string, error)
	Finalize(height uint64) error
	Finalized(height uint64) (bool, error)
}

// Request describes the commit of a single block.
type Request struct {
	Block       block.Record
	Revision    uint32
	InstantHash common.Hash
	// State and RC are the batches for the state store and the reward
	// calculator store. Nil sources are treated as empty.
	State kv.Source
	RC    kv.Source
	// IsCalcPeriodStart is set for the first block of a calculation period.
	IsCalcPeriodStart bool
}

// Action names what recovery did with a commit log.
type Action int

const (
	NoLog         Action = iota // no log was present
	Discarded                   // the log was unusable or nothing was applied
	ReplayedState               // the state batch was replayed and the commit completed
	Notified                    // pending notifications were sent
	CleanedUp                   // the commit was complete, only the log was left
)

func (a Action) String() string {
	switch a {
	case NoLog:
		return "no_log"
	case Discarded:
		return "discarded"
	case ReplayedState:
		return "replayed_state"
	case Notified:
		return "notified"
	case CleanedUp:
		return "cleaned_up"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// RecoveryResult summarizes a recovery run.
type RecoveryResult struct {
	Action   Action
	Block    block.Record // the logged block, zero if no readable log existed
	Progress wal.State    // the progress found in the log
}

// Coordinator commits blocks to the state store and the reward calculator
// store and recovers interrupted commits. It is not safe for concurrent
// use; the caller serializes commits.
type Coordinator struct {
	path       string
	state      kv.Store
	rc         RCStore
	calculator rc.Calculator
	log        log.Logger
}

// NewCoordinator creates a coordinator using the log file at the given path.
func NewCoordinator(path string, state kv.Store, rcStore RCStore, calculator rc.Calculator) *Coordinator {
	return &Coordinator{
		path:       path,
		state:      state,
		rc:         rcStore,
		calculator: calculator,
		log:        log.New("module", "commit"),
	}
}

// Path returns the location of the commit log.
func (c *Coordinator) Path() string {
	return c.path
}

// Commit durably commits the block of the request. If Commit fails, the
// commit log is left in place and Recover completes or discards the commit.
func (c *Coordinator) Commit(req Request) (err error) {
	zone := tracy.ZoneBegin("commit::block")
	defer zone.End()

	height := req.Block.Height
	if req.State == nil {
		req.State = emptySource{}
	}
	if req.RC == nil {
		req.RC = emptySource{}
	}
	last, err := LastBlockEntry(req.Block)
	if err != nil {
		return stageError("encode block", height, err)
	}

	writer := wal.NewWriter(req.Revision, wal.DefaultMaxLogCount, req.Block, req.InstantHash)
	if err := writer.Open(c.path); err != nil {
		return stageError("open log", height, err)
	}
	defer func() {
		err = errors.Join(err, writer.Close())
	}()

	if req.IsCalcPeriodStart {
		if err := writer.SetProgress(wal.CalcPeriodStartBlock, true); err != nil {
			return stageError("mark period start", height, err)
		}
	}
	if _, err := writer.WriteSegment(rcSource(req.RC)); err != nil {
		return stageError("log reward calculator batch", height, err)
	}
	if _, err := writer.WriteSegment(stateSource(req.State, last)); err != nil {
		return stageError("log state batch", height, err)
	}
	if err := writer.Flush(); err != nil {
		return stageError("flush log", height, err)
	}

	// Stores are written from the logged content only.
	reader, err := wal.OpenReader(c.path, wal.DefaultMaxLogCount)
	if err != nil {
		return stageError("reopen log", height, err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	applyZone := tracy.ZoneBegin("commit::apply")
	if err := c.rc.Current().WriteBatch(reader.Segment(wal.RCSegment)); err != nil {
		applyZone.End()
		return stageError("write reward calculator store", height, err)
	}
	if err := mark(writer, wal.WriteRCDB); err != nil {
		applyZone.End()
		return stageError("mark reward calculator store written", height, err)
	}
	if err := c.state.WriteBatch(reader.Segment(wal.StateSegment)); err != nil {
		applyZone.End()
		return stageError("write state store", height, err)
	}
	if err := mark(writer, wal.WriteStateDB); err != nil {
		applyZone.End()
		return stageError("mark state store written", height, err)
	}
	applyZone.End()

	if err := reader.Close(); err != nil {
		return stageError("close log", height, err)
	}
	if err := c.complete(writer, req.Block); err != nil {
		return err
	}
	c.log.Debug("Committed block", "block", req.Block, "periodStart", req.IsCalcPeriodStart)
	return nil
}

// Recover inspects the commit log left by an interrupted commit and
// completes or discards that commit. If expect is not nil, the logged block
// must equal it. Recover is idempotent and must run before new blocks are
// committed.
func (c *Coordinator) Recover(expect *block.Record) (res RecoveryResult, err error) {
	zone := tracy.ZoneBegin("commit::recover")
	defer zone.End()

	reader := wal.NewReader(wal.DefaultMaxLogCount)
	err = reader.Open(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return RecoveryResult{Action: NoLog}, nil
	case errors.Is(err, wal.ErrBlockRecord):
		return RecoveryResult{}, fmt.Errorf("commit log %s is unusable: %w", c.path, err)
	case errors.Is(err, wal.ErrFormat):
		// The header was never completely written, nothing was applied.
		c.log.Warn("Discarding unreadable commit log", "path", c.path, "err", err)
		if err := c.remove(); err != nil {
			return RecoveryResult{}, err
		}
		return RecoveryResult{Action: Discarded}, nil
	case err != nil:
		return RecoveryResult{}, fmt.Errorf("failed to open commit log: %w", err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	record := reader.Block()
	progress := reader.Progress()
	res = RecoveryResult{Block: record, Progress: progress}
	if expect != nil && *expect != record {
		return res, fmt.Errorf("%w: log holds block %v, expected %v", ErrBlockMismatch, record, *expect)
	}

	if !progress.Has(wal.WriteRCDB) && !progress.Has(wal.WriteStateDB) {
		if err := reader.Close(); err != nil {
			return res, err
		}
		if err := c.remove(); err != nil {
			return res, err
		}
		res.Action = Discarded
		c.log.Info("Discarded commit log without applied batches", "block", record, "progress", progress)
		return res, nil
	}
	if !progress.Has(wal.WriteRCDB) {
		return res, fmt.Errorf("%w: %v", ErrInvalidProgress, progress)
	}
	if err := c.checkLastBlock(record, progress.Has(wal.WriteStateDB)); err != nil {
		return res, err
	}

	writer := wal.NewWriter(reader.Revision(), wal.DefaultMaxLogCount, record, reader.InstantBlockHash())
	if err := writer.Resume(c.path); err != nil {
		return res, stageError("resume log", record.Height, err)
	}
	defer func() {
		err = errors.Join(err, writer.Close())
	}()

	res.Action = CleanedUp
	if !progress.Has(wal.SendCommitBlock) ||
		(progress.Has(wal.CalcPeriodStartBlock) && !progress.Has(wal.SendCalculate)) {
		res.Action = Notified
	}
	if !progress.Has(wal.WriteStateDB) {
		if err := c.state.WriteBatch(reader.Segment(wal.StateSegment)); err != nil {
			return res, stageError("replay state batch", record.Height, err)
		}
		if err := mark(writer, wal.WriteStateDB); err != nil {
			return res, stageError("mark state store written", record.Height, err)
		}
		res.Action = ReplayedState
	}

	if err := reader.Close(); err != nil {
		return res, err
	}
	if err := c.complete(writer, record); err != nil {
		return res, err
	}
	c.log.Info("Recovered interrupted commit", "block", record, "progress", progress, "action", res.Action)
	return res, nil
}

// checkLastBlock verifies that the state store is consistent with the
// logged block: before the state batch is applied the store holds its
// parent, afterwards the block itself.
func (c *Coordinator) checkLastBlock(record block.Record, stateWritten bool) error {
	last, found, err := ReadLastBlock(c.state)
	if err != nil {
		return err
	}
	if stateWritten {
		if !found || last != record {
			return fmt.Errorf("%w: state store holds %v, log holds applied block %v", ErrBlockMismatch, last, record)
		}
		return nil
	}
	if found && !last.IsParentOf(record) {
		return fmt.Errorf("%w: state store holds %v, not the parent of logged block %v", ErrBlockMismatch, last, record)
	}
	return nil
}

// complete sends the notifications still missing according to the progress
// of the writer and deletes the log.
func (c *Coordinator) complete(writer *wal.Writer, record block.Record) error {
	zone := tracy.ZoneBegin("commit::notify")
	defer zone.End()

	height := record.Height
	progress := writer.Progress()
	if !progress.Has(wal.SendCommitBlock) {
		if err := c.calculator.NotifyCommit(height, record.Hash); err != nil {
			return stageError("notify commit", height, err)
		}
		if err := mark(writer, wal.SendCommitBlock); err != nil {
			return stageError("mark commit notified", height, err)
		}
	}
	if progress.Has(wal.CalcPeriodStartBlock) && !progress.Has(wal.SendCalculate) {
		if err := c.calculate(height); err != nil {
			return stageError("start calculation", height, err)
		}
		if err := mark(writer, wal.SendCalculate); err != nil {
			return stageError("mark calculation started", height, err)
		}
	}
	if err := writer.Close(); err != nil {
		return stageError("close log", height, err)
	}
	if err := c.remove(); err != nil {
		return stageError("delete log", height, err)
	}
	return nil
}

// calculate seals the current reward calculator generation, hands it to the
// calculator and finalizes it. A finalized generation was acknowledged
// before, so nothing is sent again.
func (c *Coordinator) calculate(height uint64) error {
	finalized, err := c.rc.Finalized(height)
	if err != nil {
		return err
	}
	if finalized {
		c.log.Debug("Calculation already started", "height", height)
		return nil
	}
	path, err := c.rc.Seal(height)
	if err != nil {
		return err
	}
	if err := c.calculator.NotifyCalculate(path, height); err != nil {
		return err
	}
	return c.rc.Finalize(height)
}

func (c *Coordinator) remove() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func mark(writer *wal.Writer, bits wal.State) error {
	if err := writer.SetProgress(bits, true); err != nil {
		return err
	}
	return writer.Flush()
}

func stageError(stage string, height uint64, err error) error {
	return fmt.Errorf("commit of block %d failed to %s: %w", height, stage, err)
}
