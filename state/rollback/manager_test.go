// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package rollback

import (
	"errors"
	"iter"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/icon-project/icon-service-sub005/common/block"
	"github.com/icon-project/icon-service-sub005/database/kv"
	"github.com/icon-project/icon-service-sub005/database/rc"
	"github.com/icon-project/icon-service-sub005/state/backup"
	"github.com/icon-project/icon-service-sub005/state/commit"
)

type snapshot struct {
	state   map[string][]byte
	rewards map[string][]byte
}

type chain struct {
	t           *testing.T
	state       *kv.Memory
	storage     *rc.Storage
	backups     *backup.Manager
	coordinator *commit.Coordinator
	rollback    *Manager
	last        block.Record
	snapshots   map[uint64]snapshot
}

func newChain(t *testing.T, window int) *chain {
	t.Helper()
	ctrl := gomock.NewController(t)
	calculator := rc.NewMockCalculator(ctrl)
	calculator.EXPECT().NotifyCommit(gomock.Any(), gomock.Any()).AnyTimes()
	calculator.EXPECT().NotifyCalculate(gomock.Any(), gomock.Any()).AnyTimes()

	dir := t.TempDir()
	storage, err := rc.OpenStorage(filepath.Join(dir, "rc"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, storage.Close()) })

	state := kv.NewMemory()
	backups, err := backup.NewManager(filepath.Join(dir, "backup"), window, 3, state, storage)
	require.NoError(t, err)

	genesis := block.New(0, common.Hash{0xF0}, common.Hash{}, 0, 0)
	entry, err := commit.LastBlockEntry(genesis)
	require.NoError(t, err)
	require.NoError(t, state.Put(entry.Key, entry.Value))

	c := &chain{
		t:           t,
		state:       state,
		storage:     storage,
		backups:     backups,
		coordinator: commit.NewCoordinator(filepath.Join(dir, "commit.wal"), state, storage, calculator),
		rollback:    NewManager(backups, state, storage),
		last:        genesis,
		snapshots:   map[uint64]snapshot{},
	}
	return c
}

func (c *chain) snapshot() snapshot {
	c.t.Helper()
	state, err := kv.ReadAll(c.state)
	require.NoError(c.t, err)
	rewards, err := kv.ReadAll(c.storage.Current())
	require.NoError(c.t, err)
	return snapshot{state: state, rewards: rewards}
}

func (c *chain) commit(state, rewards *kv.Batch, periodStart bool) {
	c.t.Helper()
	c.snapshots[c.last.Height] = c.snapshot()
	next := block.New(c.last.Height+1, common.Hash{byte(c.last.Height + 1)}, c.last.Hash, int64(c.last.Height+1), c.last.Height)
	_, err := c.backups.Run(state, rewards, c.last, periodStart)
	require.NoError(c.t, err)
	require.NoError(c.t, c.coordinator.Commit(commit.Request{
		Block:             next,
		Revision:          3,
		State:             state,
		RC:                rewards,
		IsCalcPeriodStart: periodStart,
	}))
	c.last = next
}

func (c *chain) requireAt(height uint64) {
	c.t.Helper()
	require.Equal(c.t, c.snapshots[height], c.snapshot())
	last, found, err := commit.ReadLastBlock(c.state)
	require.NoError(c.t, err)
	require.True(c.t, found)
	require.Equal(c.t, height, last.Height)
}

func (c *chain) requireLayout(want rc.Layout) {
	c.t.Helper()
	layout, err := c.storage.Generations().Layout()
	require.NoError(c.t, err)
	require.Equal(c.t, want, layout)
}

func b(s string) []byte {
	return []byte(s)
}

func TestRollback_RestoresExampleBlock(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 1)
	require.NoError(c.state.Put(b("key0"), b("value0")))

	c.commit(kv.NewBatch().Put(b("key0"), b("new0")).Delete(b("key1")).Put(b("key2"), b("value2")), kv.NewBatch(), false)
	value, err := c.state.Get(b("key0"))
	require.NoError(err)
	require.Equal(b("new0"), value)
	value, err = c.state.Get(b("key2"))
	require.NoError(err)
	require.Equal(b("value2"), value)

	res, err := c.rollback.Run(1, 0, 0)
	require.NoError(err)
	require.Equal(uint64(0), res.Height)
	require.Equal(block.New(0, common.Hash{0xF0}, common.Hash{}, 0, 0), res.Block)
	require.False(res.IsCalcPeriodEnd)
	c.requireAt(0)
	_, err = c.state.Get(b("key2"))
	require.ErrorIs(err, kv.ErrNotFound)

	heights, err := c.backups.Heights()
	require.NoError(err)
	require.Empty(heights)
}

func overlappingBlocks(c *chain) {
	require.NoError(c.t, c.state.Put(b("a"), b("a0")))
	require.NoError(c.t, c.state.Put(b("b"), b("b0")))
	require.NoError(c.t, c.storage.Current().Put(b("x"), b("x0")))

	c.commit(
		kv.NewBatch().Put(b("a"), b("a1")).Delete(b("b")),
		kv.NewBatch().PutTx(0, b("x"), b("x1")).PutTx(1, b("y"), b("y1")),
		false)
	c.commit(
		kv.NewBatch().Put(b("b"), b("b2")).Delete(b("a")).Put(b("c"), b("c2")),
		kv.NewBatch().PutTx(0, b("x"), nil).Delete(b("y")),
		false)
	c.commit(
		kv.NewBatch().Put(b("a"), b("a3")).Put(b("c"), b("c3")).Put(b("a"), b("a3'")),
		kv.NewBatch().PutTx(5, b("x"), b("x3")),
		false)
}

func TestRollback_MultipleHeightsRestoreTargetState(t *testing.T) {
	for target := uint64(0); target < 3; target++ {
		t.Run(string(rune('0'+target)), func(t *testing.T) {
			c := newChain(t, 3)
			overlappingBlocks(c)

			res, err := c.rollback.Run(3, target, 0)
			require.NoError(t, err)
			require.Equal(t, target, res.Height)
			c.requireAt(target)

			heights, err := c.backups.Heights()
			require.NoError(t, err)
			want := []uint64{}
			for h := uint64(0); h < target; h++ {
				want = append(want, h)
			}
			require.ElementsMatch(t, want, heights)
		})
	}
}

func TestRollback_DeleteThenRecreateWithinRange(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 3)
	require.NoError(c.state.Put(b("k"), b("v0")))
	c.commit(kv.NewBatch().Delete(b("k")), kv.NewBatch(), false)
	c.commit(kv.NewBatch().Put(b("k"), b("v2")), kv.NewBatch(), false)
	c.commit(kv.NewBatch().Delete(b("k")), kv.NewBatch(), false)

	_, err := c.rollback.Run(3, 2, 0)
	require.NoError(err)
	c.requireAt(2)
	value, err := c.state.Get(b("k"))
	require.NoError(err)
	require.Equal(b("v2"), value)

	_, err = c.rollback.Run(2, 0, 0)
	require.NoError(err)
	c.requireAt(0)
	value, err = c.state.Get(b("k"))
	require.NoError(err)
	require.Equal(b("v0"), value)
}

func TestRollback_DeleteThenRecreateRestoresAbsence(t *testing.T) {
	c := newChain(t, 3)
	c.commit(kv.NewBatch().Put(b("k"), b("v1")), kv.NewBatch(), false)
	c.commit(kv.NewBatch().Delete(b("k")), kv.NewBatch(), false)
	c.commit(kv.NewBatch().Put(b("k"), b("v3")), kv.NewBatch(), false)

	_, err := c.rollback.Run(3, 0, 0)
	require.NoError(t, err)
	c.requireAt(0)
	_, err = c.state.Get(b("k"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func periodBlocks(c *chain) {
	c.commit(kv.NewBatch().Put(b("s1"), b("1")), kv.NewBatch().Put(b("r"), b("1")), false)
	c.commit(
		kv.NewBatch().Put(b("s2"), b("2")),
		kv.NewBatch().Put(b("r"), b("2")).Put(rc.BlockProduceInfoKey(2), b("bp")),
		true)
	c.commit(kv.NewBatch().Put(b("s1"), b("3")), kv.NewBatch().Put(b("r"), b("3")).Put(b("q"), b("3")), false)
}

func TestRollback_AcrossPeriodBoundaryRestoresGeneration(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 5)
	periodBlocks(c)
	c.requireLayout(rc.Layout{Current: true, Final: []uint64{2}})

	res, err := c.rollback.Run(3, 1, 2)
	require.NoError(err)
	require.Equal(uint64(1), res.Height)
	require.True(res.IsCalcPeriodEnd)
	c.requireLayout(rc.Layout{Current: true})
	c.requireAt(1)

	// The period start can be committed again.
	c.last = res.Block
	c.commit(kv.NewBatch(), kv.NewBatch().Put(b("r"), b("2'")), true)
	c.requireLayout(rc.Layout{Current: true, Final: []uint64{2}})
}

func TestRollback_AcrossPeriodBoundaryToEarlierBlock(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 5)
	periodBlocks(c)

	res, err := c.rollback.Run(3, 0, 2)
	require.NoError(err)
	require.False(res.IsCalcPeriodEnd)
	c.requireLayout(rc.Layout{Current: true})
	c.requireAt(0)
}

func TestRollback_WithinPeriodKeepsGenerations(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 5)
	periodBlocks(c)

	res, err := c.rollback.Run(3, 2, 2)
	require.NoError(err)
	require.False(res.IsCalcPeriodEnd)
	c.requireLayout(rc.Layout{Current: true, Final: []uint64{2}})
	c.requireAt(2)
}

func TestRollback_RejectsUndeclaredPeriodBoundary(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 5)
	periodBlocks(c)
	before := c.snapshot()

	_, err := c.rollback.Run(3, 0, 0)
	require.ErrorIs(err, ErrInvalidParams)
	_, err = c.rollback.Run(3, 0, 3)
	require.ErrorIs(err, ErrInvalidParams)
	require.Equal(before, c.snapshot())
}

func TestRollback_RejectsMultiplePeriodBoundaries(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 5)
	periodBlocks(c)
	c.commit(kv.NewBatch(), kv.NewBatch().Put(b("r"), b("4")), true)

	_, err := c.rollback.Run(4, 0, 4)
	require.ErrorIs(err, ErrInvalidParams)

	_, err = c.rollback.Run(4, 2, 4)
	require.NoError(err)
	c.requireLayout(rc.Layout{Current: true})
	c.requireAt(2)
}

func TestRollback_RejectsInvalidRange(t *testing.T) {
	c := newChain(t, 1)
	c.commit(kv.NewBatch().Put(b("a"), b("1")), kv.NewBatch(), false)
	before := c.snapshot()

	for _, target := range []uint64{1, 2} {
		_, err := c.rollback.Run(1, target, 0)
		require.ErrorIs(t, err, ErrInvalidParams)
	}
	require.Equal(t, before, c.snapshot())
	heights, err := c.backups.Heights()
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, heights)
}

func TestRollback_MissingBackupIsFatal(t *testing.T) {
	c := newChain(t, 1)
	c.commit(kv.NewBatch().Put(b("a"), b("1")), kv.NewBatch(), false)
	c.commit(kv.NewBatch().Put(b("a"), b("2")), kv.NewBatch(), false)
	before := c.snapshot()

	_, err := c.rollback.Run(2, 0, 0)
	require.ErrorIs(t, err, ErrMissingBackup)
	require.Equal(t, before, c.snapshot())

	_, err = c.rollback.Run(2, 1, 0)
	require.NoError(t, err)
	c.requireAt(1)
}

type failingStore struct {
	kv.Store
	err error
}

func (s failingStore) WriteBatch(iter.Seq2[kv.Entry, error]) error {
	return s.err
}

func TestRollback_FailedRunCanBeRepeated(t *testing.T) {
	require := require.New(t)
	c := newChain(t, 5)
	periodBlocks(c)
	failure := errors.New("disk full")

	broken := NewManager(c.backups, failingStore{Store: c.state, err: failure}, c.storage)
	_, err := broken.Run(3, 1, 2)
	require.ErrorIs(err, failure)
	heights, err := c.backups.Heights()
	require.NoError(err)
	require.Equal([]uint64{0, 1, 2}, heights)

	res, err := c.rollback.Run(3, 1, 2)
	require.NoError(err)
	require.True(res.IsCalcPeriodEnd)
	c.requireLayout(rc.Layout{Current: true})
	c.requireAt(1)
}
