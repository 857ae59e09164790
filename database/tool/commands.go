// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	carmen "github.com/icon-project/icon-service-sub005/common"
	"github.com/icon-project/icon-service-sub005/database/rc"
	"github.com/icon-project/icon-service-sub005/database/wal"
	"github.com/icon-project/icon-service-sub005/state"
	"github.com/icon-project/icon-service-sub005/state/commit"
)

const errCalculatorOffline = carmen.ConstError("reward calculator is not reachable from walctl")

// offlineTransport rejects all requests; notifications are left to the node.
type offlineTransport struct{}

func (offlineTransport) CommitBlock(uint64, common.Hash) (bool, error) {
	return false, errCalculatorOffline
}

func (offlineTransport) Calculate(string, uint64) (bool, error) {
	return false, errCalculatorOffline
}

func (offlineTransport) Close() error {
	return nil
}

// openManager opens the stores configured by the config flag. The returned
// close function releases the stores and the calculator client.
func openManager(context *cli.Context) (*state.Manager, func() error, error) {
	params, err := state.LoadParameters(context.String(configFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	client := rc.NewClient(offlineTransport{})
	manager, err := state.Open(params, client)
	if err != nil {
		return nil, nil, errors.Join(err, client.Close())
	}
	return manager, func() error {
		return errors.Join(manager.Close(), client.Close())
	}, nil
}

var Recover = cli.Command{
	Action: addPerformanceDiagnoses(recoverCommit),
	Name:   "recover",
	Usage:  "completes or discards an interrupted commit",
	Flags:  []cli.Flag{&configFlag},
}

func recoverCommit(context *cli.Context) (err error) {
	manager, closeManager, err := openManager(context)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, closeManager())
	}()

	out := context.App.Writer
	res, err := manager.Recover(nil)
	if errors.Is(err, errCalculatorOffline) {
		fmt.Fprintf(out, "Stores of block %d are written, notifying the reward calculator is left to the node.\n", res.Block.Height)
		return nil
	}
	if err != nil {
		return err
	}
	switch res.Action {
	case commit.NoLog:
		fmt.Fprintf(out, "No interrupted commit found.\n")
	default:
		fmt.Fprintf(out, "Recovered commit of block %d: %v\n", res.Block.Height, res.Action)
	}
	return nil
}

var (
	targetFlag = cli.Uint64Flag{
		Name:     "target",
		Usage:    "height of the block to roll back to",
		Required: true,
	}
	calcStartFlag = cli.Uint64Flag{
		Name:     "calc-start",
		Usage:    "first block of the calculation period of the last committed block",
		Required: true,
	}
)

var Rollback = cli.Command{
	Action: addPerformanceDiagnoses(rollbackBlocks),
	Name:   "rollback",
	Usage:  "reverts the stores to an earlier block using the retained backups",
	Flags:  []cli.Flag{&configFlag, &targetFlag, &calcStartFlag},
}

func rollbackBlocks(context *cli.Context) (err error) {
	manager, closeManager, err := openManager(context)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, closeManager())
	}()

	if _, err := manager.Recover(nil); err != nil {
		return fmt.Errorf("recovery must complete before a rollback: %w", err)
	}
	last, _ := manager.LastBlock()
	res, err := manager.Rollback(context.Uint64(targetFlag.Name), context.Uint64(calcStartFlag.Name))
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "Rolled back from block %d to %v (calculation period end: %t)\n", last.Height, res.Block, res.IsCalcPeriodEnd)
	return nil
}

var Check = cli.Command{
	Action: addPerformanceDiagnoses(check),
	Name:   "check",
	Usage:  "checks the consistency of the stores, generations, backups and commit log",
	Flags:  []cli.Flag{&configFlag},
}

func check(context *cli.Context) (err error) {
	manager, closeManager, err := openManager(context)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, closeManager())
	}()

	out := context.App.Writer
	last, found := manager.LastBlock()
	if found {
		fmt.Fprintf(out, "Last committed block: %v\n", last)
	} else {
		fmt.Fprintf(out, "No block committed\n")
	}

	var problems []error
	layout, err := manager.Generations().Layout()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Reward calculator generations: %v\n", layout)
	if !layout.Current {
		problems = append(problems, fmt.Errorf("current generation is missing"))
	}
	if len(layout.Standby) > 1 {
		problems = append(problems, fmt.Errorf("%w: several standby generations %v", rc.ErrInvalidLayout, layout.Standby))
	}
	if len(layout.Unknown) > 0 {
		problems = append(problems, fmt.Errorf("unknown directories %v", layout.Unknown))
	}

	heights, err := manager.Backups().Heights()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Backups: %v\n", heights)
	for i, height := range heights {
		if found && height >= last.Height {
			problems = append(problems, fmt.Errorf("backup %d is not below last block %d", height, last.Height))
		}
		if i > 0 && heights[i-1]+1 != height {
			problems = append(problems, fmt.Errorf("backups %d and %d are not contiguous", heights[i-1], height))
		}
		problems = append(problems, checkBackup(manager, height))
	}

	reader, err := wal.OpenReader(manager.Params().CommitLogPath(), wal.DefaultMaxLogCount)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(out, "No interrupted commit\n")
	case err != nil:
		problems = append(problems, fmt.Errorf("commit log: %w", err))
	default:
		fmt.Fprintf(out, "Interrupted commit of block %d, progress %v, run recover\n", reader.Block().Height, reader.Progress())
		problems = append(problems, reader.Close())
	}

	if err := errors.Join(problems...); err != nil {
		return err
	}
	fmt.Fprintf(out, "All checks passed!\n")
	return nil
}

func checkBackup(manager *state.Manager, height uint64) (err error) {
	reader, err := wal.OpenReader(manager.Backups().Path(height), wal.DefaultMaxLogCount)
	if err != nil {
		return fmt.Errorf("backup %d: %w", height, err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()
	if got := reader.Block().Height; got != height {
		return fmt.Errorf("backup %d holds block %d", height, got)
	}
	for segment := range reader.LogCount() {
		for _, err := range reader.Segment(segment) {
			if err != nil {
				return fmt.Errorf("backup %d: %w", height, err)
			}
		}
	}
	return nil
}
