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
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/icon-project/icon-service-sub005/database/wal"
)

var (
	entriesFlag = cli.BoolFlag{
		Name:  "entries",
		Usage: "lists all entries of each segment",
	}
	slotsFlag = cli.IntFlag{
		Name:  "slots",
		Usage: "number of segment slots in the header",
		Value: wal.DefaultMaxLogCount,
	}
)

var Inspect = cli.Command{
	Action:    addPerformanceDiagnoses(inspect),
	Name:      "inspect",
	Usage:     "prints the header, block record and segments of a commit log or backup",
	ArgsUsage: "<file>",
	Flags:     []cli.Flag{&entriesFlag, &slotsFlag},
}

func inspect(context *cli.Context) (err error) {
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing log file")
	}
	reader, err := wal.OpenReader(context.Args().Get(0), context.Int(slotsFlag.Name))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()
	return printLog(context.App.Writer, reader, context.Bool(entriesFlag.Name))
}

var segmentNames = map[int]string{
	wal.RCSegment:    "reward calculator",
	wal.StateSegment: "state",
}

func printLog(out io.Writer, reader *wal.Reader, entries bool) error {
	record := reader.Block()
	digest, err := record.Digest(reader.Revision())
	if err != nil {
		return err
	}
	instant := reader.InstantBlockHash()
	fmt.Fprintf(out, "version:       %d\n", reader.Version())
	fmt.Fprintf(out, "revision:      %d\n", reader.Revision())
	fmt.Fprintf(out, "progress:      %v\n", reader.Progress())
	fmt.Fprintf(out, "instant hash:  %s\n", hexutil.Encode(instant[:]))
	fmt.Fprintf(out, "height:        %d\n", record.Height)
	fmt.Fprintf(out, "hash:          %s\n", record.Hash.Hex())
	fmt.Fprintf(out, "previous hash: %s\n", record.PrevHash.Hex())
	fmt.Fprintf(out, "timestamp:     %d\n", record.Timestamp)
	fmt.Fprintf(out, "fee:           %s\n", record.CumulativeFee.Dec())
	fmt.Fprintf(out, "digest:        %s\n", digest.Hex())

	for i := range reader.LogCount() {
		name, found := segmentNames[i]
		if !found {
			name = "unnamed"
		}
		count := 0
		var lines []string
		for entry, err := range reader.Segment(i) {
			if err != nil {
				return err
			}
			count++
			if !entries {
				continue
			}
			if entry.Deleted {
				lines = append(lines, fmt.Sprintf("  del %s", hexutil.Encode(entry.Key)))
			} else {
				lines = append(lines, fmt.Sprintf("  put %s = %s", hexutil.Encode(entry.Key), hexutil.Encode(entry.Value)))
			}
		}
		fmt.Fprintf(out, "segment %d (%s): %d entries\n", i, name, count)
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
