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
	"os"
	"runtime/pprof"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var (
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log level (0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace)",
		Value: 3,
	}
	cpuProfileFlag = cli.StringFlag{
		Name:  "cpuprofile",
		Usage: "writes a CPU profile of the command to the given file",
	}
	configFlag = cli.StringFlag{
		Name:     "config",
		Usage:    "TOML file with the storage parameters of the node",
		Required: true,
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "walctl",
		Usage:     "inspects and repairs commit logs, backups and stores of a node",
		Copyright: "(c) 2025 Sonic Operations Ltd",
		Flags:     []cli.Flag{&verbosityFlag, &cpuProfileFlag},
		Before:    setupLogging,
		Commands: []*cli.Command{
			&Inspect,
			&Check,
			&Recover,
			&Rollback,
		},
	}
}

func setupLogging(context *cli.Context) error {
	handler := log.NewGlogHandler(log.NewTerminalHandler(context.App.ErrWriter, false))
	handler.Verbosity(log.FromLegacyLevel(context.Int(verbosityFlag.Name)))
	log.SetDefault(log.NewLogger(handler))
	return nil
}

// addPerformanceDiagnoses records a CPU profile of the action if requested.
func addPerformanceDiagnoses(action cli.ActionFunc) cli.ActionFunc {
	return func(context *cli.Context) (err error) {
		path := context.String(cpuProfileFlag.Name)
		if path == "" {
			return action(context)
		}
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(file); err != nil {
			return errors.Join(err, file.Close())
		}
		defer func() {
			pprof.StopCPUProfile()
			err = errors.Join(err, file.Close())
		}()
		return action(context)
	}
}
