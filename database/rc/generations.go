// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package rc manages the data handed to the external reward calculator: the
// generational directories of the reward calculator store and the
// notifications sent to the calculator process.
package rc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/icon-project/icon-service-sub005/common"
)

const (
	CurrentName   = "current"
	StandbyPrefix = "standby_"
	FinalPrefix   = "iiss_"
)

// ErrInvalidLayout reports a combination of generation directories that
// cannot be reached by any sequence of rotations.
const ErrInvalidLayout = common.ConstError("invalid reward calculator directory layout")

// Layout lists the generation directories present under a root directory.
type Layout struct {
	Current bool
	Standby []uint64 // heights of standby generations, ascending
	Final   []uint64 // heights of final generations, ascending
	Unknown []string
}

func (l Layout) String() string {
	return fmt.Sprintf("current=%t standby=%v final=%v", l.Current, l.Standby, l.Final)
}

// Generations performs the transitions between the current, standby and
// final generation of the reward calculator store. Every transition checks
// which directories exist and may be re-run after a crash; running a
// transition that has already completed is a no-op.
type Generations struct {
	root string
	log  log.Logger
}

// NewGenerations creates a manager for the given root directory.
func NewGenerations(root string) *Generations {
	return &Generations{
		root: root,
		log:  log.New("module", "rc-generations", "root", root),
	}
}

func (g *Generations) Root() string {
	return g.root
}

func (g *Generations) CurrentPath() string {
	return filepath.Join(g.root, CurrentName)
}

func (g *Generations) StandbyPath(height uint64) string {
	return filepath.Join(g.root, StandbyPrefix+strconv.FormatUint(height, 10))
}

func (g *Generations) FinalPath(height uint64) string {
	return filepath.Join(g.root, FinalPrefix+strconv.FormatUint(height, 10))
}

// Layout scans the root directory for generation directories.
func (g *Generations) Layout() (Layout, error) {
	var res Layout
	entries, err := os.ReadDir(g.root)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			continue
		}
		switch {
		case name == CurrentName:
			res.Current = true
		case strings.HasPrefix(name, StandbyPrefix):
			if height, err := strconv.ParseUint(strings.TrimPrefix(name, StandbyPrefix), 10, 64); err == nil {
				res.Standby = append(res.Standby, height)
			} else {
				res.Unknown = append(res.Unknown, name)
			}
		case strings.HasPrefix(name, FinalPrefix):
			if height, err := strconv.ParseUint(strings.TrimPrefix(name, FinalPrefix), 10, 64); err == nil {
				res.Final = append(res.Final, height)
			} else {
				res.Unknown = append(res.Unknown, name)
			}
		default:
			res.Unknown = append(res.Unknown, name)
		}
	}
	slices.Sort(res.Standby)
	slices.Sort(res.Final)
	return res, nil
}

// CreateCurrent creates the current generation directory if it is missing.
func (g *Generations) CreateCurrent() error {
	return os.MkdirAll(g.CurrentPath(), 0o755)
}

// RotateCurrentToStandby seals the current generation at the given height
// by renaming it to standby_<height> and creating a new, empty current
// generation. Final generations of earlier periods are removed.
func (g *Generations) RotateCurrentToStandby(height uint64) error {
	current, standby := g.CurrentPath(), g.StandbyPath(height)
	hasCurrent, err := exists(current)
	if err != nil {
		return err
	}
	hasStandby, err := exists(standby)
	if err != nil {
		return err
	}
	hasFinal, err := exists(g.FinalPath(height))
	if err != nil {
		return err
	}
	if hasStandby && hasFinal {
		return fmt.Errorf("%w: both %s and %s exist", ErrInvalidLayout, standby, g.FinalPath(height))
	}

	switch {
	case hasCurrent && !hasStandby && !hasFinal:
		if err := g.checkNoOtherStandby(height); err != nil {
			return err
		}
		if err := g.removeFinalsBefore(height); err != nil {
			return err
		}
		if err := os.Rename(current, standby); err != nil {
			return fmt.Errorf("failed to seal current generation at %d: %w", height, err)
		}
		g.log.Info("Sealed current generation", "height", height)
		return g.CreateCurrent()
	case !hasCurrent && (hasStandby || hasFinal):
		// Renamed before a crash, the new current generation is missing.
		return g.CreateCurrent()
	case hasCurrent && (hasStandby || hasFinal):
		// Already completed.
		return nil
	default:
		return fmt.Errorf("%w: no current generation to seal at %d", ErrInvalidLayout, height)
	}
}

// RotateStandbyToFinal renames standby_<height> to iiss_<height>, handing
// the generation over to the reward calculator.
func (g *Generations) RotateStandbyToFinal(height uint64) error {
	standby, final := g.StandbyPath(height), g.FinalPath(height)
	hasStandby, err := exists(standby)
	if err != nil {
		return err
	}
	hasFinal, err := exists(final)
	if err != nil {
		return err
	}
	switch {
	case hasStandby && !hasFinal:
		if err := os.Rename(standby, final); err != nil {
			return fmt.Errorf("failed to finalize generation %d: %w", height, err)
		}
		g.log.Info("Finalized standby generation", "height", height)
		return nil
	case !hasStandby && hasFinal:
		return nil
	case hasStandby && hasFinal:
		return fmt.Errorf("%w: both %s and %s exist", ErrInvalidLayout, standby, final)
	default:
		return fmt.Errorf("%w: neither %s nor %s exists", ErrInvalidLayout, standby, final)
	}
}

// RotateFinalToCurrent replaces the current generation with iiss_<height>,
// restoring the layout before the calculation period starting at height.
func (g *Generations) RotateFinalToCurrent(height uint64) error {
	final, current := g.FinalPath(height), g.CurrentPath()
	hasFinal, err := exists(final)
	if err != nil {
		return err
	}
	hasCurrent, err := exists(current)
	if err != nil {
		return err
	}
	switch {
	case hasFinal && hasCurrent:
		if err := os.RemoveAll(current); err != nil {
			return fmt.Errorf("failed to discard current generation: %w", err)
		}
		fallthrough
	case hasFinal && !hasCurrent:
		if err := os.Rename(final, current); err != nil {
			return fmt.Errorf("failed to restore generation %d: %w", height, err)
		}
		g.log.Info("Restored final generation as current", "height", height)
		return nil
	case !hasFinal && hasCurrent:
		// Already completed.
		return nil
	default:
		return fmt.Errorf("%w: neither %s nor %s exists", ErrInvalidLayout, final, current)
	}
}

// RemoveStandby discards all standby generations.
func (g *Generations) RemoveStandby() error {
	layout, err := g.Layout()
	if err != nil {
		return err
	}
	for _, height := range layout.Standby {
		if err := os.RemoveAll(g.StandbyPath(height)); err != nil {
			return err
		}
		g.log.Warn("Discarded standby generation", "height", height)
	}
	return nil
}

func (g *Generations) checkNoOtherStandby(height uint64) error {
	layout, err := g.Layout()
	if err != nil {
		return err
	}
	for _, other := range layout.Standby {
		if other != height {
			return fmt.Errorf("%w: standby generation %d not yet finalized while sealing %d", ErrInvalidLayout, other, height)
		}
	}
	return nil
}

func (g *Generations) removeFinalsBefore(height uint64) error {
	layout, err := g.Layout()
	if err != nil {
		return err
	}
	for _, other := range layout.Final {
		if other >= height {
			continue
		}
		if err := os.RemoveAll(g.FinalPath(other)); err != nil {
			return err
		}
		g.log.Info("Removed final generation of previous period", "height", other)
	}
	return nil
}

func exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", ErrInvalidLayout, path)
	}
	return true, nil
}
