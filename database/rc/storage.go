// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package rc

import (
	"errors"
	"fmt"

	"github.com/icon-project/icon-service-sub005/database/kv"
)

// Storage owns the open store of the current generation and closes and
// reopens it around generation transitions.
type Storage struct {
	generations *Generations
	cacheSize   int
	current     *kv.LevelDB
}

// OpenStorage opens the current generation under root, creating it if
// needed.
func OpenStorage(root string, cacheSize int) (*Storage, error) {
	res := &Storage{
		generations: NewGenerations(root),
		cacheSize:   cacheSize,
	}
	if err := res.open(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Storage) open() error {
	if err := s.generations.CreateCurrent(); err != nil {
		return err
	}
	store, err := kv.OpenLevelDB(s.generations.CurrentPath(), s.cacheSize)
	if err != nil {
		return err
	}
	s.current = store
	return nil
}

func (s *Storage) close() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

// Current returns the store of the current generation. It must not be
// retained across generation transitions.
func (s *Storage) Current() kv.Store {
	return s.current
}

func (s *Storage) Generations() *Generations {
	return s.generations
}

// Seal closes the current generation, moves it to standby at the given
// height and opens a new current generation. It returns the standby path.
func (s *Storage) Seal(height uint64) (string, error) {
	if err := s.close(); err != nil {
		return "", err
	}
	rotateErr := s.generations.RotateCurrentToStandby(height)
	if err := errors.Join(rotateErr, s.open()); err != nil {
		return "", fmt.Errorf("failed to seal reward calculator store at %d: %w", height, err)
	}
	return s.generations.StandbyPath(height), nil
}

// Finalize hands the standby generation of the given height over to the
// reward calculator.
func (s *Storage) Finalize(height uint64) error {
	return s.generations.RotateStandbyToFinal(height)
}

// Restore makes the final generation of the given height the current one,
// discarding the current generation and any standby generation. If the
// standby generation of that height was never finalized, it is finalized
// first.
func (s *Storage) Restore(height uint64) error {
	if err := s.close(); err != nil {
		return err
	}
	err := s.restore(height)
	if openErr := s.open(); openErr != nil {
		err = errors.Join(err, openErr)
	}
	if err != nil {
		return fmt.Errorf("failed to restore reward calculator generation %d: %w", height, err)
	}
	return nil
}

func (s *Storage) restore(height uint64) error {
	layout, err := s.generations.Layout()
	if err != nil {
		return err
	}
	hasStandby := false
	hasFinal := false
	for _, h := range layout.Standby {
		hasStandby = hasStandby || h == height
	}
	for _, h := range layout.Final {
		hasFinal = hasFinal || h == height
	}
	if hasStandby && !hasFinal {
		if err := s.generations.RotateStandbyToFinal(height); err != nil {
			return err
		}
	}
	if err := s.generations.RemoveStandby(); err != nil {
		return err
	}
	return s.generations.RotateFinalToCurrent(height)
}

// Close closes the current generation.
func (s *Storage) Close() error {
	return s.close()
}

// Finalized reports whether the generation sealed at the given height has
// been handed over to the reward calculator.
func (s *Storage) Finalized(height uint64) (bool, error) {
	return exists(s.generations.FinalPath(height))
}
