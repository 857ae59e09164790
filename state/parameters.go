// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pbnjay/memory"
)

const (
	StateDirName  = "state"
	RCDirName     = "rc"
	BackupDirName = "backup"
	CommitLogName = "commit.wal"
)

const (
	minCacheSize = 16 << 20
	maxCacheSize = 1 << 30
)

// Parameters configure the storage of a node.
type Parameters struct {
	// Directory holds all stores, the commit log and the backups.
	Directory string `toml:"directory"`
	// Revision is the encoding revision of block records in logs.
	Revision uint32 `toml:"revision"`
	// BackupWindow is the number of recent blocks that can be rolled back.
	BackupWindow int `toml:"backup_window"`
	// CacheSize is the LevelDB cache size in bytes of each store. Zero
	// derives it from the machine's memory.
	CacheSize int `toml:"cache_size"`
}

// DefaultParameters returns the parameters for a node storing its data in
// the given directory.
func DefaultParameters(directory string) Parameters {
	return Parameters{
		Directory:    directory,
		Revision:     0,
		BackupWindow: 1,
		CacheSize:    defaultCacheSize(memory.TotalMemory()),
	}
}

// LoadParameters reads parameters from a TOML file. Missing fields take
// their default values; a relative directory is resolved against the
// location of the file.
func LoadParameters(path string) (Parameters, error) {
	res := DefaultParameters("")
	meta, err := toml.DecodeFile(path, &res)
	if err != nil {
		return Parameters{}, fmt.Errorf("failed to read parameters from %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Parameters{}, fmt.Errorf("unknown parameters in %s: %s", path, strings.Join(keys, ", "))
	}
	if res.Directory != "" && !filepath.IsAbs(res.Directory) {
		res.Directory = filepath.Join(filepath.Dir(path), res.Directory)
	}
	if res.CacheSize == 0 {
		res.CacheSize = defaultCacheSize(memory.TotalMemory())
	}
	if err := res.Validate(); err != nil {
		return Parameters{}, fmt.Errorf("invalid parameters in %s: %w", path, err)
	}
	return res, nil
}

func (p Parameters) Validate() error {
	if p.Directory == "" {
		return fmt.Errorf("no directory configured")
	}
	if p.BackupWindow < 1 {
		return fmt.Errorf("backup window must be at least 1, got %d", p.BackupWindow)
	}
	if p.CacheSize < 0 {
		return fmt.Errorf("negative cache size %d", p.CacheSize)
	}
	return nil
}

func (p Parameters) StatePath() string {
	return filepath.Join(p.Directory, StateDirName)
}

func (p Parameters) RCPath() string {
	return filepath.Join(p.Directory, RCDirName)
}

func (p Parameters) BackupPath() string {
	return filepath.Join(p.Directory, BackupDirName)
}

func (p Parameters) CommitLogPath() string {
	return filepath.Join(p.Directory, CommitLogName)
}

func (p Parameters) String() string {
	return fmt.Sprintf("directory=%s revision=%d backupWindow=%d cacheSize=%d", p.Directory, p.Revision, p.BackupWindow, p.CacheSize)
}

// defaultCacheSize uses 1/64 of the total memory per store.
func defaultCacheSize(total uint64) int {
	return int(min(max(total/64, minCacheSize), maxCacheSize))
}
