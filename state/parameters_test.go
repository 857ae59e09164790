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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParameters_ReadsFileAndResolvesDirectory(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	require.NoError(os.WriteFile(path, []byte(`
directory = "data"
revision = 3
backup_window = 8
cache_size = 33554432
`), 0o644))

	params, err := LoadParameters(path)
	require.NoError(err)
	require.Equal(Parameters{
		Directory:    filepath.Join(dir, "data"),
		Revision:     3,
		BackupWindow: 8,
		CacheSize:    32 << 20,
	}, params)
	require.Equal(filepath.Join(dir, "data", "commit.wal"), params.CommitLogPath())
	require.Equal(filepath.Join(dir, "data", "rc"), params.RCPath())
	require.Equal(filepath.Join(dir, "data", "state"), params.StatePath())
	require.Equal(filepath.Join(dir, "data", "backup"), params.BackupPath())
}

func TestLoadParameters_AppliesDefaults(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(os.WriteFile(path, []byte(`directory = "/var/lib/node"`), 0o644))

	params, err := LoadParameters(path)
	require.NoError(err)
	require.Equal("/var/lib/node", params.Directory)
	require.Equal(1, params.BackupWindow)
	require.GreaterOrEqual(params.CacheSize, minCacheSize)
	require.LessOrEqual(params.CacheSize, maxCacheSize)
}

func TestLoadParameters_RejectsInvalidFiles(t *testing.T) {
	tests := map[string]string{
		"unknown key":    "directory = \"x\"\nbackup_windows = 3\n",
		"syntax":         "directory = ",
		"no directory":   "revision = 2\n",
		"invalid window": "directory = \"x\"\nbackup_window = 0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "node.toml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadParameters(path)
			require.Error(t, err)
		})
	}
}

func TestLoadParameters_MissingFile(t *testing.T) {
	_, err := LoadParameters(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultCacheSize_IsClamped(t *testing.T) {
	require.Equal(t, minCacheSize, defaultCacheSize(0))
	require.Equal(t, 64<<20, defaultCacheSize(4<<30))
	require.Equal(t, maxCacheSize, defaultCacheSize(1<<50))
}
