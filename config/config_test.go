// Copyright 2026 The TangleTunes Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangletunes/tunes/config"
)

const testConfig = `
contract_address = "0x000000000000000000000000000000000000c0de"
node_url = "http://127.0.0.1:8545"
database_path = "data/songs.db"
chain_id = 31337
private_key = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
max_download_attempts = 5
download_timeout = "90s"
log_level = "debug"
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "TangleTunes.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, testConfig)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.NodeUrl)
	assert.Equal(t, uint64(31337), cfg.ChainId)
	assert.Equal(t, 5, cfg.MaxDownloadAttempts)
	assert.Equal(t, 90*time.Second, cfg.DownloadTimeout)
	// Defaults
	assert.Equal(t, uint16(3000), cfg.Port)
	assert.Equal(t, 4, cfg.MaxConcurrentDownloads)
	assert.Equal(t, 16384, cfg.CacheSize)
	// Relative to the config file
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "songs.db"), cfg.DatabasePath)
	assert.NoError(t, cfg.Validate())
	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, testConfig)
	t.Setenv("TANGLETUNES_NODE_URL", "http://node.example:8545")
	t.Setenv("TANGLETUNES_MAX_DOWNLOAD_ATTEMPTS", "7")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://node.example:8545", cfg.NodeUrl)
	assert.Equal(t, 7, cfg.MaxDownloadAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &config.Config{
		ContractAddress:        "not-an-address",
		IpAddress:              "300.1.1.1",
		LogLevel:               "loud",
		MaxConcurrentDownloads: 1,
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, msg := range []string{
		"invalid contract_address",
		"node_url must be set",
		"database_path must be set",
		"chain_id must be set",
		"private_key must be set",
		"invalid ip_address",
		"max_download_attempts must be at least 1",
		"invalid log_level",
	} {
		assert.ErrorContains(t, err, msg)
	}
	assert.NotContains(t, err.Error(), "max_concurrent_downloads")
}

func TestClone(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	clone, err := cfg.Clone()
	require.NoError(t, err)
	assert.Equal(t, cfg, clone)
	clone.NodeUrl = "changed"
	assert.NotEqual(t, cfg.NodeUrl, clone.NodeUrl)
}
