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

// Package config loads the client configuration file
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jinzhu/copier"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "TangleTunes.toml"
	EnvPrefix         = "TANGLETUNES"
)

// Config holds every client setting. Keys in the config file use the mapstructure names.
type Config struct {
	Port                   uint16        `mapstructure:"port"`
	ContractAddress        string        `mapstructure:"contract_address"`
	NodeUrl                string        `mapstructure:"node_url"`
	DatabasePath           string        `mapstructure:"database_path"`
	ChainId                uint64        `mapstructure:"chain_id"`
	Fee                    uint64        `mapstructure:"fee"`
	IpAddress              string        `mapstructure:"ip_address"`
	PrivateKey             string        `mapstructure:"private_key"`
	GasLimit               uint64        `mapstructure:"gas_limit"`
	MaxPrice               uint64        `mapstructure:"max_price"`
	MaxDownloadAttempts    int           `mapstructure:"max_download_attempts"`
	DownloadTimeout        time.Duration `mapstructure:"download_timeout"`
	MaxConcurrentDownloads int           `mapstructure:"max_concurrent_downloads"`
	LogLevel               string        `mapstructure:"log_level"`
	MetricsAddress         string        `mapstructure:"metrics_address"`
	CacheSize              int           `mapstructure:"cache_size"`
}

var defaults = map[string]any{
	"port":                     3000,
	"contract_address":         "",
	"node_url":                 "http://127.0.0.1:9090/chains/tst1/evm",
	"database_path":            "tangletunes.db",
	"chain_id":                 1074,
	"fee":                      0,
	"ip_address":               "",
	"private_key":              "",
	"gas_limit":                200_000,
	"max_price":                0,
	"max_download_attempts":    3,
	"download_timeout":         "5m",
	"max_concurrent_downloads": 4,
	"log_level":                "info",
	"metrics_address":          "",
	"cache_size":               16384,
}

// Load reads the config file at path and applies environment overrides such as
// TANGLETUNES_NODE_URL. A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || (!errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	// The database lives next to the config file unless an absolute path is given
	if cfg.DatabasePath != "" && !filepath.IsAbs(cfg.DatabasePath) {
		cfg.DatabasePath = filepath.Join(filepath.Dir(path), cfg.DatabasePath)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration
func (c *Config) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.ContractAddress) {
		errs = append(errs, fmt.Errorf("invalid contract_address %q", c.ContractAddress))
	}
	if c.NodeUrl == "" {
		errs = append(errs, errors.New("node_url must be set"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path must be set"))
	}
	if c.ChainId == 0 {
		errs = append(errs, errors.New("chain_id must be set"))
	}
	if c.PrivateKey == "" {
		errs = append(errs, errors.New("private_key must be set"))
	}
	if c.IpAddress != "" && net.ParseIP(c.IpAddress) == nil {
		errs = append(errs, fmt.Errorf("invalid ip_address %q", c.IpAddress))
	}
	if c.MaxDownloadAttempts < 1 {
		errs = append(errs, errors.New("max_download_attempts must be at least 1"))
	}
	if c.DownloadTimeout < 0 {
		errs = append(errs, errors.New("download_timeout must not be negative"))
	}
	if c.MaxConcurrentDownloads < 1 {
		errs = append(errs, errors.New("max_concurrent_downloads must be at least 1"))
	}
	if c.CacheSize < 0 {
		errs = append(errs, errors.New("cache_size must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() (*Config, error) {
	ret := &Config{}
	if err := copier.CopyWithOption(ret, c, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return ret, nil
}

// Contract returns the parsed contract address
func (c *Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
