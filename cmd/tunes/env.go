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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	tunes "github.com/tangletunes/tunes"
	"github.com/tangletunes/tunes/config"
	"github.com/tangletunes/tunes/ledger"
	"github.com/tangletunes/tunes/ledger/ethereum"
	"github.com/tangletunes/tunes/metrics"
	"github.com/tangletunes/tunes/store"
	"github.com/tangletunes/tunes/wallet"
)

// env holds what a command needs. Fields are filled in on demand and released by close.
type env struct {
	// loaded is the config as read from the file and the environment. cfg is a copy with
	// the command line flags applied.
	loaded        *config.Config
	cfg           *config.Config
	logger        *slog.Logger
	store         *store.Store
	ledger        ledger.Ledger
	wallet        *wallet.Wallet
	ethClient     *ethclient.Client
	metricsServer *http.Server
}

// configOverride applies a command line flag to the effective config
type configOverride func(*config.Config)

func loadEnv(f *globalFlags, overrides ...configOverride) (*env, error) {
	loaded, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loaded.Clone()
	if err != nil {
		return nil, fmt.Errorf("copy config: %w", err)
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	for _, override := range overrides {
		override(cfg)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	)
	if *cfg != *loaded {
		logger.Debug(
			"command line flags override the config file",
			"component", "config",
			"log_level", cfg.LogLevel,
			"metrics_address", cfg.MetricsAddress,
		)
	}
	return &env{
		loaded: loaded,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (e *env) openStore() (*store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	s, err := store.Open(e.cfg.DatabasePath, store.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	e.store = s
	return s, nil
}

// openLedger connects to the node and returns a caching ledger client for the contract
func (e *env) openLedger(ctx context.Context) (ledger.Ledger, error) {
	if e.ledger != nil {
		return e.ledger, nil
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	client, ethClient, err := ethereum.Dial(
		ctx,
		e.cfg.NodeUrl,
		e.cfg.Contract(),
		ethereum.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	e.ethClient = ethClient
	// Nonces and gas price come from the node
	w, err := wallet.New(
		wallet.WithPrivateKeyHex(e.cfg.PrivateKey),
		wallet.WithChainId(e.cfg.ChainId),
		wallet.WithContract(e.cfg.Contract()),
		wallet.WithGasLimit(e.cfg.GasLimit),
		wallet.WithChainState(ethClient),
		wallet.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	e.wallet = w
	cached, err := ledger.NewCachedLedger(client, e.cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	e.ledger = cached
	return cached, nil
}

// newApp builds the App used by the download commands
func (e *env) newApp(ctx context.Context) (*tunes.App, error) {
	l, err := e.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	s, err := e.openStore()
	if err != nil {
		return nil, err
	}
	options := []tunes.AppOptionFunc{
		tunes.WithLedger(l),
		tunes.WithWallet(e.wallet),
		tunes.WithStore(s),
		tunes.WithAppLogger(e.logger),
		tunes.WithMaxDownloadAttempts(e.cfg.MaxDownloadAttempts),
		tunes.WithDownloadTimeout(e.cfg.DownloadTimeout),
	}
	if e.cfg.MetricsAddress != "" {
		collector := metrics.NewDownloadCollector()
		if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		e.startMetricsServer()
		options = append(options, tunes.WithMetrics(collector))
	}
	return tunes.NewApp(options...)
}

func (e *env) startMetricsServer() {
	mux := http.NewServeMux()
	endpoint := "/metrics"
	mux.Handle(endpoint, promhttp.Handler())
	e.metricsServer = &http.Server{
		Addr:              e.cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.logger.Info(
		"metrics server started",
		"component", "metrics",
		"address", e.cfg.MetricsAddress,
		"endpoint", endpoint,
	)
	go func() {
		if err := e.metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			e.logger.Error(
				fmt.Sprintf("metrics server failed: %s", err),
				"component", "metrics",
			)
		}
	}()
}

func (e *env) close() error {
	var err error
	if e.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, e.metricsServer.Shutdown(ctx))
		cancel()
	}
	if e.store != nil {
		err = multierr.Append(err, e.store.Close())
	}
	if e.ethClient != nil {
		e.ethClient.Close()
	}
	return err
}
