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
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	tunes "github.com/tangletunes/tunes"
	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/config"
	"github.com/tangletunes/tunes/ledger"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

type downloadFlags struct {
	maxPrice       string
	distribute     bool
	outputDir      string
	metricsAddress string
}

func newDownloadCommand(f *globalFlags) *cobra.Command {
	df := &downloadFlags{}
	cmd := &cobra.Command{
		Use:   "download SONG_ID...",
		Short: "Buy songs and download them from distributors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, f, df, args)
		},
	}
	cmd.Flags().StringVar(
		&df.maxPrice,
		"max-price",
		"",
		"highest accepted price per chunk, 0 for free songs only (overrides max_price)",
	)
	cmd.Flags().BoolVar(
		&df.distribute,
		"distribute",
		false,
		"offer the downloaded songs to other users",
	)
	cmd.Flags().StringVarP(
		&df.outputDir,
		"output",
		"o",
		"",
		"write SONG_ID.mp3 files to this directory instead of the song database",
	)
	cmd.Flags().StringVar(
		&df.metricsAddress,
		"metrics-address",
		"",
		"serve Prometheus metrics on this address (overrides metrics_address)",
	)
	return cmd
}

func runDownload(cmd *cobra.Command, f *globalFlags, df *downloadFlags, args []string) error {
	ids, err := parseSongIds(args)
	if err != nil {
		return err
	}
	e, err := loadEnv(f, func(cfg *config.Config) {
		if df.metricsAddress != "" {
			cfg.MetricsAddress = df.metricsAddress
		}
	})
	if err != nil {
		return err
	}
	defer e.close()
	maxPrice, err := downloadMaxPrice(e.cfg, df.maxPrice, cmd.Flags().Changed("max-price"))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := e.newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	options := []tunes.DownloadOptionFunc{
		tunes.WithDistribute(df.distribute),
	}
	if maxPrice != nil {
		options = append(options, tunes.WithMaxPrice(maxPrice))
	}
	if df.outputDir != "" {
		options = append(options, tunes.WithSkipStore())
	}
	// A progress bar only makes sense for a single song
	showProgress := len(ids) == 1
	var errs error
	var errsMutex sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentDownloads)
	for _, id := range ids {
		g.Go(func() error {
			songOptions := slices.Clone(options)
			var bar *progressbar.ProgressBar
			if showProgress {
				bar = progressbar.DefaultBytes(-1, "downloading")
				songOptions = append(songOptions, tunes.WithProgressFunc(progressFunc(bar)))
			}
			data, err := app.Download(gCtx, id, songOptions...)
			if bar != nil {
				_ = bar.Finish()
			}
			if err == nil && df.outputDir != "" {
				err = os.WriteFile(
					filepath.Join(df.outputDir, id.String()+".mp3"),
					data,
					0o644,
				)
			}
			if err != nil {
				err = fmt.Errorf("song %s: %w", id, err)
				errsMutex.Lock()
				errs = multierr.Append(errs, err)
				errsMutex.Unlock()
				// Keep going with the other songs
				return nil
			}
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"downloaded %s (%s)\n",
				id,
				humanize.Bytes(uint64(len(data))),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errs
}

func newDownloadDirectCommand(f *globalFlags) *cobra.Command {
	var first, count int
	var output string
	cmd := &cobra.Command{
		Use:   "download-direct SONG_ID DISTRIBUTOR_ADDRESS SERVER",
		Short: "Download chunks of a song from a known distributor",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := chunk.ParseContentId(args[0])
			if err != nil {
				return err
			}
			if !common.IsHexAddress(args[1]) {
				return fmt.Errorf("invalid distributor address: %s", args[1])
			}
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := cmd.Context()
			app, err := e.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			if count <= 0 {
				info, err := app.Ledger().SongInfo(ctx, id)
				if err != nil {
					return err
				}
				if !info.Exists {
					return fmt.Errorf("%w: %s", tunes.ErrSongNotFound, id)
				}
				count = info.ChunkCount() - first
			}
			chunkRange, err := chunk.NewRange(first, first+count)
			if err != nil {
				return err
			}
			bar := progressbar.DefaultBytes(-1, "downloading")
			data, err := app.DownloadFromDistributor(
				ctx,
				id,
				ledger.Distribution{
					Distributor: common.HexToAddress(args[1]),
					Server:      args[2],
				},
				chunkRange,
				tunes.WithProgressFunc(progressFunc(bar)),
			)
			_ = bar.Finish()
			if err != nil {
				return err
			}
			if output == "" {
				output = id.String() + "_" + strconv.Itoa(first) + ".part"
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"wrote chunks %s of %s to %s (%s)\n",
				chunkRange,
				id,
				output,
				humanize.Bytes(uint64(len(data))),
			)
			return nil
		},
	}
	cmd.Flags().IntVar(&first, "first", 0, "first chunk to download")
	cmd.Flags().IntVar(&count, "count", 0, "number of chunks to download (defaults to the rest of the song)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}

// downloadMaxPrice returns the highest accepted price per chunk, or nil for no limit. A
// max_price of 0 in the config means no limit, while an explicit --max-price is always binding.
func downloadMaxPrice(cfg *config.Config, flagValue string, flagSet bool) (*big.Int, error) {
	if flagSet {
		maxPrice, ok := new(big.Int).SetString(flagValue, 10)
		if !ok || maxPrice.Sign() < 0 {
			return nil, fmt.Errorf("invalid max price: %s", flagValue)
		}
		return maxPrice, nil
	}
	if cfg.MaxPrice == 0 {
		return nil, nil
	}
	return new(big.Int).SetUint64(cfg.MaxPrice), nil
}

func progressFunc(bar *progressbar.ProgressBar) chunkfetch.ProgressFunc {
	return func(received int, expected int) {
		bar.ChangeMax(expected)
		_ = bar.Set(received)
	}
}

func parseSongIds(args []string) ([]chunk.ContentId, error) {
	ret := make([]chunk.ContentId, 0, len(args))
	for _, arg := range args {
		id, err := chunk.ParseContentId(arg)
		if err != nil {
			return nil, err
		}
		ret = append(ret, id)
	}
	return ret, nil
}
