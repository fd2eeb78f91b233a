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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/tangletunes/tunes/chunk"
	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

var errVerificationFailed = errors.New("song does not match the chunk hashes in the ledger")

func newAddCommand(f *globalFlags) *cobra.Command {
	var noVerify, distribute bool
	cmd := &cobra.Command{
		Use:   "add FILE...",
		Short: "Add SONG_ID.mp3 files to the song database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			defer e.close()
			s, err := e.openStore()
			if err != nil {
				return err
			}
			var verifier *chunkfetch.Verifier
			if !noVerify {
				l, err := e.openLedger(cmd.Context())
				if err != nil {
					return err
				}
				verifier = chunkfetch.NewVerifier(l, chunk.Size)
			}
			var errs error
			for _, path := range args {
				id, err := chunk.ParseContentId(
					strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
				)
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				if verifier != nil {
					ok, err := verifier.Verify(cmd.Context(), id, data, 0)
					if err != nil {
						errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
						continue
					}
					if !ok {
						errs = multierr.Append(
							errs,
							fmt.Errorf("%s: %w", path, errVerificationFailed),
						)
						continue
					}
				}
				if err := s.Put(id, data, distribute); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(
					cmd.OutOrStdout(),
					"added %s (%s)\n",
					id,
					humanize.Bytes(uint64(len(data))),
				)
			}
			return errs
		},
	}
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "do not check the files against the ledger")
	cmd.Flags().BoolVar(&distribute, "distribute", false, "offer the songs to other users")
	return cmd
}

func newRemoveCommand(f *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove SONG_ID...",
		Short: "Remove songs from the song database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseSongIds(args)
			if err != nil {
				return err
			}
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			defer e.close()
			s, err := e.openStore()
			if err != nil {
				return err
			}
			var errs error
			for _, id := range ids {
				errs = multierr.Append(errs, s.Remove(id))
			}
			return errs
		},
	}
}

func newListCommand(f *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the songs in the song database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			defer e.close()
			s, err := e.openStore()
			if err != nil {
				return err
			}
			songs, err := s.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SONG\tSIZE\tDISTRIBUTING\tADDED")
			for _, song := range songs {
				fmt.Fprintf(
					w,
					"%s\t%s\t%t\t%s\n",
					song.Id,
					humanize.Bytes(uint64(song.Length)),
					song.Distributing,
					humanize.Time(song.Added),
				)
			}
			return w.Flush()
		},
	}
}

// newDistributionCommand returns the start-distribution or stop-distribution command
func newDistributionCommand(f *globalFlags, start bool) *cobra.Command {
	use := "stop-distribution SONG_ID..."
	short := "Stop offering songs to other users"
	if start {
		use = "start-distribution SONG_ID..."
		short = "Offer songs from the song database to other users"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseSongIds(args)
			if err != nil {
				return err
			}
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			defer e.close()
			s, err := e.openStore()
			if err != nil {
				return err
			}
			var errs error
			for _, id := range ids {
				errs = multierr.Append(errs, s.SetDistributing(id, start))
			}
			return errs
		},
	}
}
