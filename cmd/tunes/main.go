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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	f := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "tunes",
		Short:         "Buy, download and manage TangleTunes songs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(
		&f.configPath,
		"config",
		"c",
		"",
		"path to the config file (defaults to ./TangleTunes.toml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&f.logLevel,
		"log-level",
		"",
		"log level (overrides log_level from the config file)",
	)
	rootCmd.AddCommand(
		newDownloadCommand(f),
		newDownloadDirectCommand(f),
		newAddCommand(f),
		newRemoveCommand(f),
		newListCommand(f),
		newDistributionCommand(f, true),
		newDistributionCommand(f, false),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
