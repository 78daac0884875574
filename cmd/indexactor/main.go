// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/couchbase/indexactor/secondary/common"
	"github.com/couchbase/indexactor/secondary/engine"
	"github.com/couchbase/indexactor/secondary/indexactor"
)

var (
	version = "dev"

	configPath string
	rootPath   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexactor",
		Short: "indexactor runs the index actor's store and dispatch loop as a standalone process",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "open the meta store and serve requests until interrupted",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&rootPath, "root", "", "index store root directory (overrides config)")

	cmd.AddCommand(serve, versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rootPath != "" {
		cfg.RootPath = rootPath
	}

	log := common.NewLogger(cfg.LogLevel, cfg.LogFormat)
	entry := log.WithField("component", "indexactor.cmd")

	store, err := indexactor.NewStore(cfg.Config, engine.MemOpener{}, entry)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle := indexactor.NewActorHandle(ctx, cfg.Config, store, engine.NoopUpdateHandler{}, entry)
	defer handle.Close()

	entry.WithFields(logrus.Fields{
		"root_path":         cfg.RootPath,
		"read_concurrency":  cfg.ReadConcurrency,
		"write_concurrency": cfg.WriteConcurrency,
	}).Info("indexactor serving")

	<-ctx.Done()
	entry.Info("shutdown signal received, draining in-flight requests")
	handle.Close()

	return nil
}
