// Copyright 2025 Tom Barlow
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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/panghu-huang/astro-run-sub000/internal/config"
	"github.com/panghu-huang/astro-run-sub000/internal/log"
	"github.com/panghu-huang/astro-run-sub000/internal/runnerclient"
	"github.com/panghu-huang/astro-run-sub000/internal/tracing"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/plugin"
	localrunner "github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "astro-runnerd",
		Short: "Runs an astro-run runner client, subscribing to a coordinator",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the configured coordinator and serve dispatched steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), configPath)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to runner-client config YAML (required)")
	_ = runCmd.MarkFlagRequired("config")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("astro-runnerd %s (%s)\n", version, commit)
		},
	}

	root.AddCommand(runCmd, versionCmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runClient(ctx context.Context, configPath string) error {
	cfg, err := config.LoadRunnerClientConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(&log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format), Output: os.Stderr, AddSource: cfg.Log.AddSource})
	slog.SetDefault(logger)

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(ctx, tracing.Config{
			Exporter:     cfg.Tracing.Exporter,
			OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
			ServiceName:  cfg.Tracing.ServiceName,
		})
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	runnerID := cfg.RunnerId
	if runnerID == "" {
		runnerID = uuid.NewString()
	}

	metadata := wire.RunnerMetadata{
		Id:            runnerID,
		Os:            cfg.Os,
		Arch:          cfg.Arch,
		SupportDocker: cfg.SupportDocker,
		SupportHost:   cfg.SupportHost,
		MaxRuns:       cfg.MaxRuns,
	}

	client := runnerclient.New(
		metadata,
		localrunner.NewStub(),
		cfg.OutboundQueueSize,
		runnerclient.WithLogger(logger),
		runnerclient.WithPlugins(plugin.NewDriver(logger)),
	)

	logger.Info("runner client starting", "runner_id", runnerID, "coordinator_url", cfg.CoordinatorURL)
	return client.Run(ctx, cfg.CoordinatorURL)
}
