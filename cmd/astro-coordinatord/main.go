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
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/panghu-huang/astro-run-sub000/internal/config"
	"github.com/panghu-huang/astro-run-sub000/internal/coordinator"
	"github.com/panghu-huang/astro-run-sub000/internal/log"
	"github.com/panghu-huang/astro-run-sub000/internal/metrics"
	"github.com/panghu-huang/astro-run-sub000/internal/tracing"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/scheduler"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "astro-coordinatord",
		Short: "Runs the astro-run coordinator daemon",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the coordinator and serve the subscribe endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoordinator(cmd.Context(), configPath)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to coordinator config YAML (required)")
	_ = runCmd.MarkFlagRequired("config")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("astro-coordinatord %s (%s)\n", version, commit)
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

func runCoordinator(ctx context.Context, configPath string) error {
	cfg, err := config.LoadCoordinatorConfig(configPath)
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

	server := coordinator.New(nil, logger)
	server.WithScheduler(scheduler.New(server.Fleet()))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		server = server.WithMetrics(m)
	}

	mux := http.NewServeMux()
	mux.Handle("/subscribe", coordinator.NewTransport(server))
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", m.Handler())
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("coordinator shutting down")
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
