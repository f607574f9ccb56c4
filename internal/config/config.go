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

// Package config loads the YAML configuration for the coordinator and
// runner-client daemons: read the file, validate required fields, apply
// defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	astroerrors "github.com/panghu-huang/astro-run-sub000/internal/errors"
)

// LogConfig mirrors internal/log.Config in YAML-serializable form.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

func (c *LogConfig) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

// MetricsConfig configures the Prometheus metrics endpoint. The coordinator
// daemon serves /metrics on CoordinatorConfig.ListenAddr; Addr is given a
// default but is not read.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func (c *MetricsConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Exporter     string `yaml:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

func (c *TracingConfig) applyDefaults(defaultServiceName string) {
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
}

// CoordinatorConfig is the coordinator daemon's configuration document.
type CoordinatorConfig struct {
	// ListenAddr is the address the coordinator's websocket transport
	// and (if enabled) metrics server bind to.
	ListenAddr string `yaml:"listen_addr"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Validate checks required fields and fills in defaults.
func (c *CoordinatorConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	c.Log.applyDefaults()
	c.Metrics.applyDefaults()
	c.Tracing.applyDefaults("astro-coordinatord")
	return nil
}

// LoadCoordinatorConfig reads and validates a CoordinatorConfig from path.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	var cfg CoordinatorConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RunnerClientConfig is the runner-client daemon's configuration document.
type RunnerClientConfig struct {
	// CoordinatorURL is the websocket URL of the coordinator to subscribe to.
	CoordinatorURL string `yaml:"coordinator_url"`

	// RunnerId identifies this runner in the fleet. Generated if empty.
	RunnerId string `yaml:"runner_id"`

	Os            string `yaml:"os"`
	Arch          string `yaml:"arch"`
	SupportDocker bool   `yaml:"support_docker"`
	SupportHost   bool   `yaml:"support_host"`
	MaxRuns       int    `yaml:"max_runs"`

	// OutboundQueueSize bounds the client's ReportLog/ReportRunCompleted
	// command queue, default 100.
	OutboundQueueSize int `yaml:"outbound_queue_size"`

	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Validate checks required fields and fills in defaults.
func (c *RunnerClientConfig) Validate() error {
	if c.CoordinatorURL == "" {
		return astroerrors.NewWorkflowConfigError("coordinator_url is required")
	}
	if c.MaxRuns <= 0 {
		c.MaxRuns = 1
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 100
	}
	if !c.SupportDocker && !c.SupportHost {
		c.SupportDocker = true
	}
	c.Log.applyDefaults()
	c.Tracing.applyDefaults("astro-runnerd")
	return nil
}

// LoadRunnerClientConfig reads and validates a RunnerClientConfig from path.
func LoadRunnerClientConfig(path string) (*RunnerClientConfig, error) {
	var cfg RunnerClientConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}
