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

package remoterunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	localrunner "github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/scheduler"
	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

// Pool is the coordinator-side runner.Runner over a fleet of remote
// runners discovered by URL: it dials each one, asks for its metadata,
// and routes every Run call through a scheduler the same way the
// subscribe-inward coordinator does. Lifecycle hooks broadcast to every
// pooled runner as SendEvent calls.
type Pool struct {
	localrunner.BaseRunner

	logger *slog.Logger
	sched  *scheduler.Scheduler

	mu      sync.Mutex
	clients map[string]*Client
	fleet   []scheduler.RunnerMetadata
}

// NewPool returns an empty Pool. logger may be nil.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:  logger,
		clients: make(map[string]*Client),
	}
	p.sched = scheduler.New(p)
	return p
}

// Runners implements scheduler.Fleet over the dialed clients.
func (p *Pool) Runners() []scheduler.RunnerMetadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]scheduler.RunnerMetadata, len(p.fleet))
	copy(out, p.fleet)
	return out
}

// Add dials url, fetches the runner's metadata, and adds it to the fleet.
func (p *Pool) Add(ctx context.Context, url string) error {
	client := NewClient(url, p.logger)
	if err := client.Dial(ctx); err != nil {
		return err
	}

	metadata, err := client.GetRunnerMetadata(ctx)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("remoterunner: fetching metadata from %s: %w", url, err)
	}
	if metadata.Version != wire.ProtocolVersion {
		_ = client.Close()
		return fmt.Errorf("%w: runner %s declares %q", wire.ErrVersionMismatch, url, metadata.Version)
	}

	p.mu.Lock()
	p.clients[metadata.Id] = client
	p.fleet = append(p.fleet, scheduler.RunnerMetadata{
		Id:            metadata.Id,
		Os:            metadata.Os,
		Arch:          metadata.Arch,
		SupportDocker: metadata.SupportDocker,
		SupportHost:   metadata.SupportHost,
		MaxRuns:       metadata.MaxRuns,
		Version:       metadata.Version,
	})
	p.mu.Unlock()

	p.logger.Info("remote runner added to pool", "runner_id", metadata.Id, "url", url)
	return nil
}

// Run implements runner.Runner: it schedules rc's step onto one of the
// pooled runners and opens the remote Run stream there.
func (p *Pool) Run(ctx context.Context, rc localrunner.RunContext) (*logstream.Stream, error) {
	metadata, ok := p.sched.Select(rc.Id.Job(), rc.Command)
	if !ok {
		return nil, fmt.Errorf("remoterunner: no runner available for step %s", rc.Id)
	}

	p.mu.Lock()
	client := p.clients[metadata.Id]
	p.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("remoterunner: scheduled runner %s is no longer in the pool", metadata.Id)
	}

	return client.Run(ctx, rc)
}

// OnStepCompleted releases the scheduler's run-count slot for the step and
// broadcasts the result to the fleet.
func (p *Pool) OnStepCompleted(result astrorun.StepRunResult) {
	p.sched.OnStepCompleted(result.Id.String())
	wireResult := wire.ToWireStepResult(result)
	p.broadcast(wire.Event{Kind: wire.EventStepCompleted, StepResult: &wireResult})
}

// OnJobCompleted clears the job's sticky affinity and broadcasts the result.
func (p *Pool) OnJobCompleted(result astrorun.JobRunResult) {
	p.sched.OnJobCompleted(result.Id.String())
	wireResult := wire.ToWireJobResult(result)
	p.broadcast(wire.Event{Kind: wire.EventJobCompleted, JobResult: &wireResult})
}

func (p *Pool) OnWorkflowCompleted(result astrorun.WorkflowRunResult) {
	wireResult := wire.ToWireWorkflowResult(result)
	p.broadcast(wire.Event{Kind: wire.EventWorkflowCompleted, WorkflowResult: &wireResult})
}

func (p *Pool) OnStateChange(id string, state astrorun.State) {
	p.broadcast(wire.Event{Kind: wire.EventStateChange, StateChange: &wire.StateChangeEvent{Id: id, State: string(state)}})
}

func (p *Pool) OnLog(stepID string, record logstream.Record) {
	logRecord := wire.ToWireLogRecord(stepID, record)
	p.broadcast(wire.Event{Kind: wire.EventLog, Log: &logRecord})
}

func (p *Pool) broadcast(event wire.Event) {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	for _, c := range clients {
		if err := c.SendEvent(event); err != nil {
			p.logger.Warn("remoterunner: event broadcast failed", "url", c.url, "event", event.Kind, "error", err)
		}
	}
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
