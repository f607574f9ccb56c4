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

// Package runnerclient implements the runner client: it subscribes to a
// coordinator over the wire package's websocket fabric, executes received
// run contexts via a local runner.Runner, and reports logs/results back,
// propagating remote Signal events into the local execution.
package runnerclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/plugin"
	localrunner "github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/signal"
	"github.com/panghu-huang/astro-run-sub000/internal/tracing"
	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

var tracer = tracing.Tracer("astrorun/runnerclient")

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client subscribes to a coordinator and runs steps it dispatches via a
// local Runner: dial, ping/pong keepalive, reconnect is left to the caller.
type Client struct {
	metadata wire.RunnerMetadata
	runner   localrunner.Runner
	plugins  *plugin.Driver
	logger   *slog.Logger

	outbound chan *wire.Envelope

	mu      sync.Mutex
	signals map[string]*signal.Signal
}

// Option configures optional Client fields at construction.
type Option func(*Client)

// WithPlugins attaches a plugin driver whose lifecycle hooks are invoked
// for events the coordinator broadcasts that aren't a Run dispatch.
func WithPlugins(p *plugin.Driver) Option {
	return func(c *Client) { c.plugins = p }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client that will run steps on r, advertising metadata when
// it subscribes. outboundQueueSize bounds the ReportLog/ReportRunCompleted
// command queue, dropping on overflow instead of blocking (0 defaults to 100).
func New(metadata wire.RunnerMetadata, r localrunner.Runner, outboundQueueSize int, opts ...Option) *Client {
	if outboundQueueSize <= 0 {
		outboundQueueSize = 100
	}
	metadata.Version = wire.ProtocolVersion

	c := &Client{
		metadata: metadata,
		runner:   r,
		logger:   slog.Default(),
		outbound: make(chan *wire.Envelope, outboundQueueSize),
		signals:  make(map[string]*signal.Signal),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run dials url, performs the subscribe handshake, and serves the
// connection until ctx is cancelled or the connection drops.
func (c *Client) Run(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	handshake, err := wire.NewSubscribeEnvelope(c.metadata).Marshal()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writeLoop(runCtx, conn)
	return c.readLoop(runCtx, conn)
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.outbound:
			data, err := env.Marshal()
			if err != nil {
				c.logger.Error("failed to encode outbound envelope", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("malformed envelope from coordinator", "error", err)
			continue
		}
		if env.Kind != wire.KindEvent || env.Event == nil {
			continue
		}
		c.handleEvent(ctx, *env.Event)
	}
}

func (c *Client) handleEvent(ctx context.Context, event wire.Event) {
	switch event.Kind {
	case wire.EventRun:
		if event.Run != nil {
			go c.executeRun(ctx, *event.Run)
		}
	case wire.EventSignal:
		if event.Signal != nil {
			c.handleSignal(*event.Signal)
		}
	case wire.EventRunWorkflow:
		c.runner.OnRunWorkflow(astrorun.WorkflowEvent{})
		if c.plugins != nil {
			c.plugins.OnRunWorkflow(astrorun.WorkflowEvent{})
		}
	case wire.EventRunJob:
		c.runner.OnRunJob(astrorun.WorkflowEvent{})
		if c.plugins != nil {
			c.plugins.OnRunJob(astrorun.WorkflowEvent{})
		}
	case wire.EventRunStep:
		c.runner.OnRunStep(astrorun.WorkflowEvent{})
		if c.plugins != nil {
			c.plugins.OnRunStep(astrorun.WorkflowEvent{})
		}
	case wire.EventStepCompleted:
		if event.StepResult != nil {
			result := wire.FromWireStepResult(*event.StepResult)
			c.runner.OnStepCompleted(result)
			if c.plugins != nil {
				c.plugins.OnStepCompleted(result)
			}
		}
	case wire.EventJobCompleted:
		if event.JobResult != nil {
			result := wire.FromWireJobResult(*event.JobResult)
			c.runner.OnJobCompleted(result)
			if c.plugins != nil {
				c.plugins.OnJobCompleted(result)
			}
		}
	case wire.EventWorkflowCompleted:
		if event.WorkflowResult != nil {
			result := wire.FromWireWorkflowResult(*event.WorkflowResult)
			c.runner.OnWorkflowCompleted(result)
			if c.plugins != nil {
				c.plugins.OnWorkflowCompleted(result)
			}
		}
	case wire.EventStateChange:
		if event.StateChange != nil {
			state := astrorun.State(event.StateChange.State)
			c.runner.OnStateChange(event.StateChange.Id, state)
			if c.plugins != nil {
				c.plugins.OnStateChange(plugin.StateChangeEvent{Id: event.StateChange.Id, State: state})
			}
		}
	case wire.EventLog:
		if event.Log != nil {
			record := wire.FromWireLogRecord(*event.Log)
			c.runner.OnLog(event.Log.StepId, record)
			if c.plugins != nil {
				c.plugins.OnLog(event.Log.StepId, record)
			}
		}
	default:
		c.logger.Debug("event ignored by runner client", "kind", event.Kind)
	}
}

// executeRun runs a dispatched step via the local runner, registers its
// signal for remote cancellation, and forwards logs/result to the
// coordinator as ReportLog/ReportRunCompleted calls.
func (c *Client) executeRun(ctx context.Context, rc wire.RunContext) {
	ctx, span := tracer.Start(ctx, "runnerclient.run_step",
		trace.WithAttributes(attribute.String("step.id", rc.Id)))
	defer span.End()

	id, err := astrorun.ParseStepId(rc.Id)
	if err != nil {
		span.RecordError(err)
		c.logger.Error("run event carried an invalid step id", "id", rc.Id, "error", err)
		return
	}
	step, err := wire.FromWireStep(rc.Command)
	if err != nil {
		span.RecordError(err)
		c.logger.Error("run event carried an undecodable step", "error", err)
		c.reportCompleted(rc.Id, astrorun.Failed(1))
		return
	}

	sig := signal.New()
	c.registerSignal(rc.Id, sig)
	defer c.unregisterSignal(rc.Id)

	stream, err := c.runner.Run(ctx, localrunner.RunContext{
		Id:      id,
		Command: step,
		Signal:  sig,
		Event:   wire.FromWireEvent(rc.Event),
	})
	if err != nil {
		span.RecordError(err)
		c.logger.Error("local runner failed to start step", "step", rc.Id, "error", err)
		c.reportCompleted(rc.Id, astrorun.Failed(1))
		return
	}

	c.forwardLogs(rc.Id, stream)

	result, _ := stream.Result()
	span.SetAttributes(attribute.String("step.result", string(result.Kind)))
	c.reportCompleted(rc.Id, result)
}

func (c *Client) forwardLogs(stepID string, stream *logstream.Stream) {
	for {
		record, ok := stream.Next()
		if !ok {
			return
		}
		c.runner.OnLog(stepID, record)
		c.enqueue(wire.NewReportLogEnvelope(wire.ToWireLogRecord(stepID, record)))
	}
}

func (c *Client) reportCompleted(stepID string, result astrorun.RunResult) {
	c.enqueue(wire.NewReportRunCompletedEnvelope(stepID, wire.ToWireRunResult(result)))
}

// enqueue pushes env onto the bounded outbound queue, logging and dropping
// on overflow rather than blocking local execution.
func (c *Client) enqueue(env *wire.Envelope) {
	select {
	case c.outbound <- env:
	default:
		c.logger.Warn("outbound command dropped: queue full", "kind", env.Kind)
	}
}

func (c *Client) registerSignal(id string, s *signal.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals[id] = s
}

func (c *Client) unregisterSignal(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.signals, id)
}

func (c *Client) handleSignal(event wire.SignalEvent) {
	c.mu.Lock()
	sig, ok := c.signals[event.Id]
	c.mu.Unlock()
	if !ok {
		return
	}

	action, ok := signal.ParseAction(event.Action)
	if !ok {
		c.logger.Warn("unknown signal action", "action", event.Action)
		return
	}
	switch action {
	case signal.Cancel:
		_ = sig.Cancel()
	case signal.Timeout:
		_ = sig.Timeout()
	}
}
