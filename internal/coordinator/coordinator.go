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

// Package coordinator implements the coordinator server: accepts runner
// subscriptions over a websocket, dispatches Run events to a scheduled
// runner, and relays ReportLog/ReportRunCompleted calls into the matching
// in-process log stream.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/scheduler"
	"github.com/panghu-huang/astro-run-sub000/internal/metrics"
	"github.com/panghu-huang/astro-run-sub000/internal/tracing"
	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

var tracer = tracing.Tracer("astrorun/coordinator")

// Client is a subscribed runner: its declared metadata, an outbound event
// channel draining to its websocket connection, and a rate limiter gating
// how fast that channel is fed. Live run counts are kept by the scheduler;
// the runs field is not updated.
type Client struct {
	Id       string
	Metadata wire.RunnerMetadata
	Outbound chan wire.Event
	limiter  *rate.Limiter
	runs     int
}

// outboundBound is the per-subscriber outbound channel capacity; overflow
// is logged and dropped rather than blocking the dispatcher.
const outboundBound = 100

// outboundRateLimit and outboundBurst cap how many events per second a
// single client's connection is fed, so one runner streaming a pathological
// number of state changes can't starve the coordinator's write loops for
// every other runner. Steady dispatch traffic stays well under this.
const (
	outboundRateLimit rate.Limit = 200
	outboundBurst                = 400
)

// RunningStep is a step the coordinator has dispatched and is tracking the
// terminal result of, keyed by the step's canonical id.
type RunningStep struct {
	RunnerId string
	Stream   *logstream.Stream
}

// Server is the coordinator: it implements runner.Runner itself (the
// scheduler-backed dispatch path) while also fanning lifecycle events out
// to every subscribed client.
type Server struct {
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*Client
	running map[string]*RunningStep

	runner.BaseRunner
}

// New returns a coordinator Server backed by sched. logger may be nil.
func New(sched *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger,
		scheduler: sched,
		clients:   make(map[string]*Client),
		running:   make(map[string]*RunningStep),
	}
}

// WithMetrics attaches a metrics.Metrics collector, returning s for chaining.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// WithScheduler attaches or replaces the scheduler Run dispatches through,
// returning s for chaining. This lets a caller build a scheduler.Scheduler
// backed by this exact server's Fleet (scheduler.New(s.Fleet())) without
// the circular-construction problem of needing the server before it exists.
func (s *Server) WithScheduler(sched *scheduler.Scheduler) *Server {
	s.scheduler = sched
	return s
}

// fleetView adapts the Server's client map to scheduler.Fleet.
type fleetView struct{ s *Server }

func (f fleetView) Runners() []scheduler.RunnerMetadata {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := make([]scheduler.RunnerMetadata, 0, len(f.s.clients))
	for _, c := range f.s.clients {
		out = append(out, scheduler.RunnerMetadata{
			Id:            c.Metadata.Id,
			Os:            c.Metadata.Os,
			Arch:          c.Metadata.Arch,
			SupportDocker: c.Metadata.SupportDocker,
			SupportHost:   c.Metadata.SupportHost,
			MaxRuns:       c.Metadata.MaxRuns,
		})
	}
	return out
}

// Fleet returns a scheduler.Fleet view over the currently subscribed clients.
func (s *Server) Fleet() scheduler.Fleet { return fleetView{s} }

// Subscribe registers metadata as a new client and returns its id and
// outbound channel. Returns ErrVersionMismatch if metadata.Version doesn't
// match wire.ProtocolVersion.
func (s *Server) Subscribe(metadata wire.RunnerMetadata) (*Client, error) {
	if metadata.Version != wire.ProtocolVersion {
		return nil, wire.ErrVersionMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client := &Client{
		Id:       metadata.Id,
		Metadata: metadata,
		Outbound: make(chan wire.Event, outboundBound),
		limiter:  rate.NewLimiter(outboundRateLimit, outboundBurst),
	}
	s.clients[client.Id] = client
	s.logger.Info("runner subscribed", "runner_id", client.Id)
	if s.metrics != nil {
		s.metrics.RunnersSubscribed.Set(float64(len(s.clients)))
	}
	return client, nil
}

// Unsubscribe removes a client, e.g. on disconnect.
func (s *Server) Unsubscribe(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("runner unsubscribed", "runner_id", id)
	if s.metrics != nil {
		s.metrics.RunnersSubscribed.Set(float64(n))
	}
}

// send pushes event onto client's outbound channel, logging and dropping
// on overflow instead of blocking. A per-client rate limiter is checked
// first so a client can't be fed faster than outboundRateLimit even while
// its channel still has room.
func (s *Server) send(client *Client, event wire.Event) {
	if !client.limiter.Allow() {
		s.logger.Warn("outbound event dropped: rate limited", "runner_id", client.Id, "event", event.Kind)
		if s.metrics != nil {
			s.metrics.OutboundDropped.WithLabelValues(client.Id).Inc()
		}
		return
	}

	select {
	case client.Outbound <- event:
		if s.metrics != nil {
			s.metrics.OutboundQueueDepth.WithLabelValues(client.Id).Set(float64(len(client.Outbound)))
		}
	default:
		s.logger.Warn("outbound event dropped: channel full", "runner_id", client.Id, "event", event.Kind)
		if s.metrics != nil {
			s.metrics.OutboundDropped.WithLabelValues(client.Id).Inc()
		}
	}
}

// broadcast pushes event to every subscribed client.
func (s *Server) broadcast(event wire.Event) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.send(c, event)
	}
}

// Run implements runner.Runner: it schedules rc's step onto a client via
// the coordinator's Scheduler, records a RunningStep, and pushes an
// Event::Run to the chosen client's outbound channel.
func (s *Server) Run(ctx context.Context, rc runner.RunContext) (*logstream.Stream, error) {
	_, span := tracer.Start(ctx, "coordinator.dispatch_step",
		trace.WithAttributes(attribute.String("step.id", rc.Id.String())))
	defer span.End()

	meta, ok := s.scheduler.Select(rc.Id.Job(), rc.Command)
	if !ok {
		err := fmt.Errorf("coordinator: no runner available for step %s", rc.Id)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("runner.id", meta.Id))

	s.mu.Lock()
	client, ok := s.clients[meta.Id]
	s.mu.Unlock()
	if !ok {
		err := fmt.Errorf("coordinator: scheduled runner %s is no longer connected", meta.Id)
		span.RecordError(err)
		return nil, err
	}

	stream := logstream.New()
	idStr := rc.Id.String()

	s.mu.Lock()
	s.running[idStr] = &RunningStep{RunnerId: client.Id, Stream: stream}
	s.mu.Unlock()

	s.send(client, wire.Event{
		Kind: wire.EventRun,
		Id:   idStr,
		Run: &wire.RunContext{
			Id:      idStr,
			Command: wire.ToWireStep(rc.Command),
			Event:   wire.ToWireEvent(rc.Event),
		},
	})

	if s.metrics != nil {
		s.metrics.StepsDispatched.WithLabelValues(client.Id).Inc()
		s.metrics.SchedulerPicks.WithLabelValues(client.Id, stepClass(rc.Command)).Inc()
	}

	return stream, nil
}

// stepClass classifies a step the same way the scheduler's host selector
// does, purely for metrics labeling.
func stepClass(step astrorun.Step) string {
	if step.Container != nil && strings.HasPrefix(step.Container.Name, "host/") {
		return "host"
	}
	return "docker"
}

// ReportLog pushes a runner-reported log record onto the step's
// in-process stream.
func (s *Server) ReportLog(stepID string, record wire.LogRecord) {
	s.mu.Lock()
	rs, ok := s.running[stepID]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("report_log for unknown step", "step_id", stepID)
		return
	}

	if record.Kind == "error" {
		rs.Stream.Err(record.Message)
	} else {
		rs.Stream.Log(record.Message)
	}
}

// ReportRunCompleted ends the step's stream with result, clears its
// running entry, and decrements the owning runner's scheduler run count.
func (s *Server) ReportRunCompleted(stepID string, result wire.RunResult) {
	s.mu.Lock()
	rs, ok := s.running[stepID]
	if ok {
		delete(s.running, stepID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("report_run_completed for unknown step", "step_id", stepID)
		return
	}

	rs.Stream.End(wire.FromWireRunResult(result))
	s.scheduler.OnStepCompleted(stepID)
	if s.metrics != nil {
		s.metrics.StepsCompleted.WithLabelValues(string(result.Kind)).Inc()
	}
}

// CancelStep sends a Signal(cancel) event to the runner currently
// executing stepID.
func (s *Server) CancelStep(stepID string) {
	s.mu.Lock()
	rs, ok := s.running[stepID]
	var client *Client
	if ok {
		client = s.clients[rs.RunnerId]
	}
	s.mu.Unlock()

	if client == nil {
		return
	}
	s.send(client, wire.Event{Kind: wire.EventSignal, Id: stepID, Signal: &wire.SignalEvent{Id: stepID, Action: "cancel"}})
}

func (s *Server) OnRunWorkflow(event astrorun.WorkflowEvent) {
	s.broadcast(wire.Event{Kind: wire.EventRunWorkflow})
	s.BaseRunner.OnRunWorkflow(event)
}

func (s *Server) OnRunJob(event astrorun.WorkflowEvent) {
	s.broadcast(wire.Event{Kind: wire.EventRunJob})
	s.BaseRunner.OnRunJob(event)
}

func (s *Server) OnRunStep(event astrorun.WorkflowEvent) {
	s.broadcast(wire.Event{Kind: wire.EventRunStep})
	s.BaseRunner.OnRunStep(event)
}

func (s *Server) OnStepCompleted(result astrorun.StepRunResult) {
	s.broadcast(wire.Event{Kind: wire.EventStepCompleted, StepResult: ptrStepResult(wire.ToWireStepResult(result))})
	s.BaseRunner.OnStepCompleted(result)
}

func (s *Server) OnJobCompleted(result astrorun.JobRunResult) {
	if s.scheduler != nil {
		s.scheduler.OnJobCompleted(result.Id.String())
	}
	s.broadcast(wire.Event{Kind: wire.EventJobCompleted, JobResult: ptrJobResult(wire.ToWireJobResult(result))})
	s.BaseRunner.OnJobCompleted(result)
}

func (s *Server) OnWorkflowCompleted(result astrorun.WorkflowRunResult) {
	s.broadcast(wire.Event{Kind: wire.EventWorkflowCompleted, WorkflowResult: ptrWorkflowResult(wire.ToWireWorkflowResult(result))})
	s.BaseRunner.OnWorkflowCompleted(result)
}

func (s *Server) OnStateChange(id string, state astrorun.State) {
	s.broadcast(wire.Event{Kind: wire.EventStateChange, StateChange: &wire.StateChangeEvent{Id: id, State: string(state)}})
	s.BaseRunner.OnStateChange(id, state)
}

func (s *Server) OnLog(stepID string, record logstream.Record) {
	logRecord := wire.ToWireLogRecord(stepID, record)
	s.broadcast(wire.Event{Kind: wire.EventLog, Log: &logRecord})
	s.BaseRunner.OnLog(stepID, record)
}

func ptrStepResult(r wire.StepResult) *wire.StepResult             { return &r }
func ptrJobResult(r wire.JobResult) *wire.JobResult                { return &r }
func ptrWorkflowResult(r wire.WorkflowResult) *wire.WorkflowResult { return &r }
