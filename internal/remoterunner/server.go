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

// Package remoterunner implements the inverse RPC topology: the
// coordinator dials out to a runner instead of the runner subscribing
// inward. Server is the runner side, an http.Handler that upgrades to the
// same wire.Envelope websocket vocabulary used by
// internal/coordinator and internal/runnerclient, just with the roles of
// dialer and listener swapped.
package remoterunner

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	astrorun "github.com/panghu-huang/astro-run-sub000/pkg/astrorun"
	localrunner "github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/signal"
	"github.com/panghu-huang/astro-run-sub000/internal/tracing"
	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

var tracer = tracing.Tracer("astrorun/remoterunner")

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Server is the runner-side half of the inverse topology: it wraps a
// local runner.Runner and executes whatever Run requests the connecting
// coordinator sends, reporting logs/results back over the same socket.
type Server struct {
	runner   localrunner.Runner
	metadata wire.RunnerMetadata
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a Server executing steps on r and advertising
// metadata on request.
func NewServer(r localrunner.Runner, metadata wire.RunnerMetadata, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	metadata.Version = wire.ProtocolVersion
	return &Server{
		runner:   r,
		metadata: metadata,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("remoterunner: websocket upgrade failed", "error", err)
		return
	}
	s.handleConnection(conn)
}

// handleConnection serves one coordinator connection: it may dispatch
// several concurrent Run requests, each tracked by step id so an
// incoming Signal envelope can be routed to the right one.
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan *wire.Envelope, 100)
	signals := &signalTable{signals: make(map[string]*signal.Signal)}

	go s.writeLoop(ctx, conn, outbound)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("remoterunner: websocket read error", "error", err)
			}
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("remoterunner: malformed envelope", "error", err)
			continue
		}

		switch env.Kind {
		case wire.KindEvent:
			s.dispatchEvent(ctx, env.Event, outbound, signals)
		case wire.KindGetMetadata:
			enqueue(s.logger, outbound, wire.NewMetadataEnvelope(env.CorrelationId, s.metadata))
		default:
			s.logger.Debug("remoterunner: envelope ignored", "kind", env.Kind)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound chan *wire.Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-outbound:
			data, err := env.Marshal()
			if err != nil {
				s.logger.Error("remoterunner: failed to encode outbound envelope", "error", err)
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

func (s *Server) dispatchEvent(ctx context.Context, event *wire.Event, outbound chan *wire.Envelope, signals *signalTable) {
	if event == nil {
		return
	}
	switch event.Kind {
	case wire.EventRun:
		if event.Run != nil {
			go s.executeRun(ctx, *event.Run, outbound, signals)
		}
	case wire.EventSignal:
		if event.Signal != nil {
			signals.fire(event.Signal.Id, event.Signal.Action)
		}
	case wire.EventRunWorkflow:
		s.runner.OnRunWorkflow(astrorun.WorkflowEvent{})
	case wire.EventRunJob:
		s.runner.OnRunJob(astrorun.WorkflowEvent{})
	case wire.EventRunStep:
		s.runner.OnRunStep(astrorun.WorkflowEvent{})
	case wire.EventStepCompleted:
		if event.StepResult != nil {
			s.runner.OnStepCompleted(wire.FromWireStepResult(*event.StepResult))
		}
	case wire.EventJobCompleted:
		if event.JobResult != nil {
			s.runner.OnJobCompleted(wire.FromWireJobResult(*event.JobResult))
		}
	case wire.EventWorkflowCompleted:
		if event.WorkflowResult != nil {
			s.runner.OnWorkflowCompleted(wire.FromWireWorkflowResult(*event.WorkflowResult))
		}
	case wire.EventStateChange:
		if event.StateChange != nil {
			s.runner.OnStateChange(event.StateChange.Id, astrorun.State(event.StateChange.State))
		}
	case wire.EventLog:
		if event.Log != nil {
			s.runner.OnLog(event.Log.StepId, wire.FromWireLogRecord(*event.Log))
		}
	default:
		s.logger.Debug("remoterunner: event ignored", "kind", event.Kind)
	}
}

func (s *Server) executeRun(ctx context.Context, rc wire.RunContext, outbound chan *wire.Envelope, signals *signalTable) {
	ctx, span := tracer.Start(ctx, "remoterunner.run_step",
		trace.WithAttributes(attribute.String("step.id", rc.Id)))
	defer span.End()

	id, err := astrorun.ParseStepId(rc.Id)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("remoterunner: run event carried an invalid step id", "id", rc.Id, "error", err)
		return
	}
	step, err := wire.FromWireStep(rc.Command)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("remoterunner: run event carried an undecodable step", "error", err)
		enqueue(s.logger, outbound, wire.NewReportRunCompletedEnvelope(rc.Id, wire.ToWireRunResult(astrorun.Failed(1))))
		return
	}

	sig := signal.New()
	signals.register(rc.Id, sig)
	defer signals.unregister(rc.Id)

	stream, err := s.runner.Run(ctx, localrunner.RunContext{
		Id:      id,
		Command: step,
		Signal:  sig,
		Event:   wire.FromWireEvent(rc.Event),
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("remoterunner: local runner failed to start step", "step", rc.Id, "error", err)
		enqueue(s.logger, outbound, wire.NewReportRunCompletedEnvelope(rc.Id, wire.ToWireRunResult(astrorun.Failed(1))))
		return
	}

	for {
		record, ok := stream.Next()
		if !ok {
			break
		}
		enqueue(s.logger, outbound, wire.NewReportLogEnvelope(wire.ToWireLogRecord(rc.Id, record)))
	}

	result, _ := stream.Result()
	span.SetAttributes(attribute.String("step.result", string(result.Kind)))
	enqueue(s.logger, outbound, wire.NewReportRunCompletedEnvelope(rc.Id, wire.ToWireRunResult(result)))
}

func enqueue(logger *slog.Logger, outbound chan *wire.Envelope, env *wire.Envelope) {
	select {
	case outbound <- env:
	default:
		logger.Warn("remoterunner: outbound envelope dropped: queue full", "kind", env.Kind)
	}
}

// signalTable is the per-connection registry mapping a step id to the
// Signal its in-flight Run call is gated on.
type signalTable struct {
	mu      sync.Mutex
	signals map[string]*signal.Signal
}

func (t *signalTable) register(id string, s *signal.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals[id] = s
}

func (t *signalTable) unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.signals, id)
}

func (t *signalTable) fire(id, action string) {
	t.mu.Lock()
	sig, ok := t.signals[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	parsed, ok := signal.ParseAction(action)
	if !ok {
		return
	}
	switch parsed {
	case signal.Cancel:
		_ = sig.Cancel()
	case signal.Timeout:
		_ = sig.Timeout()
	}
}

// Metadata returns the server's advertised capabilities, for a coordinator
// that wants to inspect them out-of-band before dialing.
func (s *Server) Metadata() wire.RunnerMetadata { return s.metadata }
