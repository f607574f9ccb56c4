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
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/logstream"
	localrunner "github.com/panghu-huang/astro-run-sub000/pkg/astrorun/runner"
	"github.com/panghu-huang/astro-run-sub000/pkg/astrorun/signal"
	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

// Client is the coordinator-side half of the inverse topology: a
// runner.Runner implementation that dials out to a single remote runner's
// websocket endpoint and multiplexes concurrent Run calls over it,
// instead of waiting for that runner to subscribe inward.
//
// Client deliberately implements the same runner.Runner interface the
// coordinator's own Server does (internal/coordinator.Server), so either
// can serve as the runner of an exec.Context interchangeably.
type Client struct {
	localrunner.BaseRunner

	url    string
	logger *slog.Logger

	// writeMu serializes data frames: Run, signal forwarding, and
	// metadata requests may write concurrently, and the websocket
	// connection allows only one writer at a time.
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	streams map[string]*logstream.Stream
	pending map[string]chan wire.RunnerMetadata
}

// NewClient returns a Client that will dial url on first use. logger may
// be nil.
func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		logger:  logger,
		streams: make(map[string]*logstream.Stream),
		pending: make(map[string]chan wire.RunnerMetadata),
	}
}

// Dial opens the connection and starts its read loop. Run calls before
// Dial has succeeded fail fast.
func (c *Client) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("remoterunner: dialing %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.pingLoop(conn)
	go c.readLoop(conn)
	return nil
}

// pingLoop keeps the connection alive against Server's pongWait read
// deadline, matching the ping cadence internal/coordinator's transport
// expects from a subscribed runner client.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		closed := c.conn != conn
		c.mu.Unlock()
		if closed {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("remoterunner: connection closed", "url", c.url, "error", err)
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("remoterunner: malformed envelope", "error", err)
			continue
		}

		switch env.Kind {
		case wire.KindReportLog:
			c.deliverLog(env.ReportLog.Log)
		case wire.KindReportRunCompleted:
			c.deliverResult(env.ReportRunCompleted.Id, env.ReportRunCompleted.Result)
		case wire.KindMetadata:
			c.deliverMetadata(env.CorrelationId, *env.Metadata)
		default:
			c.logger.Debug("remoterunner: envelope ignored", "kind", env.Kind)
		}
	}
}

func (c *Client) deliverLog(log wire.LogRecord) {
	c.mu.Lock()
	stream, ok := c.streams[log.StepId]
	c.mu.Unlock()
	if !ok {
		return
	}
	if log.Kind == "error" {
		stream.Err(log.Message)
	} else {
		stream.Log(log.Message)
	}
}

func (c *Client) deliverResult(stepID string, result wire.RunResult) {
	c.mu.Lock()
	stream, ok := c.streams[stepID]
	if ok {
		delete(c.streams, stepID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	stream.End(wire.FromWireRunResult(result))
}

func (c *Client) deliverMetadata(correlationId string, metadata wire.RunnerMetadata) {
	c.mu.Lock()
	ch, ok := c.pending[correlationId]
	if ok {
		delete(c.pending, correlationId)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- metadata
}

// writeEnvelope marshals env and writes it as a single frame, serialized
// against every other data-frame writer on the connection.
func (c *Client) writeEnvelope(conn *websocket.Conn, env *wire.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// GetRunnerMetadata asks the remote runner for its declared capabilities,
// used by a coordinator-side Pool to build its scheduling fleet.
func (c *Client) GetRunnerMetadata(ctx context.Context) (wire.RunnerMetadata, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return wire.RunnerMetadata{}, fmt.Errorf("remoterunner: %s is not connected", c.url)
	}

	env := wire.NewGetMetadataEnvelope()
	ch := make(chan wire.RunnerMetadata, 1)

	c.mu.Lock()
	c.pending[env.CorrelationId] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.CorrelationId)
		c.mu.Unlock()
	}()

	if err := c.writeEnvelope(conn, env); err != nil {
		return wire.RunnerMetadata{}, fmt.Errorf("remoterunner: requesting metadata: %w", err)
	}

	select {
	case metadata := <-ch:
		return metadata, nil
	case <-ctx.Done():
		return wire.RunnerMetadata{}, ctx.Err()
	}
}

// SendEvent pushes a lifecycle or signal event to the remote runner.
func (c *Client) SendEvent(event wire.Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("remoterunner: %s is not connected", c.url)
	}
	return c.writeEnvelope(conn, wire.NewEventEnvelope(event))
}

// Run sends rc to the remote runner as a wire Run event and returns a
// Stream that the readLoop fills in as ReportLog/ReportRunCompleted
// envelopes arrive. A goroutine forwards rc.Signal firing to the remote
// side so a local cancel/timeout reaches the step actually running there.
func (c *Client) Run(ctx context.Context, rc localrunner.RunContext) (*logstream.Stream, error) {
	_, span := tracer.Start(ctx, "remoterunner.dispatch_step",
		trace.WithAttributes(attribute.String("step.id", rc.Id.String()), attribute.String("runner.url", c.url)))
	defer span.End()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		err := fmt.Errorf("remoterunner: %s is not connected", c.url)
		span.RecordError(err)
		return nil, err
	}

	idStr := rc.Id.String()
	stream := logstream.New()

	c.mu.Lock()
	c.streams[idStr] = stream
	c.mu.Unlock()

	env := wire.NewEventEnvelope(wire.Event{
		Kind: wire.EventRun,
		Id:   idStr,
		Run: &wire.RunContext{
			Id:      idStr,
			Command: wire.ToWireStep(rc.Command),
			Event:   wire.ToWireEvent(rc.Event),
		},
	})
	if err := c.writeEnvelope(conn, env); err != nil {
		c.mu.Lock()
		delete(c.streams, idStr)
		c.mu.Unlock()
		wrapped := fmt.Errorf("remoterunner: sending run event: %w", err)
		span.RecordError(wrapped)
		return nil, wrapped
	}

	if rc.Signal != nil {
		go c.forwardSignal(conn, idStr, rc.Signal)
	}

	return stream, nil
}

func (c *Client) forwardSignal(conn *websocket.Conn, stepID string, sig *signal.Signal) {
	action, ok := <-sig.Recv()
	if !ok {
		return
	}
	env := wire.NewEventEnvelope(wire.Event{
		Kind:   wire.EventSignal,
		Id:     stepID,
		Signal: &wire.SignalEvent{Id: stepID, Action: action.String()},
	})
	if err := c.writeEnvelope(conn, env); err != nil {
		c.logger.Warn("remoterunner: failed to forward signal", "step", stepID, "error", err)
	}
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// keepaliveInterval matches Server's pongWait/2 so pings always land
// before the remote side's read deadline expires.
const keepaliveInterval = 30 * time.Second
