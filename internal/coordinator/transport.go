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

package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/panghu-huang/astro-run-sub000/internal/wire"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Transport serves the coordinator's /subscribe websocket endpoint,
// demultiplexing envelopes to Server and streaming its outbound events
// back: upgrade, ping/pong keepalive, graceful close on read error.
type Transport struct {
	server   *Server
	upgrader websocket.Upgrader
}

// NewTransport wraps server with a websocket handler.
func NewTransport(server *Server) *Transport {
	return &Transport{
		server: server,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.server.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	t.handleConnection(conn)
}

func (t *Transport) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.server.logger.Warn("websocket handshake read failed", "error", err)
		return
	}

	env, err := wire.Decode(data)
	if err != nil || env.Kind != wire.KindSubscribe || env.Subscribe == nil {
		t.server.logger.Warn("malformed subscribe handshake", "error", err)
		return
	}

	client, err := t.server.Subscribe(env.Subscribe.Metadata)
	if err != nil {
		t.server.logger.Warn("subscribe rejected", "runner_id", env.Subscribe.Metadata.Id, "error", err)
		return
	}
	defer t.server.Unsubscribe(client.Id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go t.writeLoop(ctx, conn, client)
	t.readLoop(conn)
}

// writeLoop drains client.Outbound to the connection and sends periodic
// pings.
func (t *Transport) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-client.Outbound:
			data, err := wire.NewEventEnvelope(event).Marshal()
			if err != nil {
				t.server.logger.Error("failed to encode outbound event", "error", err)
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

// readLoop consumes ReportLog/ReportRunCompleted unary calls from the
// runner client over the same connection.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.server.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		t.server.logger.Warn("malformed envelope", "error", err)
		return
	}

	switch {
	case env.ReportLog != nil:
		t.server.ReportLog(env.ReportLog.Log.StepId, env.ReportLog.Log)
	case env.ReportRunCompleted != nil:
		t.server.ReportRunCompleted(env.ReportRunCompleted.Id, env.ReportRunCompleted.Result)
	default:
		t.server.logger.Debug("envelope ignored: no actionable payload")
	}
}
