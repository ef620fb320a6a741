/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package export

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/oisp-sensor/pkg/logger"
	"github.com/carverauto/oisp-sensor/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 256
)

// wsClient is one connected subscriber with an optional event-type filter.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter map[string]struct{}
}

// WebSocketSink serves a live event stream to local subscribers. Clients may
// narrow the stream with ?types=ai.request,ai.response.
type WebSocketSink struct {
	cfg models.WebSocketSinkConfig
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	server  *http.Server
	started bool
}

// NewWebSocketSink creates the sink; the listener starts on Connect.
func NewWebSocketSink(cfg models.WebSocketSinkConfig, log logger.Logger) *WebSocketSink {
	return &WebSocketSink{
		cfg:     cfg,
		log:     log.WithComponent("websocket-sink"),
		clients: make(map[*wsClient]struct{}),
	}
}

func (s *WebSocketSink) Name() string { return "websocket" }

func (s *WebSocketSink) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.log.Error().Err(serveErr).Msg("WebSocket sink server stopped")
		}
	}()

	s.started = true
	s.log.Info().Str("listen_addr", s.cfg.ListenAddr).Msg("WebSocket sink listening")

	return nil
}

func (s *WebSocketSink) handleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The sink binds to loopback; origin checks add nothing there.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		filter: parseTypeFilter(r.URL.Query().Get("types")),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	s.log.Info().Str("remote_addr", r.RemoteAddr).Msg("WebSocket subscriber connected")

	go s.writePump(client)
	go s.readPump(client)
}

// writePump sends queued frames to one client.
func (s *WebSocketSink) writePump(c *wsClient) {
	defer s.dropClient(c)

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound frames and notices disconnects.
func (s *WebSocketSink) readPump(c *wsClient) {
	defer s.dropClient(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocketSink) dropClient(c *wsClient) {
	s.mu.Lock()

	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}

	s.mu.Unlock()
	_ = c.conn.Close()
}

func (s *WebSocketSink) Write(_ context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if len(c.filter) > 0 {
			if _, ok := c.filter[ev.EventType]; !ok {
				continue
			}
		}

		select {
		case c.send <- data:
		default:
			// Slow subscriber; skip rather than stall the sink.
		}
	}

	return nil
}

func (s *WebSocketSink) Close(ctx context.Context) error {
	s.mu.Lock()

	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}

	server := s.server
	s.server = nil
	s.started = false
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func parseTypeFilter(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}

	filter := make(map[string]struct{})

	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}

	return filter
}
