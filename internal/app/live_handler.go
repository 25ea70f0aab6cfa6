// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocket message types
type WSMessage struct {
	Action string `json:"action"` // select, clear, pause, resume, status
	Sensor string `json:"sensor,omitempty"`
}

type WSResponse struct {
	Type    string          `json:"type"` // update, reset, status, error
	Update  *capture.Update `json:"update,omitempty"`
	Reset   *capture.Reset  `json:"reset,omitempty"`
	Status  *capture.Status `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
}

type liveClient struct {
	conn *websocket.Conn
	send chan WSResponse
}

// Hub fans session updates out to every connected websocket client. Slow
// clients miss messages rather than stall the session.
type Hub struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

// NewHub creates an empty hub. Register it with Session.AddObserver.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{logger: logger, clients: make(map[*liveClient]struct{})}
}

// OnUpdate implements capture.Observer.
func (h *Hub) OnUpdate(u capture.Update) {
	h.broadcast(WSResponse{Type: "update", Update: &u})
}

// OnReset implements capture.Observer.
func (h *Hub) OnReset(r capture.Reset) {
	h.broadcast(WSResponse{Type: "reset", Reset: &r})
}

// Error tells every client about a failed operation.
func (h *Hub) Error(msg string) {
	h.broadcast(WSResponse{Type: "error", Message: msg})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg WSResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debugw("live: client too slow, message dropped", "type", msg.Type)
		}
	}
}

func (h *Hub) register(c *liveClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *liveClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// enqueue sends msg to c alone, dropping it if c is backed up.
func (h *Hub) enqueue(c *liveClient, msg WSResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// HandleLiveWS upgrades the connection, streams session events to it and
// executes the commands the client sends.
func (h *Hub) HandleLiveWS(session *capture.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warnw("live: websocket upgrade error", "error", err)
			return
		}

		c := &liveClient{conn: conn, send: make(chan WSResponse, clientSendBuffer)}
		h.register(c)
		h.logger.Infow("live: client connected", "remote", r.RemoteAddr, "clients", h.Clients())

		written := make(chan struct{})
		go func() {
			defer close(written)
			h.writeLoop(c)
		}()

		ctx := r.Context()
		h.sendStatus(ctx, c, session)

		// Main message loop
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warnw("live: websocket read error", "error", err)
				}
				break
			}
			if err := h.execute(ctx, session, msg); err != nil {
				h.enqueue(c, WSResponse{Type: "error", Message: err.Error()})
				continue
			}
			h.sendStatus(ctx, c, session)
		}

		h.unregister(c)
		<-written
		conn.Close()
		h.logger.Infow("live: client disconnected", "remote", r.RemoteAddr)
	}
}

func (h *Hub) writeLoop(c *liveClient) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Debugw("live: websocket write error", "error", err)
			c.conn.Close()
			// keep draining so unregister never blocks on a full buffer
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) sendStatus(ctx context.Context, c *liveClient, session *capture.Session) {
	st, err := session.Status(ctx)
	if err != nil {
		h.enqueue(c, WSResponse{Type: "error", Message: err.Error()})
		return
	}
	h.enqueue(c, WSResponse{Type: "status", Status: &st})
}

func (h *Hub) execute(ctx context.Context, session *capture.Session, msg WSMessage) error {
	switch msg.Action {
	case "select":
		t, err := parseSensorParam(msg.Sensor)
		if err != nil {
			return err
		}
		return session.SelectSensor(ctx, t)
	case "clear":
		return session.Clear(ctx)
	case "pause":
		return session.Pause(ctx)
	case "resume":
		return session.Resume(ctx)
	case "status":
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", errBadRequest, msg.Action)
	}
}

// errBadRequest marks errors caused by malformed client input.
var errBadRequest = errors.New("bad request")

func parseSensorParam(tag string) (motion.SensorType, error) {
	t := motion.ParseSensorType(tag)
	if !t.Known() {
		return motion.Unknown, fmt.Errorf("%w: unknown sensor type %q", errBadRequest, tag)
	}
	return t, nil
}
