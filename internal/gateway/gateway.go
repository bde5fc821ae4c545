// Package gateway bridges stream subscribers to the event bus over
// WebSocket connections.
//
// Each connection carries exactly one subscription, identified by the
// function id in the request path and resolved to the in-flight
// execution's topic. Every log event becomes one text frame containing
// the event's wire JSON.
//
// # Connection state machine
//
//	(connecting) → (subscribed) → (closing) → (closed)
//
// The connection leaves subscribed when the client disconnects, the
// topic's execution ends (after the grace period), a frame write fails,
// or the request context is cancelled. Frames received from the client
// are read solely to detect disconnection and are otherwise discarded.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/divitsinghall/Vortex/internal/bus"
	"github.com/divitsinghall/Vortex/internal/executor"
	"github.com/divitsinghall/Vortex/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	maxInboundSize = 512
)

// Gateway accepts stream subscriptions and forwards topic events.
type Gateway struct {
	bus      bus.Bus
	topics   *executor.Topics
	upgrader websocket.Upgrader
}

// New creates a gateway over the given bus and topic registry.
func New(b bus.Bus, topics *executor.Topics) *Gateway {
	return &Gateway{
		bus:    b,
		topics: topics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard and CLI connect cross-origin; log frames are
			// not credential-bearing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Subscribe handles GET /functions/{id}/subscribe.
func (g *Gateway) Subscribe(w http.ResponseWriter, r *http.Request) {
	functionID := r.PathValue("id")
	if functionID == "" {
		http.Error(w, "missing function id", http.StatusBadRequest)
		return
	}

	// Resolve to the in-flight execution's topic. When nothing is in
	// flight the subscription attaches to a topic that will never open,
	// which yields an immediate clean end-of-stream on the Memory bus; on
	// the Redis bus the connection stays open until the client leaves.
	topic, ok := g.topics.Resolve(functionID)
	if !ok {
		topic = functionID
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Op().Debug("subscribe upgrade failed", "function", functionID, "error", err)
		return
	}

	sub, err := g.bus.Subscribe(r.Context(), topic)
	if err != nil {
		logging.Op().Warn("subscribe failed", "topic", topic, "error", err)
		conn.Close()
		return
	}

	logging.Op().Debug("subscriber attached", "function", functionID, "topic", topic)
	g.serve(conn, sub)
}

// serve runs the subscribed state until a close condition fires, then
// tears the connection down.
func (g *Gateway) serve(conn *websocket.Conn, sub *bus.Subscription) {
	defer func() {
		sub.Cancel()
		conn.Close()
	}()

	// Read pump: the client never sends meaningful frames; reads exist to
	// notice disconnection promptly.
	disconnected := make(chan struct{})
	conn.SetReadLimit(maxInboundSize)
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-disconnected:
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Execution ended: tell the client this was a clean finish.
				deadline := time.Now().Add(writeTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution ended"),
					deadline)
				return
			}
			frame, err := json.Marshal(ev)
			if err != nil {
				logging.Op().Error("marshal log event", "topic", sub.Topic(), "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
