package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader accepts WebSocket connections from any origin; the control
// surface is assumed to sit behind a trusted network boundary, the
// same assumption the scenario dashboards make of the MessageBus.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const eventBufferSize = 64

// handleEvents upgrades to a WebSocket and rebroadcasts the
// operational event bus, filtered to events whose "scenario" data
// field matches the path's {id}. The bus carries no delivery
// guarantee (per internal/events' doc comment), so this feed is for
// live observation only, never a substitute for polling /status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "scenario", id, "error", err)
		return
	}
	defer conn.Close()

	if s.events == nil {
		return
	}

	ch := s.events.Subscribe(eventBufferSize)
	defer s.events.Unsubscribe(ch)

	// Drain inbound frames so control frames are processed and a
	// client-initiated close is noticed promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if scenario, _ := ev.Data["scenario"].(string); scenario != id {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Debug("marshal event", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
