package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hookrelay/internal/logger"
)

const (
	streamReadLimit    = 1 << 16
	streamPongWait     = 60 * time.Second
	streamPingInterval = 20 * time.Second
	streamWriteWait    = 10 * time.Second
)

// Only bearer-authenticated clients reach the upgrade, so any origin is accepted.
var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type streamMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeliveryStreamHandler handles GET /v1/webhooks/deliveries/stream.
// After connection_ack the server sends one "delivery" message per completed attempt
// of any subscription owned by the caller. Clients may send {"type":"ping"}.
func (s *Server) DeliveryStreamHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", "", r.URL.Path)
		return
	}
	if s.Broker == nil {
		writeProblem(w, http.StatusServiceUnavailable, CodeUnavailable, "Delivery stream is not configured", "", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(v)
	}

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(streamPongWait)) })

	ch := s.Broker.Subscribe(p.CredentialID)
	defer s.Broker.Unsubscribe(p.CredentialID, ch)
	log := s.log().With(logger.Owner(p.CredentialID))
	log.Debug("delivery stream opened")

	if err := write(streamMessage{Type: "connection_ack"}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg streamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
			if msg.Type == "ping" {
				if err := write(streamMessage{Type: "pong"}); err != nil {
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Debug("delivery stream closed")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
			wmu.Unlock()
			if err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Warn("encode delivery event", zap.Error(err))
				continue
			}
			if err := write(streamMessage{Type: "delivery", Payload: payload}); err != nil {
				return
			}
		}
	}
}
