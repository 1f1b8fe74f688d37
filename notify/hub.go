// Package notify fans journal updates out to connected WebSocket clients,
// one listener set per user.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse-network/tradepulse-node/chains"
	"github.com/tradepulse-network/tradepulse-node/journal"
)

const writeTimeout = 10 * time.Second

// Authenticator validates the first client frame's credentials and returns
// the authenticated user id. An empty SESSION_SECRET deployment can accept
// the claimed id as-is.
type Authenticator func(userID, token string) (string, error)

// Listener is one connected client. Writes are serialized per connection.
type Listener struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (l *Listener) send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is the per-user listener registry.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]map[*Listener]struct{}
	auth      Authenticator
}

// NewHub builds the hub with the given authenticator.
func NewHub(auth Authenticator) *Hub {
	return &Hub{
		listeners: make(map[string]map[*Listener]struct{}),
		auth:      auth,
	}
}

type authFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// Serve owns a freshly upgraded connection: it waits for the auth frame,
// registers the listener, then holds the connection open until the client
// goes away. An unauthenticated listener receives nothing.
func (h *Hub) Serve(conn *websocket.Conn) {
	defer conn.Close()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var frame authFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "auth" || frame.UserID == "" {
		log.Debug().Msg("websocket client sent no auth frame, dropping")
		return
	}
	userID, err := h.auth(frame.UserID, frame.Token)
	if err != nil {
		log.Warn().Str("userId", frame.UserID).Err(err).Msg("websocket auth rejected")
		return
	}

	l := &Listener{conn: conn}
	h.register(userID, l)
	defer h.unregister(userID, l)

	log.Info().Str("userId", userID).Msg("websocket listener connected")

	// Drain further client frames; the protocol is server-push only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(userID string, l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[userID]
	if !ok {
		set = make(map[*Listener]struct{})
		h.listeners[userID] = set
	}
	set[l] = struct{}{}
}

func (h *Hub) unregister(userID string, l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.listeners[userID]; ok {
		delete(set, l)
		if len(set) == 0 {
			delete(h.listeners, userID)
		}
	}
}

// ListenerCount reports the user's connected listeners.
func (h *Hub) ListenerCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[userID])
}

// Broadcast marshals the event once and writes it to every listener of the
// user. Listeners whose write fails are pruned.
func (h *Hub) Broadcast(userID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal notification")
		return
	}

	h.mu.Lock()
	targets := make([]*Listener, 0, len(h.listeners[userID]))
	for l := range h.listeners[userID] {
		targets = append(targets, l)
	}
	h.mu.Unlock()

	for _, l := range targets {
		if err := l.send(payload); err != nil {
			log.Debug().Str("userId", userID).Err(err).Msg("pruning dead websocket listener")
			l.conn.Close()
			h.unregister(userID, l)
		}
	}
}

// BotStatusEvent tells the UI a bot flipped between running and stopped.
type BotStatusEvent struct {
	Type      string         `json:"type"`
	Network   chains.Network `json:"network"`
	IsRunning bool           `json:"isRunning"`
}

// BroadcastBotStatus emits a bot_status event for the key.
func (h *Hub) BroadcastBotStatus(userID string, network chains.Network, isRunning bool) {
	h.Broadcast(userID, BotStatusEvent{Type: "bot_status", Network: network, IsRunning: isRunning})
}

// TradeEvent carries a terminal trade log to the UI.
type TradeEvent struct {
	Type  string            `json:"type"`
	Trade *journal.TradeLog `json:"trade"`
}

// BroadcastTrade emits a new_trade event with the full log row.
func (h *Hub) BroadcastTrade(userID string, trade *journal.TradeLog) {
	h.Broadcast(userID, TradeEvent{Type: "new_trade", Trade: trade})
}
