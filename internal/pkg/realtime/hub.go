package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/demir/mentora/internal/pkg/metrics"
	"github.com/demir/mentora/internal/pkg/presence"
	"github.com/demir/mentora/internal/pkg/ratelimit"
)

// ChatEvents is the hook the hub calls back into the chat layer with. It is
// set after construction to break the construction cycle between the hub and
// the service that broadcasts through it.
type ChatEvents interface {
	// MarkDeliveredForUser flips pending messages addressed to the user to
	// delivered and emits the resulting events. Called when a user comes
	// online.
	MarkDeliveredForUser(ctx context.Context, userID int64)

	// CanAccessThread reports whether the user participates in the thread.
	CanAccessThread(ctx context.Context, threadID, userID int64) (bool, error)
}

// Hub maintains the set of active clients and the thread rooms they joined,
// and fans events out to them.
type Hub struct {
	// Thread rooms: clients that joined a chat via join_chat
	mu    sync.RWMutex
	rooms map[int64]map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	presence *presence.Registry
	limiter  *ratelimit.LimiterStore

	chatMu sync.RWMutex
	chat   ChatEvents

	sendBufferSize int

	logger zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(registry *presence.Registry, limiter *ratelimit.LimiterStore, sendBufferSize int, logger zerolog.Logger) *Hub {
	if sendBufferSize <= 0 {
		sendBufferSize = 256
	}
	return &Hub{
		rooms:          make(map[int64]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		presence:       registry,
		limiter:        limiter,
		sendBufferSize: sendBufferSize,
		logger:         logger,
	}
}

// SetChatEvents wires the chat layer hook. Must be called before the first
// connection is accepted.
func (h *Hub) SetChatEvents(chat ChatEvents) {
	h.chatMu.Lock()
	defer h.chatMu.Unlock()
	h.chat = chat
}

func (h *Hub) chatEvents() ChatEvents {
	h.chatMu.RLock()
	defer h.chatMu.RUnlock()
	return h.chat
}

// Run starts the hub, handling client registrations and disconnects.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// registerClient accepts a new connection. Presence registration happens
// later, when the client sends register_user.
func (h *Hub) registerClient(client *Client) {
	metrics.WebsocketConnections.Inc()

	h.logger.Info().
		Int64("userID", client.userID).
		Str("connID", client.id).
		Msg("Client connected")
}

// unregisterClient tears a connection down: leaves all rooms, releases the
// presence handle and, if it was the user's last connection, broadcasts the
// offline status.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	for threadID, room := range h.rooms {
		if room[client] {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, threadID)
			}
		}
	}
	h.mu.Unlock()

	if !client.close() {
		return
	}

	metrics.WebsocketConnections.Dec()
	h.limiter.Forget(client.id)

	if client.clearRegistered() {
		userID, last, lastSeen := h.presence.Unregister(client)
		metrics.OnlineUsers.Set(float64(h.presence.OnlineCount()))
		if last {
			seen := lastSeen
			h.BroadcastToAll(EventUserStatus, UserStatusPayload{
				UserID:   userID,
				Online:   false,
				LastSeen: &seen,
			})
		}
	}

	h.logger.Info().
		Int64("userID", client.userID).
		Str("connID", client.id).
		Msg("Client disconnected")
}

// JoinRoom subscribes a client to a thread room.
func (h *Hub) JoinRoom(threadID int64, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[threadID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[threadID] = room
	}
	room[client] = true

	h.logger.Debug().
		Int64("threadID", threadID).
		Int64("userID", client.userID).
		Msg("Client joined thread room")
}

// InRoom reports whether the client has joined the thread room.
func (h *Hub) InRoom(threadID int64, client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[threadID][client]
}

// RoomSize returns the number of clients in a thread room.
func (h *Hub) RoomSize(threadID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[threadID])
}

// BroadcastToThread sends an event to every client in a thread room.
func (h *Hub) BroadcastToThread(threadID int64, event string, payload interface{}) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[threadID]))
	for client := range h.rooms[threadID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.deliver(clients, event, data)
}

// BroadcastToThreadExcept sends an event to every client in a thread room
// except the given one. Used for typing relays.
func (h *Hub) BroadcastToThreadExcept(threadID int64, except *Client, event string, payload interface{}) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[threadID]))
	for client := range h.rooms[threadID] {
		if client != except {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	h.deliver(clients, event, data)
}

// BroadcastToUser sends an event to every live connection of a user (their
// personal room, backed by the presence registry).
func (h *Hub) BroadcastToUser(userID int64, event string, payload interface{}) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	handles := h.presence.ResolveHandles(userID)
	clients := make([]*Client, 0, len(handles))
	for _, handle := range handles {
		if client, ok := handle.(*Client); ok {
			clients = append(clients, client)
		}
	}

	h.deliver(clients, event, data)
}

// BroadcastToAll sends an event to every registered connection.
func (h *Hub) BroadcastToAll(event string, payload interface{}) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	seen := make(map[*Client]bool)
	for _, room := range h.rooms {
		for client := range room {
			seen[client] = true
		}
	}
	h.mu.RUnlock()

	// Rooms only cover joined clients; the presence registry covers everyone
	// who registered. Union of both reaches all live connections.
	for _, handle := range h.presence.AllHandles() {
		if client, ok := handle.(*Client); ok {
			seen[client] = true
		}
	}

	clients := make([]*Client, 0, len(seen))
	for client := range seen {
		clients = append(clients, client)
	}

	h.deliver(clients, event, data)
}

// deliver pushes pre-marshalled bytes to each client, dropping connections
// whose send buffer is full. Delivery is at-most-once, best-effort.
func (h *Hub) deliver(clients []*Client, event string, data []byte) {
	if len(clients) == 0 {
		return
	}
	metrics.EventsBroadcast.WithLabelValues(event).Add(float64(len(clients)))

	for _, client := range clients {
		if !client.trySend(data) {
			metrics.EventsDropped.Inc()
			h.logger.Warn().
				Int64("userID", client.userID).
				Str("connID", client.id).
				Msg("Dropping slow client")
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func marshalEnvelope(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: payload})
}
