package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/demir/mentora/internal/pkg/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB

	// Deadline for store lookups triggered by inbound events
	eventTimeout = 5 * time.Second
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client is a middleman between a websocket connection and the hub.
type Client struct {
	hub *Hub

	// The WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Connection ID, used as the rate-limiter key
	id string

	// Authenticated user behind this connection
	userID int64

	mu         sync.Mutex
	closed     bool
	registered bool

	logger zerolog.Logger
}

// trySend queues pre-marshalled bytes without blocking. It reports false when
// the send buffer is full; sends to a closed client are silently discarded.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once. It reports whether this call
// performed the close.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *Client) markRegistered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = true
}

// clearRegistered reports whether the client had completed register_user.
func (c *Client) clearRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.registered
	c.registered = false
	return was
}

func (c *Client) isRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// sendError pushes an error event to this client. The connection stays open.
func (c *Client) sendError(message string) {
	data, err := marshalEnvelope(EventError, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	c.trySend(data)
}

// readPump pumps events from the websocket connection into the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().
					Int64("userID", c.userID).
					Str("connID", c.id).
					Msg("WebSocket closed normally")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().
					Err(err).
					Int64("userID", c.userID).
					Str("connID", c.id).
					Msg("Unexpected WebSocket close")
			} else {
				c.logger.Debug().
					Err(err).
					Int64("userID", c.userID).
					Str("connID", c.id).
					Msg("WebSocket read error")
			}
			break
		}

		raw = bytes.TrimSpace(bytes.Replace(raw, newline, space, -1))

		if !c.hub.limiter.Allow(c.id) {
			c.sendError("rate limit exceeded")
			continue
		}

		var envelope inboundEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.logger.Debug().
				Err(err).
				Int64("userID", c.userID).
				Msg("Malformed event envelope")
			c.sendError("malformed event")
			continue
		}

		c.dispatch(&envelope)
	}
}

// dispatch routes an inbound event. Errors are reported back through the
// error event; the connection is never dropped for a bad event.
func (c *Client) dispatch(envelope *inboundEnvelope) {
	switch envelope.Event {
	case EventRegisterUser:
		c.handleRegisterUser(envelope.Data)
	case EventJoinChat:
		c.handleJoinChat(envelope.Data)
	case EventTyping, EventStopTyping:
		c.handleTyping(envelope.Event, envelope.Data)
	default:
		c.sendError("unknown event: " + envelope.Event)
	}
}

func (c *Client) handleRegisterUser(data json.RawMessage) {
	var payload RegisterUserPayload
	if err := decodePayload(data, &payload); err != nil {
		c.sendError(err.Error())
		return
	}

	// A connection can only register as its authenticated user.
	if payload.UserID != c.userID {
		c.logger.Warn().
			Int64("userID", c.userID).
			Int64("claimedID", payload.UserID).
			Msg("Register attempt for another user")
		c.sendError("cannot register as another user")
		return
	}

	first := c.hub.presence.Register(c.userID, c)
	c.markRegistered()
	metrics.OnlineUsers.Set(float64(c.hub.presence.OnlineCount()))

	if first {
		c.hub.BroadcastToAll(EventUserStatus, UserStatusPayload{
			UserID: c.userID,
			Online: true,
		})
	}

	// Sweep pending messages addressed to this user to delivered.
	if chat := c.hub.chatEvents(); chat != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			defer cancel()
			chat.MarkDeliveredForUser(ctx, c.userID)
		}()
	}
}

func (c *Client) handleJoinChat(data json.RawMessage) {
	var payload JoinChatPayload
	if err := decodePayload(data, &payload); err != nil {
		c.sendError(err.Error())
		return
	}

	chat := c.hub.chatEvents()
	if chat == nil {
		c.sendError("chat unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	ok, err := chat.CanAccessThread(ctx, payload.ThreadID, c.userID)
	if err != nil {
		c.logger.Error().
			Err(err).
			Int64("threadID", payload.ThreadID).
			Int64("userID", c.userID).
			Msg("Failed to check thread membership")
		c.sendError("failed to join chat")
		return
	}
	if !ok {
		c.sendError("you are not a participant of this chat")
		return
	}

	c.hub.JoinRoom(payload.ThreadID, c)
}

func (c *Client) handleTyping(event string, data json.RawMessage) {
	var payload TypingPayload
	if err := decodePayload(data, &payload); err != nil {
		c.sendError(err.Error())
		return
	}

	// Typing indicators always carry the authenticated user's identity.
	payload.UserID = c.userID

	if !c.hub.InRoom(payload.ThreadID, c) {
		c.sendError("join the chat before sending typing events")
		return
	}

	c.hub.BroadcastToThreadExcept(payload.ThreadID, c, event, payload)
}

// writePump pumps events from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued events
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
