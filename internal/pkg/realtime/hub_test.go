package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/demir/mentora/internal/pkg/presence"
	"github.com/demir/mentora/internal/pkg/ratelimit"
)

type fakeChatEvents struct {
	access    map[int64]bool
	delivered chan int64
}

func (f *fakeChatEvents) MarkDeliveredForUser(ctx context.Context, userID int64) {
	if f.delivered != nil {
		f.delivered <- userID
	}
}

func (f *fakeChatEvents) CanAccessThread(ctx context.Context, threadID, userID int64) (bool, error) {
	return f.access[threadID], nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	limiter := ratelimit.NewLimiterStore(10000, 10000, time.Minute)
	t.Cleanup(limiter.Stop)

	hub := NewHub(presence.NewRegistry(), limiter, 16, zerolog.Nop())
	go hub.Run()
	return hub
}

func newTestClient(hub *Hub, userID int64) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, hub.sendBufferSize),
		id:     uuid.New().String(),
		userID: userID,
		logger: zerolog.Nop(),
	}
}

// recvEvent waits for the next envelope on the client's send channel.
func recvEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		return envelope
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Envelope{}
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func registerUser(t *testing.T, c *Client) {
	t.Helper()
	payload, _ := json.Marshal(RegisterUserPayload{UserID: c.userID})
	c.handleRegisterUser(payload)
}

func TestRegisterUserSpoofGuard(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, 1)

	payload, _ := json.Marshal(RegisterUserPayload{UserID: 2})
	c.handleRegisterUser(payload)

	envelope := recvEvent(t, c)
	if envelope.Event != EventError {
		t.Errorf("event = %q, want %q", envelope.Event, EventError)
	}
	if hub.presence.IsOnline(1) || hub.presence.IsOnline(2) {
		t.Error("no user should be online after a rejected registration")
	}
}

func TestRegisterUserBroadcastsOnlineStatus(t *testing.T) {
	hub := newTestHub(t)
	c1 := newTestClient(hub, 1)
	c2 := newTestClient(hub, 2)

	registerUser(t, c1)
	// Own online broadcast reaches the freshly registered connection.
	if e := recvEvent(t, c1); e.Event != EventUserStatus {
		t.Fatalf("event = %q, want %q", e.Event, EventUserStatus)
	}

	registerUser(t, c2)
	envelope := recvEvent(t, c1)
	if envelope.Event != EventUserStatus {
		t.Fatalf("event = %q, want %q", envelope.Event, EventUserStatus)
	}
	data, _ := json.Marshal(envelope.Data)
	var status UserStatusPayload
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if status.UserID != 2 || !status.Online {
		t.Errorf("payload = %+v, want userID 2 online", status)
	}

	if !hub.presence.IsOnline(1) || !hub.presence.IsOnline(2) {
		t.Error("both users should be online")
	}
}

func TestRegisterUserTriggersDeliveredSweep(t *testing.T) {
	hub := newTestHub(t)
	chat := &fakeChatEvents{delivered: make(chan int64, 1)}
	hub.SetChatEvents(chat)

	c := newTestClient(hub, 7)
	registerUser(t, c)

	select {
	case userID := <-chat.delivered:
		if userID != 7 {
			t.Errorf("sweep ran for user %d, want 7", userID)
		}
	case <-time.After(time.Second):
		t.Fatal("delivered sweep never ran")
	}
}

func TestJoinChatMembershipCheck(t *testing.T) {
	hub := newTestHub(t)
	hub.SetChatEvents(&fakeChatEvents{access: map[int64]bool{10: true}})

	c := newTestClient(hub, 1)

	allowed, _ := json.Marshal(JoinChatPayload{ThreadID: 10})
	c.handleJoinChat(allowed)
	if !hub.InRoom(10, c) {
		t.Error("client should be in room 10 after an allowed join")
	}

	denied, _ := json.Marshal(JoinChatPayload{ThreadID: 11})
	c.handleJoinChat(denied)
	if hub.InRoom(11, c) {
		t.Error("client must not join a thread it cannot access")
	}
	if e := recvEvent(t, c); e.Event != EventError {
		t.Errorf("event = %q, want %q", e.Event, EventError)
	}
}

func TestTypingRelayExcludesSender(t *testing.T) {
	hub := newTestHub(t)
	sender := newTestClient(hub, 1)
	receiver := newTestClient(hub, 2)
	hub.JoinRoom(5, sender)
	hub.JoinRoom(5, receiver)

	payload, _ := json.Marshal(TypingPayload{ThreadID: 5, UserID: 99})
	sender.handleTyping(EventTyping, payload)

	envelope := recvEvent(t, receiver)
	if envelope.Event != EventTyping {
		t.Fatalf("event = %q, want %q", envelope.Event, EventTyping)
	}
	data, _ := json.Marshal(envelope.Data)
	var typing TypingPayload
	if err := json.Unmarshal(data, &typing); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	// userId is forced to the authenticated user, whatever the client sent.
	if typing.UserID != 1 {
		t.Errorf("relayed userID = %d, want 1", typing.UserID)
	}

	expectNoEvent(t, sender)
}

func TestTypingRequiresRoomMembership(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, 1)

	payload, _ := json.Marshal(TypingPayload{ThreadID: 5, UserID: 1})
	c.handleTyping(EventTyping, payload)

	if e := recvEvent(t, c); e.Event != EventError {
		t.Errorf("event = %q, want %q", e.Event, EventError)
	}
}

func TestBroadcastToUserReachesAllConnections(t *testing.T) {
	hub := newTestHub(t)
	c1 := newTestClient(hub, 3)
	c2 := newTestClient(hub, 3)
	hub.presence.Register(3, c1)
	hub.presence.Register(3, c2)

	hub.BroadcastToUser(3, EventMessagesRead, MessagesReadPayload{ThreadID: 1, ReadBy: 4, Count: 2})

	for _, c := range []*Client{c1, c2} {
		if e := recvEvent(t, c); e.Event != EventMessagesRead {
			t.Errorf("event = %q, want %q", e.Event, EventMessagesRead)
		}
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, 1)
	hub.JoinRoom(9, c)

	// Fill the send buffer so the next broadcast cannot be queued.
	for i := 0; i < hub.sendBufferSize; i++ {
		c.send <- []byte("{}")
	}

	hub.BroadcastToThread(9, EventTyping, TypingPayload{ThreadID: 9, UserID: 2})

	deadline := time.After(time.Second)
	for hub.RoomSize(9) != 0 {
		select {
		case <-deadline:
			t.Fatal("slow client was never removed from the room")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLastDisconnectBroadcastsOffline(t *testing.T) {
	hub := newTestHub(t)
	c1 := newTestClient(hub, 1)
	c2 := newTestClient(hub, 1)
	observer := newTestClient(hub, 2)

	registerUser(t, c1)
	registerUser(t, c2)
	registerUser(t, observer)
	for _, c := range []*Client{c1, c2, observer} {
		for len(c.send) > 0 {
			<-c.send
		}
	}

	hub.unregister <- c1
	expectNoEvent(t, observer)

	hub.unregister <- c2
	envelope := recvEvent(t, observer)
	if envelope.Event != EventUserStatus {
		t.Fatalf("event = %q, want %q", envelope.Event, EventUserStatus)
	}
	data, _ := json.Marshal(envelope.Data)
	var status UserStatusPayload
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if status.UserID != 1 || status.Online || status.LastSeen == nil {
		t.Errorf("payload = %+v, want userID 1 offline with lastSeen", status)
	}
}
