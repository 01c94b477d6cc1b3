// Package wire defines the JSON envelope protocol spoken between a pulse
// client session and a presence server. Both sides of the repository (the
// client layer under internal/ and the testbed server) share these types;
// external servers implementing the protocol should too.
package wire

import "time"

type SignalKind string

const (
	SignalSubscribe       SignalKind = "subscribe"
	SignalUnsubscribe     SignalKind = "unsubscribe"
	SignalFeedSubscribe   SignalKind = "feed_subscribe"
	SignalFeedUnsubscribe SignalKind = "feed_unsubscribe"
	SignalRoomJoin        SignalKind = "room_join"
	SignalRoomLeave       SignalKind = "room_leave"
	SignalRoomMessage     SignalKind = "room_message"
	SignalRoomMute        SignalKind = "room_mute"
	SignalTyping          SignalKind = "typing"
	SignalActive          SignalKind = "active"
	SignalLogout          SignalKind = "logout"
)

// Signal is the client-to-server envelope. Unused fields stay zero and are
// omitted on the wire.
type Signal struct {
	Kind    SignalKind `json:"kind"`
	UserIDs []string   `json:"user_ids,omitempty"`
	RoomID  string     `json:"room_id,omitempty"`
	Body    string     `json:"body,omitempty"`
	Typing  bool       `json:"typing,omitempty"`
	Muted   bool       `json:"muted,omitempty"`
}

type EventKind string

const (
	EventAck            EventKind = "ack"
	EventOnline         EventKind = "online"
	EventOffline        EventKind = "offline"
	EventIdle           EventKind = "idle"
	EventActive         EventKind = "active"
	EventFeed           EventKind = "feed"
	EventRoomMembers    EventKind = "room_members"
	EventRoomMessage    EventKind = "room_message"
	EventRoomHistory    EventKind = "room_history"
	EventTyping         EventKind = "typing"
	EventCounters       EventKind = "counters"
	EventIdleDisconnect EventKind = "idle_disconnect"

	// Synthesized client-side on transport lifecycle changes; never sent
	// by a server.
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// Event is the server-to-client envelope.
type Event struct {
	Kind     EventKind     `json:"kind"`
	UserID   string        `json:"user_id,omitempty"`
	RoomID   string        `json:"room_id,omitempty"`
	Ack      []AckEntry    `json:"ack,omitempty"`
	Feed     []string      `json:"feed,omitempty"`
	Members  []RoomMember  `json:"members,omitempty"`
	Message  *RoomMessage  `json:"message,omitempty"`
	History  []RoomMessage `json:"history,omitempty"`
	Typing   bool          `json:"typing,omitempty"`
	Counters *Counters     `json:"counters,omitempty"`
}

// AckEntry reports the server-known state of one subscribed subject.
type AckEntry struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
	Idle   bool   `json:"idle"`
}

type RoomMember struct {
	UserID string `json:"user_id"`
	Muted  bool   `json:"muted,omitempty"`
}

type RoomMessage struct {
	ID     string    `json:"id"`
	RoomID string    `json:"room_id"`
	Sender string    `json:"sender"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// Counters carries the authoritative unread totals. Each push replaces the
// client mirror wholesale; nothing is accumulated client-side.
type Counters struct {
	Notifications int            `json:"notifications"`
	Messages      map[string]int `json:"messages,omitempty"`
}

// TotalMessages sums the per-category unread message counts.
func (c Counters) TotalMessages() int {
	total := 0
	for _, n := range c.Messages {
		total += n
	}
	return total
}
