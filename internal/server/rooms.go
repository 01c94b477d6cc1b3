package server

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

const historyLimit = 50

// Rooms tracks room membership by connection and a bounded in-memory chat
// history per room.
type Rooms struct {
	mu      sync.Mutex
	rooms   map[string]map[string]*roomMember // room id -> client id
	history map[string][]wire.RoomMessage
}

type roomMember struct {
	userID string
	muted  bool
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:   make(map[string]map[string]*roomMember),
		history: make(map[string][]wire.RoomMessage),
	}
}

func (r *Rooms) Join(roomID, clientID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*roomMember)
		r.rooms[roomID] = members
	}
	members[clientID] = &roomMember{userID: userID}
}

func (r *Rooms) Leave(roomID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, clientID)
}

// LeaveAll removes a departing connection from every room and returns the
// rooms it was in, so membership snapshots can be rebroadcast.
func (r *Rooms) LeaveAll(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []string
	for roomID, members := range r.rooms {
		if _, ok := members[clientID]; ok {
			left = append(left, roomID)
			r.leaveLocked(roomID, clientID)
		}
	}
	return left
}

func (r *Rooms) leaveLocked(roomID, clientID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		delete(r.history, roomID)
	}
}

func (r *Rooms) SetMuted(roomID, clientID string, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rooms[roomID][clientID]; ok {
		m.muted = muted
	}
}

// MemberClients lists the connection ids currently in a room.
func (r *Rooms) MemberClients(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms[roomID]))
	for clientID := range r.rooms[roomID] {
		out = append(out, clientID)
	}
	return out
}

// Roster builds the membership snapshot, one entry per identity. A user
// counts as muted only if every one of their connections is muted.
func (r *Rooms) Roster(roomID string) []wire.RoomMember {
	r.mu.Lock()
	defer r.mu.Unlock()
	muted := make(map[string]bool)
	for _, m := range r.rooms[roomID] {
		if prev, seen := muted[m.userID]; seen {
			muted[m.userID] = prev && m.muted
		} else {
			muted[m.userID] = m.muted
		}
	}
	out := make([]wire.RoomMember, 0, len(muted))
	for userID, m := range muted {
		out = append(out, wire.RoomMember{UserID: userID, Muted: m})
	}
	return out
}

// Append stores a chat message with a sortable id and returns it.
func (r *Rooms) Append(roomID, sender, body string, now time.Time) wire.RoomMessage {
	msg := wire.RoomMessage{
		ID:     ulid.Make().String(),
		RoomID: roomID,
		Sender: sender,
		Body:   body,
		SentAt: now,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := append(r.history[roomID], msg)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	r.history[roomID] = h
	return msg
}

func (r *Rooms) History(roomID string) []wire.RoomMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.RoomMessage, len(r.history[roomID]))
	copy(out, r.history[roomID])
	return out
}
