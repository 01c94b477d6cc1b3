// Package server is the testbed presence server: the authoritative
// collaborator the client layer talks to, used by the e2e tests and for
// local development. It speaks the pkg/wire protocol over a websocket and
// serves the REST snapshot endpoints the client hydrates from.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

type Options struct {
	// IdleAfter declares a user idle after this long without an active
	// signal; zero disables.
	IdleAfter time.Duration
	// ReapAfter disconnects an idle session after this long; zero disables.
	ReapAfter time.Duration
}

type Server struct {
	log   zerolog.Logger
	opts  Options
	hub   *Hub
	state *State
	rooms *Rooms

	upgrader websocket.Upgrader
}

func New(log zerolog.Logger, opts Options) *Server {
	return &Server{
		log:   log,
		opts:  opts,
		hub:   NewHub(),
		state: NewState(),
		rooms: NewRooms(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/realtime", s.realtimeWebSocket)
	r.Get("/api/counters", s.getCounters)
	r.Get("/api/feed", s.getFeed)
	r.Get("/api/rooms/{roomID}/roster", s.getRoster)
	r.Post("/api/notify", s.postNotify)
	return r
}

// Run drives the idle sweeper until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	if s.opts.IdleAfter <= 0 && s.opts.ReapAfter <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepIdle(now)
		}
	}
}

func (s *Server) sweepIdle(now time.Time) {
	idled, reaped := s.state.SweepIdle(now, s.opts.IdleAfter, s.opts.ReapAfter)
	for _, userID := range idled {
		s.log.Debug().Str("user", userID).Msg("declared idle")
		s.hub.PublishSubject(userID, wire.Event{Kind: wire.EventIdle, UserID: userID})
	}
	for _, userID := range reaped {
		s.log.Debug().Str("user", userID).Msg("reaping idle session")
		for _, client := range s.hub.ClientsOfUser(userID) {
			id := client.ID()
			s.hub.QueueTo(id, wire.Event{Kind: wire.EventIdleDisconnect})
			// Give the write loop a moment to flush before the close.
			time.AfterFunc(100*time.Millisecond, func() { s.hub.Unregister(id) })
		}
	}
}

func (s *Server) realtimeWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := NewClient(uuid.NewString(), userID, conn)
	s.hub.Register(client)
	defer s.dropClient(client)

	go client.WriteLoop()

	if s.state.ConnectUser(userID, time.Now()) {
		s.publishPresence(userID, wire.EventOnline)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sig wire.Signal
		if err := json.Unmarshal(raw, &sig); err != nil {
			s.log.Warn().Err(err).Msg("malformed signal skipped")
			continue
		}
		s.handleSignal(client, sig)
	}
}

func (s *Server) dropClient(client *Client) {
	s.hub.Unregister(client.ID())
	for _, roomID := range s.rooms.LeaveAll(client.ID()) {
		s.broadcastRoomMembers(roomID)
	}
	if s.state.DisconnectUser(client.UserID()) {
		s.publishPresence(client.UserID(), wire.EventOffline)
	}
}

func (s *Server) handleSignal(client *Client, sig wire.Signal) {
	switch sig.Kind {
	case wire.SignalSubscribe:
		client.Subscribe(sig.UserIDs)
		ack := make([]wire.AckEntry, 0, len(sig.UserIDs))
		for _, id := range sig.UserIDs {
			ack = append(ack, s.state.Entry(id))
		}
		client.Queue(wire.Event{Kind: wire.EventAck, Ack: ack})

	case wire.SignalUnsubscribe:
		client.Unsubscribe(sig.UserIDs)

	case wire.SignalFeedSubscribe:
		client.SetFeed(true)
		client.Queue(wire.Event{Kind: wire.EventFeed, Feed: s.state.OnlineIDs()})

	case wire.SignalFeedUnsubscribe:
		client.SetFeed(false)

	case wire.SignalRoomJoin:
		if sig.RoomID == "" {
			return
		}
		s.rooms.Join(sig.RoomID, client.ID(), client.UserID())
		client.Queue(wire.Event{
			Kind:    wire.EventRoomHistory,
			RoomID:  sig.RoomID,
			History: s.rooms.History(sig.RoomID),
		})
		s.broadcastRoomMembers(sig.RoomID)

	case wire.SignalRoomLeave:
		s.rooms.Leave(sig.RoomID, client.ID())
		s.broadcastRoomMembers(sig.RoomID)

	case wire.SignalRoomMute:
		s.rooms.SetMuted(sig.RoomID, client.ID(), sig.Muted)
		s.broadcastRoomMembers(sig.RoomID)

	case wire.SignalRoomMessage:
		if sig.RoomID == "" || sig.Body == "" {
			return
		}
		msg := s.rooms.Append(sig.RoomID, client.UserID(), sig.Body, time.Now())
		ev := wire.Event{Kind: wire.EventRoomMessage, RoomID: sig.RoomID, Message: &msg}
		for _, clientID := range s.rooms.MemberClients(sig.RoomID) {
			s.hub.QueueTo(clientID, ev)
		}

	case wire.SignalTyping:
		ev := wire.Event{
			Kind:   wire.EventTyping,
			RoomID: sig.RoomID,
			UserID: client.UserID(),
			Typing: sig.Typing,
		}
		for _, clientID := range s.rooms.MemberClients(sig.RoomID) {
			if clientID == client.ID() {
				continue
			}
			s.hub.QueueTo(clientID, ev)
		}

	case wire.SignalActive:
		if s.state.Active(client.UserID(), time.Now()) {
			s.hub.PublishSubject(client.UserID(), wire.Event{Kind: wire.EventActive, UserID: client.UserID()})
		}

	case wire.SignalLogout:
		// Broadcast offline immediately instead of waiting for the
		// transport timeout.
		if s.state.ForceOffline(client.UserID()) {
			s.publishPresence(client.UserID(), wire.EventOffline)
		}

	default:
		s.log.Debug().Str("kind", string(sig.Kind)).Msg("unknown signal skipped")
	}
}

// publishPresence fans an online/offline transition out to subject
// subscribers and refreshes the aggregate feed.
func (s *Server) publishPresence(userID string, kind wire.EventKind) {
	s.hub.PublishSubject(userID, wire.Event{Kind: kind, UserID: userID})
	s.hub.PublishFeed(wire.Event{Kind: wire.EventFeed, Feed: s.state.OnlineIDs()})
}

func (s *Server) broadcastRoomMembers(roomID string) {
	ev := wire.Event{
		Kind:    wire.EventRoomMembers,
		RoomID:  roomID,
		Members: s.rooms.Roster(roomID),
	}
	for _, clientID := range s.rooms.MemberClients(roomID) {
		s.hub.QueueTo(clientID, ev)
	}
}

// NotifyUser replaces a user's unread totals and pushes the update to all
// of their connections. The POST /api/notify test hook lands here.
func (s *Server) NotifyUser(userID string, counters wire.Counters) {
	s.state.SetCounters(userID, counters)
	ev := wire.Event{Kind: wire.EventCounters, Counters: &counters}
	for _, client := range s.hub.ClientsOfUser(userID) {
		s.hub.QueueTo(client.ID(), ev)
	}
}

func (s *Server) getCounters(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	writeJSON(w, s.state.Counters(userID))
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.state.OnlineIDs())
}

func (s *Server) getRoster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rooms.Roster(chi.URLParam(r, "roomID")))
}

func (s *Server) postNotify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string        `json:"user_id"`
		Counters wire.Counters `json:"counters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.NotifyUser(req.UserID, req.Counters)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
	}
}
