// Package session owns the one transport connection a signed-in client
// holds, and everything that hangs off it: the ref-counted interest
// registry, the presence and typing mirrors, callback dispatch, activity
// tracking and the notification sound gate. All of it is scoped to the
// Session value, constructed at sign-in and torn down at sign-out, so no
// state leaks across sessions or tests.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelsocial/pulse/internal/activity"
	"github.com/kestrelsocial/pulse/internal/clientenv"
	"github.com/kestrelsocial/pulse/internal/dispatch"
	"github.com/kestrelsocial/pulse/internal/ephemeral"
	"github.com/kestrelsocial/pulse/internal/interest"
	"github.com/kestrelsocial/pulse/internal/presence"
	"github.com/kestrelsocial/pulse/internal/rest"
	"github.com/kestrelsocial/pulse/internal/sound"
	"github.com/kestrelsocial/pulse/pkg/wire"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const dialTimeout = 10 * time.Second

type Session struct {
	cfg Config
	env clientenv.Env
	log zerolog.Logger

	// Dialer may be replaced before the first Connect; tests install a
	// scripted transport here.
	Dialer Dialer

	interests *interest.Registry
	presence  *presence.Store
	typing    *ephemeral.TypingStore
	registry  *dispatch.Registry
	tracker   *activity.Tracker
	gate      *sound.Gate
	snapshots *rest.Client
	retry     *backoff

	mu  sync.Mutex
	wmu sync.Mutex // transport has a single writer

	status           Status
	gen              int // connection generation; stales abandoned run loops
	conn             Conn
	connectedCh      chan struct{}
	chClosed         bool
	wasEverConnected bool
	dialedOnce       bool
	idleDisconnect   bool
	suppressRetry    bool
	closed           bool

	feedSubscribed bool
	rooms          map[string]bool // room id -> muted
	counters       wire.Counters

	sweepCancel context.CancelFunc
	cancelVis   clientenv.CancelFunc
}

func New(cfg Config, env clientenv.Env, log zerolog.Logger) *Session {
	if env == nil {
		env = clientenv.System{}
	}
	s := &Session{
		cfg:         cfg,
		env:         env,
		log:         log,
		Dialer:      WebsocketDialer,
		interests:   interest.NewRegistry(cfg.InterestLimit),
		presence:    presence.NewStore(log),
		typing:      ephemeral.NewTypingStore(env, cfg.TypingTTL),
		registry:    dispatch.NewRegistry(log),
		gate:        sound.NewGate(env, log, cfg.SoundCooldown),
		retry:       newBackoff(cfg.BackoffStep, cfg.BackoffMax),
		status:      StatusDisconnected,
		connectedCh: make(chan struct{}),
		rooms:       make(map[string]bool),
	}
	if cfg.APIBase != "" {
		s.snapshots = rest.NewClient(cfg.APIBase, log)
	}
	s.tracker = activity.NewTracker(env, log, func() {
		s.sendSignal(wire.Signal{Kind: wire.SignalActive})
	}, cfg.ActiveThrottle)
	s.tracker.Start()

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go s.typing.Run(sweepCtx, cfg.SweepInterval)

	s.cancelVis = env.Visibility(func(foreground bool) {
		if foreground {
			go s.Refresh()
		}
	})
	return s
}

// Connect starts the transport. Idempotent: a second call while connecting
// or connected is a no-op, and so is a call without identity or endpoint.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cfg.Identity == "" || s.cfg.APIBase == "" {
		return
	}
	if s.status != StatusDisconnected {
		return
	}
	s.status = StatusConnecting
	s.suppressRetry = false
	s.gen++
	go s.run(s.gen)
}

// Reconnect re-initiates a session that has connected before and is now
// disconnected (after an idle-disconnect, typically). Registered callbacks
// and declared interests are kept. Invalid otherwise; no-ops.
func (s *Session) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.dialedOnce || s.status != StatusDisconnected {
		return
	}
	s.status = StatusConnecting
	s.suppressRetry = false
	s.gen++
	go s.run(s.gen)
}

// Disconnect is the sign-out path: it tells the server this identity is
// leaving (so it can broadcast offline immediately instead of waiting for
// a transport timeout), tears the transport down and clears every piece
// of derived state including wasEverConnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	connected := s.status == StatusConnected
	s.gen++
	s.conn = nil
	s.status = StatusDisconnected
	s.wasEverConnected = false
	s.dialedOnce = false
	s.idleDisconnect = false
	s.feedSubscribed = false
	s.rooms = make(map[string]bool)
	s.counters = wire.Counters{}
	s.interests.Reset()
	s.resetConnectedChLocked()
	s.mu.Unlock()

	if connected && conn != nil {
		s.write(conn, wire.Signal{Kind: wire.SignalLogout})
	}
	if conn != nil {
		conn.Close()
	}
	s.presence.Reset()
	s.typing.Reset()
	s.tracker.SetConnected(false)
	s.registry.Dispatch(dispatch.ChannelConnection, wire.Event{Kind: wire.EventDisconnected})
}

// Close tears the whole session down. The session cannot be reused.
func (s *Session) Close() {
	s.Disconnect()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sweepCancel()
	if s.cancelVis != nil {
		s.cancelVis()
	}
	s.tracker.Stop()
	s.gate.Close()
}

// WaitConnected blocks until the transport is connected or ctx expires.
// Callers that must not emit a room join before the transport is ready
// wait here instead of polling.
func (s *Session) WaitConnected(ctx context.Context) bool {
	s.mu.Lock()
	if s.status == StatusConnected {
		s.mu.Unlock()
		return true
	}
	ch := s.connectedCh
	s.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) run(gen int) {
	for {
		conn, err := s.dialOnce()
		if err != nil {
			if s.stale(gen) {
				return
			}
			s.log.Debug().Err(err).Msg("dial failed")
			if !s.waitRetry(gen) {
				return
			}
			continue
		}
		if !s.attach(gen, conn) {
			conn.Close()
			return
		}
		s.registry.Dispatch(dispatch.ChannelConnection, wire.Event{Kind: wire.EventConnected})
		s.replay(conn)
		go s.Refresh()

		s.readLoop(conn)

		if !s.onDrop(gen) {
			return
		}
		if !s.waitRetry(gen) {
			return
		}
	}
}

func (s *Session) dialOnce() (Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	u := s.cfg.RealtimeURL() + "?user=" + url.QueryEscape(s.cfg.Identity)
	return s.Dialer(ctx, u, http.Header{})
}

func (s *Session) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || gen != s.gen
}

func (s *Session) attach(gen int, conn Conn) bool {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.conn = conn
	s.status = StatusConnected
	s.wasEverConnected = true
	s.dialedOnce = true
	s.idleDisconnect = false
	if !s.chClosed {
		close(s.connectedCh)
		s.chClosed = true
	}
	s.retry.Reset()
	s.mu.Unlock()

	s.tracker.SetConnected(true)
	// The one sanctioned optimistic write: our own avatar must not flicker
	// offline on our own screen while the server's ack is in flight.
	s.presence.SetSelfOptimistic(s.cfg.Identity)
	return true
}

// replay pushes the full client intent at the server after a (re)connect:
// the current interest set as one batch, the feed flag, and the rooms we
// were in. The server replies with a consolidated ack, so state converges
// without each UI component resubscribing itself.
func (s *Session) replay(conn Conn) {
	s.mu.Lock()
	ids := s.interests.Keys()
	feed := s.feedSubscribed
	rooms := make(map[string]bool, len(s.rooms))
	for id, muted := range s.rooms {
		rooms[id] = muted
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		s.write(conn, wire.Signal{Kind: wire.SignalSubscribe, UserIDs: ids})
	}
	if feed {
		s.write(conn, wire.Signal{Kind: wire.SignalFeedSubscribe})
	}
	for id, muted := range rooms {
		s.write(conn, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: id})
		if muted {
			s.write(conn, wire.Signal{Kind: wire.SignalRoomMute, RoomID: id, Muted: true})
		}
	}
	s.write(conn, wire.Signal{Kind: wire.SignalActive})
}

func (s *Session) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev wire.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.log.Warn().Err(err).Msg("malformed event skipped")
			continue
		}
		s.handle(ev)
	}
}

// onDrop handles a transport-level disconnect. Presence and typing state
// are wiped: no events arrived during the gap, so a mirrored "online" is
// actively misleading. Returns false when the run loop should stop
// instead of retrying.
func (s *Session) onDrop(gen int) bool {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return false
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	retrying := !s.suppressRetry
	if retrying {
		s.status = StatusConnecting
	} else {
		s.status = StatusDisconnected
	}
	s.resetConnectedChLocked()
	s.mu.Unlock()

	s.presence.Reset()
	s.typing.Reset()
	s.tracker.SetConnected(false)
	s.registry.Dispatch(dispatch.ChannelConnection, wire.Event{Kind: wire.EventDisconnected})
	return retrying
}

func (s *Session) resetConnectedChLocked() {
	if s.chClosed {
		s.connectedCh = make(chan struct{})
		s.chClosed = false
	}
}

// waitRetry sits out the next backoff delay on the env scheduler, so the
// fake clock controls retry timing in tests. Returns false when the run
// loop should stop instead of redialing.
func (s *Session) waitRetry(gen int) bool {
	fired := make(chan struct{})
	cancel := s.env.AfterFunc(s.retry.Next(), func() { close(fired) })
	defer cancel()
	<-fired
	return !s.stale(gen)
}

// AddInterest declares interest in the given subjects. Ids crossing the
// 0→1 boundary are subscribed in one batch; anything evicted to stay
// under the registry bound is unsubscribed explicitly.
func (s *Session) AddInterest(ids []string) {
	subscribe, evicted := s.interests.Add(ids)
	if len(evicted) > 0 {
		s.sendSignal(wire.Signal{Kind: wire.SignalUnsubscribe, UserIDs: evicted})
	}
	if len(subscribe) > 0 {
		s.sendSignal(wire.Signal{Kind: wire.SignalSubscribe, UserIDs: subscribe})
	}
}

// RemoveInterest releases interest; ids reaching refcount zero are
// unsubscribed in one batch.
func (s *Session) RemoveInterest(ids []string) {
	if unsubscribe := s.interests.Remove(ids); len(unsubscribe) > 0 {
		s.sendSignal(wire.Signal{Kind: wire.SignalUnsubscribe, UserIDs: unsubscribe})
	}
}

// SubscribeFeed turns on the aggregate who's-online feed.
func (s *Session) SubscribeFeed() {
	s.mu.Lock()
	s.feedSubscribed = true
	s.mu.Unlock()
	s.sendSignal(wire.Signal{Kind: wire.SignalFeedSubscribe})
}

func (s *Session) UnsubscribeFeed() {
	s.mu.Lock()
	s.feedSubscribed = false
	s.mu.Unlock()
	s.sendSignal(wire.Signal{Kind: wire.SignalFeedUnsubscribe})
}

// JoinRoom registers membership and emits the join when connected. The
// membership is part of the replay set, so a reconnect rejoins it.
func (s *Session) JoinRoom(roomID string) {
	if roomID == "" {
		return
	}
	s.mu.Lock()
	s.rooms[roomID] = false
	s.mu.Unlock()
	s.sendSignal(wire.Signal{Kind: wire.SignalRoomJoin, RoomID: roomID})
}

func (s *Session) LeaveRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	s.sendSignal(wire.Signal{Kind: wire.SignalRoomLeave, RoomID: roomID})
}

func (s *Session) SetRoomMuted(roomID string, muted bool) {
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; !ok {
		s.mu.Unlock()
		return
	}
	s.rooms[roomID] = muted
	s.mu.Unlock()
	s.sendSignal(wire.Signal{Kind: wire.SignalRoomMute, RoomID: roomID, Muted: muted})
}

func (s *Session) SendRoomMessage(roomID, body string) {
	if roomID == "" || body == "" {
		return
	}
	s.sendSignal(wire.Signal{Kind: wire.SignalRoomMessage, RoomID: roomID, Body: body})
}

// SetTyping emits a raw typing signal. UI composers should go through
// NewComposer instead, which debounces.
func (s *Session) SetTyping(roomID string, typing bool) {
	s.sendSignal(wire.Signal{Kind: wire.SignalTyping, RoomID: roomID, Typing: typing})
}

// NewComposer returns a typing-debounce helper bound to this session.
func (s *Session) NewComposer() *ephemeral.Composer {
	return ephemeral.NewComposer(s.env, s.SetTyping)
}

// On registers a callback on a dispatch channel. The returned disposer
// must run on the owning component's teardown.
func (s *Session) On(ch dispatch.Channel, cb dispatch.Callback) dispatch.Disposer {
	return s.registry.Register(ch, cb)
}

// Presence exposes the read-only presence mirror.
func (s *Session) Presence() *presence.Store { return s.presence }

// TypingIn lists who is typing in a room, excluding the current identity.
func (s *Session) TypingIn(roomID string) []string {
	return s.typing.TypingIn(roomID, s.cfg.Identity)
}

// Counters returns a copy of the current unread mirror.
func (s *Session) Counters() wire.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := wire.Counters{Notifications: s.counters.Notifications}
	if s.counters.Messages != nil {
		out.Messages = make(map[string]int, len(s.counters.Messages))
		for k, v := range s.counters.Messages {
			out.Messages[k] = v
		}
	}
	return out
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// WasEverConnected distinguishes "first load" from "recovered from a real
// drop" for reconnect banners.
func (s *Session) WasEverConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wasEverConnected
}

// DisconnectedDueToIdle reports whether the last disconnect was the
// server reaping an idle session, so the UI can frame it gently.
func (s *Session) DisconnectedDueToIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleDisconnect
}

// Refresh re-reads the REST snapshots to correct for events missed while
// disconnected or backgrounded. Failures are dropped; the live stream or
// the next refresh self-heals.
func (s *Session) Refresh() {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if counters, err := s.snapshots.Counters(ctx, s.cfg.Identity); err == nil {
		s.applyCounters(*counters)
		s.registry.Dispatch(dispatch.ChannelCounters, wire.Event{Kind: wire.EventCounters, Counters: counters})
	}
	if feed, err := s.snapshots.Feed(ctx); err == nil {
		s.registry.Dispatch(dispatch.ChannelOnlineFeed, wire.Event{Kind: wire.EventFeed, Feed: feed})
	}
	s.mu.Lock()
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	s.mu.Unlock()
	for _, id := range rooms {
		if members, err := s.snapshots.Roster(ctx, id); err == nil {
			s.registry.Dispatch(dispatch.ChannelRoom, wire.Event{Kind: wire.EventRoomMembers, RoomID: id, Members: members})
		}
	}
}

func (s *Session) applyCounters(c wire.Counters) {
	s.mu.Lock()
	s.counters = c
	s.mu.Unlock()

	// Each counter is judged against its own history, so a category
	// increase still alerts when the same push carries a larger mark-read
	// decrease elsewhere.
	counts := make(map[string]int, len(c.Messages)+1)
	counts["notifications"] = c.Notifications
	for category, n := range c.Messages {
		counts["messages/"+category] = n
	}
	s.gate.ObserveSet(counts)
}

func (s *Session) sendSignal(sig wire.Signal) {
	s.mu.Lock()
	conn := s.conn
	ok := s.status == StatusConnected && conn != nil
	s.mu.Unlock()
	if !ok {
		// Silently dropped; the resubscribe replay corrects server state
		// on the next connect.
		return
	}
	s.write(conn, sig)
}

func (s *Session) write(conn Conn, sig wire.Signal) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := conn.WriteJSON(sig); err != nil {
		s.log.Debug().Err(err).Str("kind", string(sig.Kind)).Msg("signal write failed")
	}
}
