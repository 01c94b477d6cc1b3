package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(zerolog.Nop(), Options{})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, sig wire.Signal) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(sig))
}

// waitFor reads events until one of the given kind arrives. Unrelated
// events in between are discarded.
func waitFor(t *testing.T, conn *websocket.Conn, kind wire.EventKind) wire.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev wire.Event
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", kind)
		if ev.Kind == kind {
			return ev
		}
	}
}

func TestSubscribeAcksKnownState(t *testing.T) {
	_, ts := newTestServer(t)

	online := dial(t, ts, "alice")
	defer online.Close()

	watcher := dial(t, ts, "bob")
	send(t, watcher, wire.Signal{Kind: wire.SignalSubscribe, UserIDs: []string{"alice", "ghost"}})

	ev := waitFor(t, watcher, wire.EventAck)
	require.Len(t, ev.Ack, 2)
	byID := map[string]wire.AckEntry{}
	for _, e := range ev.Ack {
		byID[e.UserID] = e
	}
	require.True(t, byID["alice"].Online)
	require.False(t, byID["ghost"].Online)
}

func TestPresenceBroadcastToSubscribers(t *testing.T) {
	_, ts := newTestServer(t)

	watcher := dial(t, ts, "bob")
	send(t, watcher, wire.Signal{Kind: wire.SignalSubscribe, UserIDs: []string{"alice"}})
	waitFor(t, watcher, wire.EventAck)

	alice := dial(t, ts, "alice")
	ev := waitFor(t, watcher, wire.EventOnline)
	require.Equal(t, "alice", ev.UserID)

	alice.Close()
	ev = waitFor(t, watcher, wire.EventOffline)
	require.Equal(t, "alice", ev.UserID)
}

func TestSecondConnectionKeepsUserOnline(t *testing.T) {
	_, ts := newTestServer(t)

	watcher := dial(t, ts, "bob")
	send(t, watcher, wire.Signal{Kind: wire.SignalSubscribe, UserIDs: []string{"alice"}})
	waitFor(t, watcher, wire.EventAck)

	first := dial(t, ts, "alice")
	waitFor(t, watcher, wire.EventOnline)
	second := dial(t, ts, "alice")

	// Dropping one of two connections must not flip the user offline.
	first.Close()
	send(t, watcher, wire.Signal{Kind: wire.SignalSubscribe, UserIDs: []string{"alice"}})
	ev := waitFor(t, watcher, wire.EventAck)
	require.True(t, ev.Ack[0].Online)

	second.Close()
	waitFor(t, watcher, wire.EventOffline)
}

func TestFeedSnapshotAndUpdates(t *testing.T) {
	_, ts := newTestServer(t)

	dial(t, ts, "alice")

	watcher := dial(t, ts, "bob")
	send(t, watcher, wire.Signal{Kind: wire.SignalFeedSubscribe})
	ev := waitFor(t, watcher, wire.EventFeed)
	require.Contains(t, ev.Feed, "alice")

	dial(t, ts, "carol")
	for {
		ev = waitFor(t, watcher, wire.EventFeed)
		if len(ev.Feed) == 3 {
			break
		}
	}
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, ev.Feed)
}

func TestRoomJoinMessageAndHistory(t *testing.T) {
	_, ts := newTestServer(t)

	alice := dial(t, ts, "alice")
	send(t, alice, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	hist := waitFor(t, alice, wire.EventRoomHistory)
	require.Empty(t, hist.History)
	members := waitFor(t, alice, wire.EventRoomMembers)
	require.Len(t, members.Members, 1)

	bob := dial(t, ts, "bob")
	send(t, bob, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	members = waitFor(t, alice, wire.EventRoomMembers)
	require.Len(t, members.Members, 2)

	send(t, bob, wire.Signal{Kind: wire.SignalRoomMessage, RoomID: "den", Body: "hello"})
	msg := waitFor(t, alice, wire.EventRoomMessage)
	require.Equal(t, "bob", msg.Message.Sender)
	require.Equal(t, "hello", msg.Message.Body)
	require.NotEmpty(t, msg.Message.ID)

	// A late joiner replays the message from history.
	carol := dial(t, ts, "carol")
	send(t, carol, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	hist = waitFor(t, carol, wire.EventRoomHistory)
	require.Len(t, hist.History, 1)
	require.Equal(t, "hello", hist.History[0].Body)
}

func TestRoomLeaveUpdatesRoster(t *testing.T) {
	_, ts := newTestServer(t)

	alice := dial(t, ts, "alice")
	send(t, alice, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	waitFor(t, alice, wire.EventRoomMembers)

	bob := dial(t, ts, "bob")
	send(t, bob, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	waitFor(t, alice, wire.EventRoomMembers)

	send(t, bob, wire.Signal{Kind: wire.SignalRoomLeave, RoomID: "den"})
	members := waitFor(t, alice, wire.EventRoomMembers)
	require.Len(t, members.Members, 1)
	require.Equal(t, "alice", members.Members[0].UserID)
}

func TestTypingRelayExcludesSender(t *testing.T) {
	_, ts := newTestServer(t)

	alice := dial(t, ts, "alice")
	send(t, alice, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	waitFor(t, alice, wire.EventRoomMembers)

	bob := dial(t, ts, "bob")
	send(t, bob, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	waitFor(t, alice, wire.EventRoomMembers)

	send(t, bob, wire.Signal{Kind: wire.SignalTyping, RoomID: "den", Typing: true})
	ev := waitFor(t, alice, wire.EventTyping)
	require.Equal(t, "bob", ev.UserID)
	require.True(t, ev.Typing)

	// The sender sees nothing; the next event bob reads must not be the
	// typing echo. Probe with a message round trip.
	send(t, bob, wire.Signal{Kind: wire.SignalRoomMessage, RoomID: "den", Body: "probe"})
	got := waitFor(t, bob, wire.EventRoomMessage)
	require.Equal(t, "probe", got.Message.Body)
}

func TestLogoutBroadcastsOfflineImmediately(t *testing.T) {
	_, ts := newTestServer(t)

	watcher := dial(t, ts, "bob")
	send(t, watcher, wire.Signal{Kind: wire.SignalSubscribe, UserIDs: []string{"alice"}})
	waitFor(t, watcher, wire.EventAck)

	alice := dial(t, ts, "alice")
	waitFor(t, watcher, wire.EventOnline)

	// Logout flips the user offline without waiting for the socket close.
	send(t, alice, wire.Signal{Kind: wire.SignalLogout})
	ev := waitFor(t, watcher, wire.EventOffline)
	require.Equal(t, "alice", ev.UserID)
}

func TestActiveClearsServerIdle(t *testing.T) {
	srv, ts := newTestServer(t)

	watcher := dial(t, ts, "bob")
	send(t, watcher, wire.Signal{Kind: wire.SignalSubscribe, UserIDs: []string{"alice"}})
	waitFor(t, watcher, wire.EventAck)

	alice := dial(t, ts, "alice")
	waitFor(t, watcher, wire.EventOnline)

	// Force alice idle through the sweeper, then have her signal activity.
	srv.opts.IdleAfter = time.Nanosecond
	srv.sweepIdle(time.Now().Add(time.Minute))
	ev := waitFor(t, watcher, wire.EventIdle)
	require.Equal(t, "alice", ev.UserID)

	send(t, alice, wire.Signal{Kind: wire.SignalActive})
	ev = waitFor(t, watcher, wire.EventActive)
	require.Equal(t, "alice", ev.UserID)
}

func TestIdleReapDisconnects(t *testing.T) {
	srv, ts := newTestServer(t)

	alice := dial(t, ts, "alice")

	srv.opts.IdleAfter = time.Nanosecond
	srv.opts.ReapAfter = time.Millisecond
	srv.sweepIdle(time.Now().Add(time.Minute))
	srv.sweepIdle(time.Now().Add(2 * time.Minute))

	ev := waitFor(t, alice, wire.EventIdleDisconnect)
	require.Equal(t, wire.EventIdleDisconnect, ev.Kind)

	// The server closes the connection shortly after.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var next wire.Event
		if err := alice.ReadJSON(&next); err != nil {
			break
		}
	}
}

func TestNotifyPushesCountersAndRESTSnapshots(t *testing.T) {
	_, ts := newTestServer(t)

	alice := dial(t, ts, "alice")
	send(t, alice, wire.Signal{Kind: wire.SignalRoomJoin, RoomID: "den"})
	waitFor(t, alice, wire.EventRoomMembers)

	body, err := json.Marshal(map[string]any{
		"user_id": "alice",
		"counters": wire.Counters{
			Notifications: 2,
			Messages:      map[string]int{"direct": 3},
		},
	})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/notify", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ev := waitFor(t, alice, wire.EventCounters)
	require.Equal(t, 2, ev.Counters.Notifications)
	require.Equal(t, 3, ev.Counters.TotalMessages())

	var counters wire.Counters
	getJSON(t, ts.URL+"/api/counters?user=alice", &counters)
	require.Equal(t, 2, counters.Notifications)

	var feed []string
	getJSON(t, ts.URL+"/api/feed", &feed)
	require.Contains(t, feed, "alice")

	var roster []wire.RoomMember
	getJSON(t, ts.URL+"/api/rooms/den/roster", &roster)
	require.Len(t, roster, 1)
	require.Equal(t, "alice", roster[0].UserID)
}

func TestRealtimeRejectsAnonymous(t *testing.T) {
	_, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}
