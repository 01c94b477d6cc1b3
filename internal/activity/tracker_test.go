package activity

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsocial/pulse/internal/clientenv"
)

func newTracker(env *clientenv.Fake) (*Tracker, *int) {
	var sent int
	tr := NewTracker(env, zerolog.Nop(), func() { sent++ }, 30*time.Second)
	return tr, &sent
}

func TestTracker_ThrottledWhileActive(t *testing.T) {
	env := clientenv.NewFake()
	tr, sent := newTracker(env)
	tr.Start()
	tr.SetConnected(true)

	env.Touch()
	env.Touch()
	env.Touch()
	require.Equal(t, 1, *sent, "burst collapses to one signal inside the throttle window")

	env.Advance(30 * time.Second)
	env.Touch()
	require.Equal(t, 2, *sent)
}

func TestTracker_IdleBypassesThrottle(t *testing.T) {
	env := clientenv.NewFake()
	tr, sent := newTracker(env)
	tr.Start()
	tr.SetConnected(true)

	env.Touch()
	require.Equal(t, 1, *sent)

	// Server declares us idle one second later; the very next activity
	// must emit immediately even though the throttle window is open.
	env.Advance(time.Second)
	tr.ServerIdle()
	require.True(t, tr.IsIdle())

	env.Touch()
	require.Equal(t, 2, *sent)
	require.False(t, tr.IsIdle(), "local idle clears ahead of the server ack")
}

func TestTracker_NoSignalsWhileDisconnected(t *testing.T) {
	env := clientenv.NewFake()
	tr, sent := newTracker(env)
	tr.Start()

	env.Touch()
	require.Zero(t, *sent)

	tr.SetConnected(true)
	env.Touch()
	require.Equal(t, 1, *sent)

	// Disconnect resets the throttle window so the first activity after a
	// reconnect always announces itself.
	tr.SetConnected(false)
	env.Touch()
	require.Equal(t, 1, *sent)
	tr.SetConnected(true)
	env.Touch()
	require.Equal(t, 2, *sent)
}

func TestTracker_StopRemovesListener(t *testing.T) {
	env := clientenv.NewFake()
	tr, sent := newTracker(env)
	tr.Start()
	tr.SetConnected(true)
	tr.Stop()

	env.Touch()
	require.Zero(t, *sent)
}
