package sound

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsocial/pulse/internal/clientenv"
)

func TestGate_PlaysOnIncreaseOnly(t *testing.T) {
	env := clientenv.NewFake()
	g := NewGate(env, zerolog.Nop(), 3*time.Second)
	env.Tap() // unlock

	g.Observe(4) // initial load
	require.Empty(t, env.Sounds, "initial observation is not news")

	env.Advance(10 * time.Second)
	g.Observe(5)
	require.Equal(t, []string{AlertSound}, env.Sounds)

	env.Advance(10 * time.Second)
	g.Observe(2) // mark-read
	require.Len(t, env.Sounds, 1, "decrease never plays")

	env.Advance(10 * time.Second)
	g.Observe(3)
	require.Len(t, env.Sounds, 2)
}

func TestGate_JudgesEachCounterAgainstItsOwnHistory(t *testing.T) {
	env := clientenv.NewFake()
	g := NewGate(env, zerolog.Nop(), 0)
	env.Tap()

	g.ObserveSet(map[string]int{"notifications": 5, "messages/dm": 0})
	require.Empty(t, env.Sounds, "first push primes, never plays")

	// Mark-read drops notifications in the same push that carries a new
	// dm. The aggregate falls, but the dm increase still alerts.
	env.Advance(time.Minute)
	g.ObserveSet(map[string]int{"notifications": 1, "messages/dm": 1})
	require.Equal(t, []string{AlertSound}, env.Sounds)

	// A counter seen for the first time only primes, even mid-session.
	env.Advance(time.Minute)
	g.ObserveSet(map[string]int{"notifications": 1, "messages/dm": 1, "messages/group": 9})
	require.Len(t, env.Sounds, 1)
}

func TestGate_CooldownSuppressesBursts(t *testing.T) {
	env := clientenv.NewFake()
	g := NewGate(env, zerolog.Nop(), 3*time.Second)
	env.Tap()

	g.Observe(0)
	g.Observe(1)
	require.Len(t, env.Sounds, 1, "0→1 plays exactly once")

	g.Observe(2) // inside cooldown
	require.Len(t, env.Sounds, 1)

	env.Advance(3 * time.Second)
	g.Observe(3)
	require.Len(t, env.Sounds, 2)
}

func TestGate_LockedUntilGesture(t *testing.T) {
	env := clientenv.NewFake()
	g := NewGate(env, zerolog.Nop(), 0)

	g.Observe(0)
	g.Observe(1)
	require.Empty(t, env.Sounds, "no gesture observed yet")
	require.Equal(t, 1, env.GestureListeners())

	env.Tap()
	require.Zero(t, env.GestureListeners(), "unlock listener removes itself")

	env.Advance(time.Minute)
	g.Observe(2)
	require.Len(t, env.Sounds, 1)
}

func TestGate_SilentWhileBackgrounded(t *testing.T) {
	env := clientenv.NewFake()
	g := NewGate(env, zerolog.Nop(), 0)
	env.Tap()
	env.SetForeground(false)

	g.Observe(0)
	g.Observe(1)
	require.Empty(t, env.Sounds)

	env.SetForeground(true)
	env.Advance(time.Minute)
	g.Observe(2)
	require.Len(t, env.Sounds, 1)
}

func TestGate_PlaybackFailureSwallowed(t *testing.T) {
	env := clientenv.NewFake()
	env.SoundErr = errors.New("autoplay blocked")
	g := NewGate(env, zerolog.Nop(), 0)
	env.Tap()

	g.Observe(0)
	require.NotPanics(t, func() { g.Observe(1) })
}

func TestGate_CloseRemovesUnfiredListener(t *testing.T) {
	env := clientenv.NewFake()
	g := NewGate(env, zerolog.Nop(), 0)
	require.Equal(t, 1, env.GestureListeners())
	g.Close()
	require.Zero(t, env.GestureListeners())
}
