package ephemeral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsocial/pulse/internal/clientenv"
)

func TestTypingStore_InsertRefreshRemove(t *testing.T) {
	env := clientenv.NewFake()
	s := NewTypingStore(env, 6*time.Second)

	s.SetTyping("r1", "alice", true)
	s.SetTyping("r1", "bob", true)
	require.ElementsMatch(t, []string{"alice", "bob"}, s.TypingIn("r1", ""))

	// Self is excluded from the derived list.
	require.ElementsMatch(t, []string{"bob"}, s.TypingIn("r1", "alice"))

	s.SetTyping("r1", "bob", false)
	require.ElementsMatch(t, []string{"alice"}, s.TypingIn("r1", ""))
}

func TestTypingStore_TTLExpiry(t *testing.T) {
	env := clientenv.NewFake()
	s := NewTypingStore(env, 6*time.Second)

	s.SetTyping("r1", "alice", true)

	env.Advance(5 * time.Second)
	require.NotEmpty(t, s.TypingIn("r1", ""))

	// Refresh extends the TTL.
	s.SetTyping("r1", "alice", true)
	env.Advance(5 * time.Second)
	require.NotEmpty(t, s.TypingIn("r1", ""))

	// No refresh: gone after TTL even before any sweep runs.
	env.Advance(2 * time.Second)
	require.Empty(t, s.TypingIn("r1", ""))

	s.Sweep()
	require.Empty(t, s.TypingIn("r1", ""))
}

func TestTypingStore_SweepDropsExpiredOnly(t *testing.T) {
	env := clientenv.NewFake()
	s := NewTypingStore(env, 6*time.Second)

	s.SetTyping("r1", "old", true)
	env.Advance(4 * time.Second)
	s.SetTyping("r1", "fresh", true)
	env.Advance(3 * time.Second) // old expired, fresh not

	s.Sweep()
	assert.ElementsMatch(t, []string{"fresh"}, s.TypingIn("r1", ""))
}

func TestTypingStore_Reset(t *testing.T) {
	env := clientenv.NewFake()
	s := NewTypingStore(env, 0)
	s.SetTyping("r1", "alice", true)
	s.SetTyping("r2", "bob", true)

	s.Reset()
	assert.Empty(t, s.TypingIn("r1", ""))
	assert.Empty(t, s.TypingIn("r2", ""))
}

type sentSignal struct {
	room   string
	typing bool
}

func newComposer(env clientenv.Env) (*Composer, *[]sentSignal) {
	var sent []sentSignal
	c := NewComposer(env, func(room string, typing bool) {
		sent = append(sent, sentSignal{room, typing})
	})
	return c, &sent
}

func TestComposer_DebouncedStartThenPauseStop(t *testing.T) {
	env := clientenv.NewFake()
	c, sent := newComposer(env)

	c.InputChanged("r1", false)
	require.Empty(t, *sent, "start must wait out the debounce")

	env.Advance(DefaultStartDelay)
	require.Equal(t, []sentSignal{{"r1", true}}, *sent)

	// Keystrokes keep the indicator alive.
	env.Advance(3 * time.Second)
	c.InputChanged("r1", false)
	env.Advance(3 * time.Second)
	c.InputChanged("r1", false)
	require.Len(t, *sent, 1)

	// Pause with text still present: stop after the idle window.
	env.Advance(DefaultStopAfter)
	require.Equal(t, []sentSignal{{"r1", true}, {"r1", false}}, *sent)
}

func TestComposer_ClearSendsImmediateStop(t *testing.T) {
	env := clientenv.NewFake()
	c, sent := newComposer(env)

	c.InputChanged("r1", false)
	env.Advance(DefaultStartDelay)
	c.InputChanged("r1", true)
	require.Equal(t, []sentSignal{{"r1", true}, {"r1", false}}, *sent)
	require.Zero(t, env.PendingTimers(), "no timer may outlive the cleared input")
}

func TestComposer_ClearBeforeDebounceSendsNothing(t *testing.T) {
	env := clientenv.NewFake()
	c, sent := newComposer(env)

	c.InputChanged("r1", false)
	c.InputChanged("r1", true)
	env.Advance(time.Minute)
	require.Empty(t, *sent)
}

func TestComposer_RoomSwitchFlushesPendingStart(t *testing.T) {
	env := clientenv.NewFake()
	c, sent := newComposer(env)

	// Debounce pending for r1, then the user switches to r2.
	c.InputChanged("r1", false)
	c.InputChanged("r2", false)

	// The departed room gets an explicit stop at switch time and never a
	// late start; r2 proceeds normally.
	require.Equal(t, []sentSignal{{"r1", false}}, *sent)
	env.Advance(time.Minute)
	require.Equal(t, []sentSignal{{"r1", false}, {"r2", true}, {"r2", false}}, *sent)
}

func TestComposer_RoomSwitchStopsActiveIndicator(t *testing.T) {
	env := clientenv.NewFake()
	c, sent := newComposer(env)

	c.InputChanged("r1", false)
	env.Advance(DefaultStartDelay)
	require.Equal(t, []sentSignal{{"r1", true}}, *sent)

	c.InputChanged("r2", false)
	require.Equal(t, sentSignal{"r1", false}, (*sent)[1], "departed room gets an immediate stop")
}

func TestComposer_FlushIdempotent(t *testing.T) {
	env := clientenv.NewFake()
	c, sent := newComposer(env)

	c.InputChanged("r1", false)
	env.Advance(DefaultStartDelay)
	c.Flush()
	c.Flush()
	require.Equal(t, []sentSignal{{"r1", true}, {"r1", false}}, *sent)
}
