// Package activity watches local user input and drives the outbound
// "I'm active" signal. The server alone decides when a session has gone
// idle; the client only ever reports activity, throttled while active and
// immediate when it needs to shake off an idle state.
package activity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelsocial/pulse/internal/clientenv"
)

// DefaultThrottle bounds outbound active signals while not idle.
const DefaultThrottle = 30 * time.Second

// Tracker translates raw activity events into active signals. It holds the
// local mirror of the server-declared idle state for the current identity.
type Tracker struct {
	mu       sync.Mutex
	env      clientenv.Env
	log      zerolog.Logger
	send     func()
	throttle time.Duration

	connected bool
	idle      bool
	lastSent  time.Time
	cancel    clientenv.CancelFunc
}

// NewTracker wires send as the outbound active signal. send is only called
// while the tracker has been told the transport is connected.
func NewTracker(env clientenv.Env, log zerolog.Logger, send func(), throttle time.Duration) *Tracker {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Tracker{env: env, log: log, send: send, throttle: throttle}
}

// Start installs the platform activity listener. Idempotent.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	t.cancel = t.env.Activity(t.OnActivity)
}

// Stop removes the listener and clears local idle state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.idle = false
	t.lastSent = time.Time{}
}

// SetConnected gates signal emission on transport state.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
	if !connected {
		t.lastSent = time.Time{}
	}
}

// OnActivity handles one recognized activity event. While idle, the signal
// goes out immediately and local idle clears optimistically, ahead of the
// server's own active broadcast, so the current user never sees themselves
// stuck idle. While active, signals are throttled.
func (t *Tracker) OnActivity() {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	now := t.env.Now()
	wasIdle := t.idle
	if !wasIdle && !t.lastSent.IsZero() && now.Sub(t.lastSent) < t.throttle {
		t.mu.Unlock()
		return
	}
	t.idle = false
	t.lastSent = now
	t.mu.Unlock()

	if wasIdle {
		t.log.Debug().Msg("activity while idle, clearing optimistically")
	}
	t.send()
}

// ServerIdle records the server's declaration that this session is idle.
func (t *Tracker) ServerIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idle = true
}

// ServerActive records the server's confirmation of activity.
func (t *Tracker) ServerActive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idle = false
}

func (t *Tracker) IsIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}
