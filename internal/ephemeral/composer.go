package ephemeral

import (
	"sync"
	"time"

	"github.com/kestrelsocial/pulse/internal/clientenv"
)

const (
	// DefaultStartDelay debounces the start signal so a single keystroke
	// that is immediately deleted never reaches the wire.
	DefaultStartDelay = 300 * time.Millisecond
	// DefaultStopAfter stops the indicator when the user pauses with text
	// still in the input.
	DefaultStopAfter = 5 * time.Second
)

// SendFunc emits a typing start/stop signal for a room.
type SendFunc func(roomID string, typing bool)

// Composer mirrors the chat input's typing lifecycle onto the wire:
// start after a short debounce once input is non-empty, stop immediately
// when the input is cleared, stop after a pause, and an immediate flushed
// stop for the room being left when the input switches rooms.
type Composer struct {
	mu         sync.Mutex
	env        clientenv.Env
	send       SendFunc
	startDelay time.Duration
	stopAfter  time.Duration

	roomID      string
	started     bool // start signal has been sent for roomID
	cancelStart clientenv.CancelFunc
	cancelStop  clientenv.CancelFunc
}

func NewComposer(env clientenv.Env, send SendFunc) *Composer {
	return &Composer{
		env:        env,
		send:       send,
		startDelay: DefaultStartDelay,
		stopAfter:  DefaultStopAfter,
	}
}

// SetDelays overrides the debounce windows; zero keeps the default.
func (c *Composer) SetDelays(start, stop time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if start > 0 {
		c.startDelay = start
	}
	if stop > 0 {
		c.stopAfter = stop
	}
}

// InputChanged reports the current state of the composer input. Call it on
// every edit; empty means the input has no content.
func (c *Composer) InputChanged(roomID string, empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if roomID != c.roomID {
		// Leaving a room with a pending or active indicator: the departed
		// room gets an immediate stop, never a late start.
		c.flushLocked()
		c.roomID = roomID
	}
	if roomID == "" {
		return
	}

	if empty {
		c.clearTimersLocked()
		if c.started {
			c.started = false
			c.send(roomID, false)
		}
		return
	}

	if c.started {
		c.rescheduleStopLocked()
		return
	}
	if c.cancelStart != nil {
		return // debounce already pending
	}
	room := roomID
	c.cancelStart = c.env.AfterFunc(c.startDelay, func() {
		c.startFired(room)
	})
}

func (c *Composer) startFired(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelStart = nil
	if c.roomID != roomID || c.started {
		return
	}
	c.started = true
	c.send(roomID, true)
	c.rescheduleStopLocked()
}

func (c *Composer) rescheduleStopLocked() {
	if c.cancelStop != nil {
		c.cancelStop()
	}
	room := c.roomID
	c.cancelStop = c.env.AfterFunc(c.stopAfter, func() {
		c.stopFired(room)
	})
}

func (c *Composer) stopFired(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelStop = nil
	if c.roomID != roomID || !c.started {
		return
	}
	c.started = false
	c.send(roomID, false)
}

// Flush cancels pending timers and sends an immediate stop when a start
// was sent or still pending. Call on message send, room leave and
// component teardown.
func (c *Composer) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// flushLocked closes out the current room's indicator. A pending start
// debounce also flushes as a stop: the server may have seen typing from
// an earlier burst in this room, and a stop is a no-op when it has not.
func (c *Composer) flushLocked() {
	pendingStart := c.cancelStart != nil
	c.clearTimersLocked()
	if c.roomID == "" {
		return
	}
	if c.started || pendingStart {
		c.started = false
		c.send(c.roomID, false)
	}
}

func (c *Composer) clearTimersLocked() {
	if c.cancelStart != nil {
		c.cancelStart()
		c.cancelStart = nil
	}
	if c.cancelStop != nil {
		c.cancelStop()
		c.cancelStop = nil
	}
}
