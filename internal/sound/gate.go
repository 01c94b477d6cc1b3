// Package sound gates the unread-notification alert sound. Browsers block
// audio until a user gesture has been observed, and event bursts must not
// turn into a drum roll, so every play request runs through this state
// machine.
package sound

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelsocial/pulse/internal/clientenv"
)

const (
	// DefaultCooldown suppresses repeat sounds after one has played.
	DefaultCooldown = 3 * time.Second
	// AlertSound is the asset name handed to the platform audio player.
	AlertSound = "notification"
)

type Gate struct {
	mu       sync.Mutex
	env      clientenv.Env
	log      zerolog.Logger
	cooldown time.Duration

	unlocked   bool
	cancelTap  clientenv.CancelFunc
	prev       map[string]int // last observed value per counter name
	lastPlayed time.Time
}

func NewGate(env clientenv.Env, log zerolog.Logger, cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	g := &Gate{env: env, log: log, cooldown: cooldown, prev: make(map[string]int)}
	// The unlock listener installs once per session and removes itself on
	// the first qualifying gesture.
	g.cancelTap = env.Gesture(g.unlock)
	return g
}

func (g *Gate) unlock() {
	g.mu.Lock()
	g.unlocked = true
	cancel := g.cancelTap
	g.cancelTap = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Observe feeds the gate a single aggregate unread count. Callers with
// several independent counters should use ObserveSet so an increase in one
// is not masked by a larger decrease in another.
func (g *Gate) Observe(count int) {
	g.ObserveSet(map[string]int{"unread": count})
}

// ObserveSet feeds the gate one authoritative push of named counters. A
// sound plays only when some counter increased against its own previous
// observation, audio is unlocked, the document is foregrounded and the
// cooldown has elapsed. The first observation of a counter never plays:
// it is initial load, not news.
func (g *Gate) ObserveSet(counts map[string]int) {
	g.mu.Lock()

	increased := false
	for name, count := range counts {
		if prev, seen := g.prev[name]; seen && count > prev {
			increased = true
		}
		g.prev[name] = count
	}

	if !increased || !g.unlocked || !g.env.Foreground() {
		g.mu.Unlock()
		return
	}
	now := g.env.Now()
	if !g.lastPlayed.IsZero() && now.Sub(g.lastPlayed) < g.cooldown {
		g.mu.Unlock()
		return
	}
	g.lastPlayed = now
	g.mu.Unlock()

	if err := g.env.PlaySound(AlertSound); err != nil {
		// Autoplay rejection or decode failure; sound is non-critical.
		g.log.Debug().Err(err).Msg("alert sound failed")
	}
}

// Close removes the unlock listener if it never fired.
func (g *Gate) Close() {
	g.mu.Lock()
	cancel := g.cancelTap
	g.cancelTap = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
