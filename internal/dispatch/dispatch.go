// Package dispatch fans inbound server events out to UI listeners. Each
// named channel holds a set of callbacks; registering returns a disposer
// so a component cannot forget which callback to remove on teardown.
package dispatch

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

// Channel names one logical event stream. Components listen to a channel
// without knowing about each other.
type Channel string

const (
	ChannelOnlineFeed Channel = "online-feed"
	ChannelMessages   Channel = "messages"
	ChannelRoom       Channel = "room"
	ChannelRoomChat   Channel = "room-chat"
	ChannelTyping     Channel = "typing"
	ChannelCounters   Channel = "counters"
	ChannelConnection Channel = "connection"
)

// Callback receives one inbound event. Callbacks on the same channel run
// in arbitrary order relative to each other; a single callback sees events
// in delivery order.
type Callback func(ev wire.Event)

// Disposer removes a registration. Safe to call more than once.
type Disposer func()

type Registry struct {
	mu       sync.RWMutex
	log      zerolog.Logger
	channels map[Channel]map[string]Callback
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log,
		channels: make(map[Channel]map[string]Callback),
	}
}

// Register adds cb to the channel and returns its disposer. The disposer
// must run on the owning component's teardown or the callback keeps
// receiving events for the rest of the session.
func (r *Registry) Register(ch Channel, cb Callback) Disposer {
	id := uuid.NewString()

	r.mu.Lock()
	set, ok := r.channels[ch]
	if !ok {
		set = make(map[string]Callback)
		r.channels[ch] = set
	}
	set[id] = cb
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.channels[ch]; ok {
			delete(set, id)
		}
	}
}

// Dispatch delivers ev to every callback currently registered on the
// channel. A panicking callback is logged and skipped; it never blocks
// delivery to its siblings.
func (r *Registry) Dispatch(ch Channel, ev wire.Event) {
	r.mu.RLock()
	cbs := make([]Callback, 0, len(r.channels[ch]))
	for _, cb := range r.channels[ch] {
		cbs = append(cbs, cb)
	}
	r.mu.RUnlock()

	for _, cb := range cbs {
		r.deliver(ch, cb, ev)
	}
}

func (r *Registry) deliver(ch Channel, cb Callback, ev wire.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn().Interface("panic", rec).Str("channel", string(ch)).Msg("listener panicked")
		}
	}()
	cb(ev)
}

// Listeners reports how many callbacks a channel currently has.
func (r *Registry) Listeners(ch Channel) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[ch])
}
