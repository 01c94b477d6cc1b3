package session

import (
	"github.com/kestrelsocial/pulse/internal/dispatch"
	"github.com/kestrelsocial/pulse/pkg/wire"
)

// handle applies one inbound server event. Missing fields are treated as
// absent rather than errors; an unknown kind is skipped. One bad event
// must never take down the read loop.
func (s *Session) handle(ev wire.Event) {
	switch ev.Kind {
	case wire.EventAck:
		for _, e := range ev.Ack {
			s.presence.ApplyAck(e.UserID, e.Online, e.Idle)
			if e.UserID == s.cfg.Identity {
				s.syncSelfIdle(e.Idle)
			}
		}

	case wire.EventOnline:
		s.presence.SetOnline(ev.UserID)

	case wire.EventOffline:
		s.presence.SetOffline(ev.UserID)

	case wire.EventIdle:
		s.presence.SetIdle(ev.UserID)
		if ev.UserID == s.cfg.Identity {
			s.tracker.ServerIdle()
		}

	case wire.EventActive:
		s.presence.SetActive(ev.UserID)
		if ev.UserID == s.cfg.Identity {
			s.tracker.ServerActive()
		}

	case wire.EventFeed:
		s.registry.Dispatch(dispatch.ChannelOnlineFeed, ev)

	case wire.EventRoomMembers:
		s.registry.Dispatch(dispatch.ChannelRoom, ev)

	case wire.EventRoomMessage, wire.EventRoomHistory:
		s.registry.Dispatch(dispatch.ChannelRoomChat, ev)
		s.registry.Dispatch(dispatch.ChannelMessages, ev)

	case wire.EventTyping:
		s.typing.SetTyping(ev.RoomID, ev.UserID, ev.Typing)
		s.registry.Dispatch(dispatch.ChannelTyping, ev)

	case wire.EventCounters:
		if ev.Counters == nil {
			return
		}
		s.applyCounters(*ev.Counters)
		s.registry.Dispatch(dispatch.ChannelCounters, ev)

	case wire.EventIdleDisconnect:
		// The server is about to reap this idle session. Flag it so the
		// reconnect UI can frame the drop gently, and do not auto-retry:
		// resuming is an explicit Reconnect (or a fresh activity burst in
		// the shell that calls it).
		s.mu.Lock()
		s.idleDisconnect = true
		s.suppressRetry = true
		s.mu.Unlock()
		s.registry.Dispatch(dispatch.ChannelConnection, ev)

	default:
		s.log.Debug().Str("kind", string(ev.Kind)).Msg("unknown event skipped")
	}
}

func (s *Session) syncSelfIdle(idle bool) {
	if idle {
		s.tracker.ServerIdle()
	} else {
		s.tracker.ServerActive()
	}
}
