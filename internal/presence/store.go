// Package presence mirrors the server's view of who is online or idle.
// The store is written only by the session's event handlers; UI code reads
// it. A user is "known" once any ack, online or offline event has named
// them. Before that, absence from the online set is ambiguous and callers
// must not render last-seen affordances.
package presence

import (
	"sync"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

type Store struct {
	mu     sync.RWMutex
	log    zerolog.Logger
	online map[string]bool // id -> idle substate
	known  map[string]struct{}

	// selfOptimistic marks the one sanctioned optimistic write: the current
	// identity is set online at connect time, ahead of the server's ack, so
	// the user's own avatar never flickers offline during reconnect churn.
	selfID         string
	selfOptimistic bool
}

func NewStore(log zerolog.Logger) *Store {
	return &Store{
		log:    log,
		online: make(map[string]bool),
		known:  make(map[string]struct{}),
	}
}

// SetSelfOptimistic writes the current identity online before any server
// ack. Cleared by the first real ack or presence event for that id.
func (s *Store) SetSelfOptimistic(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = id
	s.selfOptimistic = true
	s.online[id] = false
	s.known[id] = struct{}{}
}

// SetOnline records a user as online (idle false). Any event for the self
// id supersedes the optimistic write.
func (s *Store) SetOnline(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(id, true, false)
}

// SetOffline clears both online and idle atomically. The user stays known:
// a confirmed offline is information, unlike a never-seen id.
func (s *Store) SetOffline(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(id, false, false)
}

// SetIdle marks a user idle. Idle is a substate of online, so an idle
// event for an unknown user also implies online.
func (s *Store) SetIdle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(id, true, true)
}

// SetActive clears the idle substate, keeping the user online.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(id, true, false)
}

// ApplyAck applies one server acknowledgment entry.
func (s *Store) ApplyAck(id string, online, idle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(id, online, idle)
}

func (s *Store) applyLocked(id string, online, idle bool) {
	if id == "" {
		return
	}
	if id == s.selfID && s.selfOptimistic {
		s.selfOptimistic = false
	}
	s.known[id] = struct{}{}
	if online {
		s.online[id] = idle
	} else {
		delete(s.online, id)
	}
	s.log.Debug().Str("user", id).Bool("online", online).Bool("idle", idle).Msg("presence update")
}

func (s *Store) IsOnline(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[id]
	return ok
}

func (s *Store) IsIdle(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idle, ok := s.online[id]
	return ok && idle
}

func (s *Store) IsKnown(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[id]
	return ok
}

func (s *Store) Status(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idle, ok := s.online[id]
	switch {
	case !ok:
		return StatusOffline
	case idle:
		return StatusIdle
	default:
		return StatusOnline
	}
}

// SelfOptimistic reports whether the self write is still unconfirmed.
func (s *Store) SelfOptimistic() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfOptimistic
}

// Reset wipes everything, known ids included. Called on transport drop:
// no events were delivered during the gap, so every mirrored status is
// suspect and "known" no longer means anything.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]bool)
	s.known = make(map[string]struct{})
	s.selfOptimistic = false
	s.selfID = ""
}
