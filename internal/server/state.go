package server

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/kestrelsocial/pulse/pkg/wire"
)

// State is the authoritative presence record. A user is online while at
// least one of their connections is registered; idle is declared here,
// never by clients, after a period without active signals.
type State struct {
	mu       sync.Mutex
	users    map[string]*userState
	counters map[string]wire.Counters
}

type userState struct {
	conns      int
	idle       bool
	lastActive time.Time
}

func NewState() *State {
	return &State{
		users:    make(map[string]*userState),
		counters: make(map[string]wire.Counters),
	}
}

// ConnectUser records one more connection; reports whether the user just
// came online.
func (s *State) ConnectUser(userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		s.users[userID] = &userState{conns: 1, lastActive: now}
		return true
	}
	u.conns++
	return false
}

// DisconnectUser drops one connection; reports whether the user just went
// offline.
func (s *State) DisconnectUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false
	}
	u.conns--
	if u.conns > 0 {
		return false
	}
	delete(s.users, userID)
	return true
}

// ForceOffline removes the user regardless of connection count. Used on
// logout, where the client asks for an immediate offline broadcast.
func (s *State) ForceOffline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return false
	}
	delete(s.users, userID)
	return true
}

// Active refreshes the activity clock; reports whether the user was idle
// and is now active again.
func (s *State) Active(userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false
	}
	u.lastActive = now
	wasIdle := u.idle
	u.idle = false
	return wasIdle
}

// Entry snapshots one user for a subscribe acknowledgment.
func (s *State) Entry(userID string) wire.AckEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return wire.AckEntry{UserID: userID}
	}
	return wire.AckEntry{UserID: userID, Online: true, Idle: u.idle}
}

// OnlineIDs snapshots the aggregate online feed.
func (s *State) OnlineIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.users)
}

// SweepIdle declares users idle after idleAfter without activity and
// selects users past reapAfter for an idle-disconnect.
func (s *State) SweepIdle(now time.Time, idleAfter, reapAfter time.Duration) (idled, reaped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		gap := now.Sub(u.lastActive)
		if reapAfter > 0 && gap >= reapAfter {
			reaped = append(reaped, id)
			continue
		}
		if !u.idle && idleAfter > 0 && gap >= idleAfter {
			u.idle = true
			idled = append(idled, id)
		}
	}
	return idled, reaped
}

// Counters returns the stored unread totals for a user.
func (s *State) Counters(userID string) wire.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[userID]
}

// SetCounters replaces a user's unread totals.
func (s *State) SetCounters(userID string, c wire.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[userID] = c
}
