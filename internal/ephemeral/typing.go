// Package ephemeral holds short-lived per-room state: who is typing right
// now. Entries carry a TTL so a lost stop event (closed tab, dropped
// connection on the sender's side) cannot leave a stale indicator behind.
package ephemeral

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelsocial/pulse/internal/clientenv"
)

const (
	// DefaultTTL is how long a typing entry survives without a refresh.
	DefaultTTL = 6 * time.Second
	// DefaultSweepInterval bounds how long an expired entry can linger.
	DefaultSweepInterval = 500 * time.Millisecond
)

type TypingStore struct {
	mu    sync.Mutex
	env   clientenv.Env
	ttl   time.Duration
	rooms map[string]map[string]time.Time // room -> user -> expiry
}

func NewTypingStore(env clientenv.Env, ttl time.Duration) *TypingStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TypingStore{
		env:   env,
		ttl:   ttl,
		rooms: make(map[string]map[string]time.Time),
	}
}

// SetTyping inserts or refreshes the entry when typing is true, removes it
// immediately when false.
func (s *TypingStore) SetTyping(roomID, userID string, typing bool) {
	if roomID == "" || userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !typing {
		if users, ok := s.rooms[roomID]; ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(s.rooms, roomID)
			}
		}
		return
	}

	users, ok := s.rooms[roomID]
	if !ok {
		users = make(map[string]time.Time)
		s.rooms[roomID] = users
	}
	users[userID] = s.env.Now().Add(s.ttl)
}

// TypingIn returns the users currently typing in a room, excluding self.
// Expired entries are filtered out even if the sweep has not run yet.
func (s *TypingStore) TypingIn(roomID, selfID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	now := s.env.Now()
	out := make([]string, 0, len(users))
	for id, expiry := range users {
		if id == selfID || now.After(expiry) {
			continue
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Sweep drops every expired entry.
func (s *TypingStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.env.Now()
	for roomID, users := range s.rooms {
		for id, expiry := range users {
			if now.After(expiry) {
				delete(users, id)
			}
		}
		if len(users) == 0 {
			delete(s.rooms, roomID)
		}
	}
}

// Run sweeps periodically until the context is cancelled. One goroutine
// per session; the sweep is O(total typing entries).
func (s *TypingStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Reset wipes all rooms, used on transport drop and session teardown.
func (s *TypingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[string]map[string]time.Time)
}
