package clientenv

import (
	"sync"
	"time"
)

// Fake is a deterministic Env for tests: manual clock, timers that fire
// when the clock advances past them, and synthetic activity, gesture and
// visibility events.
type Fake struct {
	mu         sync.Mutex
	now        time.Time
	nextID     int
	timers     map[int]*fakeTimer
	activity   map[int]func()
	gesture    map[int]func()
	visibility map[int]func(bool)
	foreground bool
	Sounds     []string
	SoundErr   error
}

type fakeTimer struct {
	at time.Time
	fn func()
}

func NewFake() *Fake {
	return &Fake{
		now:        time.Unix(1700000000, 0),
		timers:     make(map[int]*fakeTimer),
		activity:   make(map[int]func()),
		gesture:    make(map[int]func()),
		visibility: make(map[int]func(bool)),
		foreground: true,
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward and fires due timers in deadline order.
// The clock steps to each due timer's deadline as it fires, so a callback
// that schedules a follow-up timer within the window sees it fire too.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	deadline := f.now.Add(d)
	f.mu.Unlock()

	for {
		fn := f.popDue(deadline)
		if fn == nil {
			break
		}
		fn()
	}

	f.mu.Lock()
	f.now = deadline
	f.mu.Unlock()
}

func (f *Fake) popDue(deadline time.Time) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	bestID := -1
	for id, t := range f.timers {
		if t.at.After(deadline) {
			continue
		}
		if bestID == -1 || t.at.Before(f.timers[bestID].at) {
			bestID = id
		}
	}
	if bestID == -1 {
		return nil
	}
	t := f.timers[bestID]
	if t.at.After(f.now) {
		f.now = t.at
	}
	delete(f.timers, bestID)
	return t.fn
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.timers[id] = &fakeTimer{at: f.now.Add(d), fn: fn}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.timers, id)
	}
}

func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) Foreground() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.foreground
}

// SetForeground changes visibility and notifies listeners.
func (f *Fake) SetForeground(fg bool) {
	f.mu.Lock()
	f.foreground = fg
	fns := make([]func(bool), 0, len(f.visibility))
	for _, fn := range f.visibility {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(fg)
	}
}

func (f *Fake) Activity(fn func()) CancelFunc {
	return install(f, f.activity, fn)
}

func (f *Fake) Gesture(fn func()) CancelFunc {
	return install(f, f.gesture, fn)
}

func (f *Fake) Visibility(fn func(bool)) CancelFunc {
	return install(f, f.visibility, fn)
}

func install[T any](f *Fake, m map[int]T, fn T) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	m[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(m, id)
	}
}

// Touch fires every activity listener, simulating pointer/key/scroll input.
func (f *Fake) Touch() {
	for _, fn := range snapshot(f, f.activity) {
		fn()
	}
}

// Tap fires gesture listeners and, since a gesture is also activity,
// activity listeners too.
func (f *Fake) Tap() {
	for _, fn := range snapshot(f, f.gesture) {
		fn()
	}
	f.Touch()
}

func snapshot[T any](f *Fake, m map[int]T) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]T, 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

// GestureListeners reports how many gesture listeners remain installed.
func (f *Fake) GestureListeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gesture)
}

// SoundsPlayed snapshots the played sound names; safe to call while other
// goroutines are still playing.
func (f *Fake) SoundsPlayed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Sounds...)
}

func (f *Fake) PlaySound(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SoundErr != nil {
		return f.SoundErr
	}
	f.Sounds = append(f.Sounds, name)
	return nil
}
