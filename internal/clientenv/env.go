// Package clientenv is the platform port for the realtime layer: clocks,
// timers, user-activity events, document visibility and audio playback.
// The core components depend on this interface only, so they run unchanged
// under a real shell (browser/wasm, desktop webview) or headless in tests
// and server-side rendering.
package clientenv

import "time"

// CancelFunc removes a previously installed listener or timer. Safe to
// call more than once.
type CancelFunc func()

type Env interface {
	Now() time.Time

	// AfterFunc schedules fn after d on the platform's scheduler. The
	// returned cancel stops the timer if it has not fired yet.
	AfterFunc(d time.Duration, fn func()) CancelFunc

	// Foreground reports whether the document currently has visibility.
	Foreground() bool

	// Activity installs a listener for recognized user activity (pointer
	// move/click, key press, scroll, touch).
	Activity(fn func()) CancelFunc

	// Gesture installs a listener for qualifying user gestures (the subset
	// of activity that satisfies autoplay policies: click, key, touch).
	Gesture(fn func()) CancelFunc

	// Visibility installs a listener invoked when the document gains or
	// loses foreground visibility.
	Visibility(fn func(foreground bool)) CancelFunc

	// PlaySound plays a named short audio asset.
	PlaySound(name string) error
}

// System is the headless adapter: real time, no activity or visibility
// sources, silent audio. Shells that have a DOM (or equivalent) embed it
// and override the event sources.
type System struct {
	// Sound, when set, receives PlaySound calls.
	Sound func(name string) error
}

func (System) Now() time.Time { return time.Now() }

func (System) AfterFunc(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (System) Foreground() bool { return true }

func (System) Activity(func()) CancelFunc { return func() {} }

func (System) Gesture(func()) CancelFunc { return func() {} }

func (System) Visibility(func(bool)) CancelFunc { return func() {} }

func (s System) PlaySound(name string) error {
	if s.Sound != nil {
		return s.Sound(name)
	}
	return nil
}
