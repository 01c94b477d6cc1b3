package session

import "time"

const (
	defaultBackoffStep = 2 * time.Second
	defaultBackoffMax  = 16 * time.Second
)

// backoff produces linearly growing reconnect delays, capped at max.
type backoff struct {
	step    time.Duration
	max     time.Duration
	attempt int
}

func newBackoff(step, max time.Duration) *backoff {
	if step <= 0 {
		step = defaultBackoffStep
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	return &backoff{step: step, max: max}
}

func (b *backoff) Next() time.Duration {
	b.attempt++
	d := time.Duration(b.attempt) * b.step
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *backoff) Reset() {
	b.attempt = 0
}
