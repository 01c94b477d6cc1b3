package session

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config carries everything a Session needs. Zero values fall back to the
// component defaults, so a Config with just APIBase and Identity works.
type Config struct {
	// APIBase is the http(s) root of the presence server. The realtime
	// websocket and the REST snapshot endpoints both hang off it.
	APIBase string `envconfig:"API_BASE"`
	// Identity is the authenticated user id the session represents.
	Identity string `envconfig:"IDENTITY"`

	InterestLimit  int           `envconfig:"INTEREST_LIMIT"`
	TypingTTL      time.Duration `envconfig:"TYPING_TTL"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL"`
	ActiveThrottle time.Duration `envconfig:"ACTIVE_THROTTLE"`
	SoundCooldown  time.Duration `envconfig:"SOUND_COOLDOWN"`
	BackoffStep    time.Duration `envconfig:"BACKOFF_STEP"`
	BackoffMax     time.Duration `envconfig:"BACKOFF_MAX"`
}

// LoadConfig reads PULSE_* variables from the environment, consulting a
// local .env file first when present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("pulse", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RealtimeURL derives the websocket endpoint from the API base.
func (c Config) RealtimeURL() string {
	base := strings.TrimSuffix(c.APIBase, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/realtime"
}
