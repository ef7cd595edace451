package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration // how often status changes are checked for SSE
	IdleInterval   time.Duration // MJPEG keepalive when no new frame arrives
	AllowedOrigins []string
}

// DefaultConfig returns a config aligned with the existing Flask service behavior.
func DefaultConfig() Config {
	return Config{
		Addr:           ":5000",
		StatusInterval: 1 * time.Second,
		IdleInterval:   5 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}
