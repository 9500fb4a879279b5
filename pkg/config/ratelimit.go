package config

import "time"

// RateLimitConfig holds the verification throttling settings: the per-user
// failure lockout and the per-client request limiter in front of the
// verification endpoints.
type RateLimitConfig struct {
	MaxFailures int           `env:"IDM_RATE_MAX_FAILURES" env-default:"5"`
	Window      time.Duration `env:"IDM_RATE_WINDOW" env-default:"15m"`
	Lockout     time.Duration `env:"IDM_RATE_LOCKOUT" env-default:"15m"`

	RequestBurst  int     `env:"IDM_RATE_REQUEST_BURST" env-default:"10"`
	RequestPerSec float64 `env:"IDM_RATE_REQUEST_PER_SEC" env-default:"1"`
}
