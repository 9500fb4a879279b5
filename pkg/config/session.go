package config

import "time"

// SessionConfig holds the login session lifetimes. The pending TTL bounds
// how long a password-verified session may wait for its second factor.
type SessionConfig struct {
	TTL        time.Duration `env:"IDM_SESSION_TTL" env-default:"24h"`
	PendingTTL time.Duration `env:"IDM_SESSION_PENDING_TTL" env-default:"5m"`
}
