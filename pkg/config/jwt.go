package config

import "time"

// JwtConfig holds the token signing settings.
type JwtConfig struct {
	Secret            string        `env:"IDM_JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer            string        `env:"IDM_JWT_ISSUER" env-default:"idm"`
	AccessTokenExpiry time.Duration `env:"IDM_ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	TempTokenExpiry   time.Duration `env:"IDM_TEMP_TOKEN_EXPIRY" env-default:"5m"`
	CookieHttpOnly    bool          `env:"IDM_COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure      bool          `env:"IDM_COOKIE_SECURE" env-default:"true"`
}
