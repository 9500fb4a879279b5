package config

import (
	"fmt"
	"time"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `env:"IDM_HOST" env-default:"localhost"`
	Port            uint16        `env:"IDM_PORT" env-default:"4000"`
	ReadTimeout     time.Duration `env:"IDM_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `env:"IDM_WRITE_TIMEOUT" env-default:"10s"`
	ShutdownTimeout time.Duration `env:"IDM_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
