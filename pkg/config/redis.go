package config

// RedisConfig holds the Redis connection settings. Redis backs the session
// store and the verification rate limiter; leaving Enabled false keeps both
// in process memory, which only suits a single instance.
type RedisConfig struct {
	Enabled  bool   `env:"IDM_REDIS_ENABLED" env-default:"false"`
	Addr     string `env:"IDM_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"IDM_REDIS_PASSWORD" env-default:""`
	DB       int    `env:"IDM_REDIS_DB" env-default:"0"`
}
