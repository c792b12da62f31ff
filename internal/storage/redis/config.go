package redis

import "time"

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string `koanf:"url" validate:"required,url"`

	// Pool settings
	PoolSize     int `koanf:"pool_size" validate:"gte=1"`
	MinIdleConns int `koanf:"min_idle_conns" validate:"gte=0"`

	// KeyPrefix namespaces every key written by this application
	KeyPrefix string `koanf:"key_prefix" validate:"required"`

	// RequestTimeout bounds each remote call; exceeding it is a transient failure
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`

	// MaxPayloadBytes rejects oversized records permanently
	MaxPayloadBytes int `koanf:"max_payload_bytes" validate:"gte=1"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:             "redis://localhost:6379",
		PoolSize:        10,
		MinIdleConns:    2,
		KeyPrefix:       "sideline",
		RequestTimeout:  5 * time.Second,
		MaxPayloadBytes: 512 * 1024,
	}
}
