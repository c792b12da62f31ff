package syncer

import "time"

// Config controls drain retries and scheduling
type Config struct {
	// Interval between scheduled drains while online
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	// RetryAttempts caps sends per entry per drain for transient failures
	RetryAttempts uint `koanf:"retry_attempts" validate:"min=1"`

	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`
	RetryMaxJitter time.Duration `koanf:"retry_max_jitter" validate:"gte=0"`

	// PullAfterDrain refreshes local collections from the remote once the
	// queue has fully drained
	PullAfterDrain bool `koanf:"pull_after_drain"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		RetryAttempts:  5,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		RetryMaxJitter: 100 * time.Millisecond,
		PullAfterDrain: true,
	}
}
