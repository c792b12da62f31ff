package badger

// Config holds BadgerDB settings for the local provider
type Config struct {
	// Path is the database directory; ignored when InMemory is set
	Path string `koanf:"path"`

	// InMemory keeps everything in RAM (tests and throwaway sessions)
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every commit so writes are durable on return
	SyncWrites bool `koanf:"sync_writes"`
}

// DefaultConfig returns sensible defaults for the local provider
func DefaultConfig() Config {
	return Config{
		Path:       "data/local",
		SyncWrites: true,
	}
}
