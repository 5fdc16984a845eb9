package datalink

// Config holds configuration for a data link
type Config struct {
	// MaxMessageSize is the maximum upper-layer message size in bytes.
	// Messages larger than this are rejected before anything is queued.
	// Default: 2048
	MaxMessageSize int

	// MaxPendingFrames bounds the number of frames waiting in the
	// transmit queue. A send that would exceed the bound fails with
	// ErrQueueOverflow; frames enqueued before the failure stay queued.
	// Default: 256
	MaxPendingFrames int
}

// DefaultConfig returns the default data link configuration
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   DefaultMaxMessageSize,
		MaxPendingFrames: DefaultMaxPendingFrames,
	}
}

// withDefaults fills zero fields with defaults
func (c Config) withDefaults() Config {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxPendingFrames == 0 {
		c.MaxPendingFrames = DefaultMaxPendingFrames
	}
	return c
}
