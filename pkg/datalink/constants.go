package datalink

import "errors"

// Defaults
const (
	// DefaultMaxMessageSize is the maximum upper-layer message size.
	// The reassembly buffer is sized to this bound.
	DefaultMaxMessageSize = 2048

	// DefaultMaxPendingFrames bounds the transmit queue. The original
	// hardware design has no bound beyond allocator exhaustion; the
	// queue cap is the Go rendition of that admission control.
	DefaultMaxPendingFrames = 256
)

// Errors
var (
	ErrMessageTooLarge    = errors.New("message exceeds maximum message size")
	ErrQueueOverflow      = errors.New("transmit queue is full")
	ErrDetached           = errors.New("link is detached")
	ErrReassemblyOverflow = errors.New("reassembly would exceed maximum message size")
)

// State is the exchange scheduler state
type State int

const (
	StateIdle       State = iota // No exchange running
	StateExchanging              // One frame move in flight on the transfer engine
)

// String returns string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateExchanging:
		return "Exchanging"
	default:
		return "Unknown"
	}
}
