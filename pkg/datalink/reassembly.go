package datalink

import "github.com/kazuhiroondo/spilink-go/pkg/frame"

// Reassembler accumulates payload from a run of incoming frames into one
// upper-layer message, terminated by a frame without the More flag.
//
// Reassembler is not safe for concurrent use; the Link guards it with its
// exchange lock.
type Reassembler struct {
	buf    []byte // capacity = maximum message size
	cursor int
}

// NewReassembler creates a reassembler bounded to maxMessageSize bytes
func NewReassembler(maxMessageSize int) *Reassembler {
	return &Reassembler{
		buf: make([]byte, maxMessageSize),
	}
}

// Process appends one received frame's payload. The frame must carry real
// payload (Valid set); filler frames are filtered out by the caller.
//
// Returns the complete message once a frame without More arrives, nil while
// more fragments are expected. A frame that would overflow the message bound
// is rejected with ErrReassemblyOverflow and leaves the accumulated state
// unchanged, guarding against a runaway remote sender.
func (r *Reassembler) Process(f *frame.Frame) ([]byte, error) {
	if r.cursor+frame.PayloadSize > len(r.buf) {
		return nil, ErrReassemblyOverflow
	}

	copy(r.buf[r.cursor:], f.Data[:])
	r.cursor += frame.PayloadSize

	if f.More {
		// More fragments expected
		return nil, nil
	}

	// Message complete. Deliver only the used region, not the whole
	// buffer. The wire carries no message length, so the final fragment's
	// zero padding is included; the upper protocol frames its own length.
	msg := make([]byte, r.cursor)
	copy(msg, r.buf[:r.cursor])
	r.Reset()
	return msg, nil
}

// Pending returns the number of bytes accumulated so far
func (r *Reassembler) Pending() int {
	return r.cursor
}

// InProgress returns true if a partial message has been accumulated
func (r *Reassembler) InProgress() bool {
	return r.cursor > 0
}

// Reset zeroes the used region and empties the reassembler so the next
// message starts clean
func (r *Reassembler) Reset() {
	for i := 0; i < r.cursor; i++ {
		r.buf[i] = 0
	}
	r.cursor = 0
}
