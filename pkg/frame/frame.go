package frame

import (
	"encoding/binary"
	"fmt"
)

// Frame represents one fixed-size data-link frame
type Frame struct {
	Valid bool              // Frame carries real payload
	More  bool              // More frames follow to complete the message
	Data  [PayloadSize]byte // Payload, zero-padded to capacity

	// Checksum is generated and verified by the transfer hardware.
	// Software always writes zero and never interprets it on receive.
	Checksum uint16
}

// NewDataFrame creates a valid frame carrying one fragment of a message.
// Fragments shorter than PayloadSize are zero-padded.
func NewDataFrame(fragment []byte, more bool) *Frame {
	f := &Frame{
		Valid: true,
		More:  more,
	}
	copy(f.Data[:], fragment)
	return f
}

// NewFillerFrame creates a filler frame, sent when this side has nothing
// queued but must still participate in an exchange.
func NewFillerFrame() *Frame {
	return &Frame{}
}

// buildHeader builds the header flag byte
func (f *Frame) buildHeader() uint8 {
	var hdr uint8
	if f.Valid {
		hdr |= HdrValid
	}
	if f.More {
		hdr |= HdrMore
	}
	return hdr
}

// parseHeader parses the header flag byte into frame fields.
// Reserved bits are ignored for forward compatibility.
func (f *Frame) parseHeader(hdr uint8) {
	f.Valid = (hdr & HdrValid) != 0
	f.More = (hdr & HdrMore) != 0
}

// Serialize converts the frame to its fixed-size wire format
func (f *Frame) Serialize() []byte {
	buf := make([]byte, FrameSize)
	buf[0] = f.buildHeader()
	copy(buf[HeaderSize:], f.Data[:])
	binary.LittleEndian.PutUint16(buf[HeaderSize+PayloadSize:], f.Checksum)
	return buf
}

// Parse parses a wire-format buffer into a Frame
func Parse(data []byte) (*Frame, error) {
	if len(data) < FrameSize {
		return nil, ErrFrameTooShort
	}

	f := &Frame{}
	f.parseHeader(data[0])
	copy(f.Data[:], data[HeaderSize:HeaderSize+PayloadSize])
	f.Checksum = binary.LittleEndian.Uint16(data[HeaderSize+PayloadSize:])

	return f, nil
}

// Fragment splits a message into the frames that carry it, in order.
// Every frame but the last has More set; the last fragment is zero-padded
// to PayloadSize. An empty message produces no frames.
func Fragment(msg []byte) []*Frame {
	if len(msg) == 0 {
		return nil
	}

	var frames []*Frame
	for offset := 0; offset < len(msg); offset += PayloadSize {
		end := offset + PayloadSize
		more := true
		if end >= len(msg) {
			end = len(msg)
			more = false
		}
		frames = append(frames, NewDataFrame(msg[offset:end], more))
	}

	return frames
}

// FrameCount returns the number of frames a message of the given length
// fragments into.
func FrameCount(msgLen int) int {
	return (msgLen + PayloadSize - 1) / PayloadSize
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Valid=%t, More=%t}", f.Valid, f.More)
}

// Clone creates a deep copy of the frame
func (f *Frame) Clone() *Frame {
	c := *f
	return &c
}
