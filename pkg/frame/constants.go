package frame

import "errors"

// Wire format constants
//
// A frame is always exactly FrameSize bytes on the bus:
// 1 header byte + PayloadSize payload bytes + ChecksumSize checksum bytes.

// Header bits
const (
	HdrValid        uint8 = 0x01 << 7 // Frame carries real payload (vs filler)
	HdrMore         uint8 = 0x01 << 6 // More frames follow for this message
	HdrReservedMask uint8 = 0x3F      // Reserved, written as zero
)

// Frame sizes
const (
	HeaderSize   = 1  // Header is a single flag byte
	PayloadSize  = 32 // Payload capacity of one frame (unit of fragmentation)
	ChecksumSize = 2  // Trailing CRC field, owned by the transfer hardware

	FrameSize = HeaderSize + PayloadSize + ChecksumSize
)

// Errors
var (
	ErrFrameTooShort = errors.New("frame buffer shorter than frame size")
)
