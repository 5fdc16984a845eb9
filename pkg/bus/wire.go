package bus

import (
	"fmt"
	"io"

	"github.com/kazuhiroondo/spilink-go/pkg/frame"
)

// Record protocol carrying the emulated bus signals between two bridge
// endpoints over a reliable byte stream. Each record is a type byte
// followed by a fixed payload:
//
//	recFrame   + frame.FrameSize bytes  - one wire frame (an exchange half)
//	recPending + 1 byte                 - pending line level (0 or 1)
const (
	recFrame   byte = 0x01
	recPending byte = 0x02
)

// writeFrameRecord writes one frame record
func writeFrameRecord(w io.Writer, tx []byte) error {
	buf := make([]byte, 1+frame.FrameSize)
	buf[0] = recFrame
	copy(buf[1:], tx)
	_, err := w.Write(buf)
	return err
}

// writeLevelRecord writes one pending-level record
func writeLevelRecord(w io.Writer, asserted bool) error {
	buf := []byte{recPending, 0}
	if asserted {
		buf[1] = 1
	}
	_, err := w.Write(buf)
	return err
}

// readRecord reads the next record. For recFrame the frame bytes are read
// into frameBuf, which must be frame.FrameSize long.
func readRecord(r io.Reader, frameBuf []byte) (typ byte, level bool, err error) {
	var hdr [1]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, false, err
	}

	switch hdr[0] {
	case recFrame:
		if _, err = io.ReadFull(r, frameBuf); err != nil {
			return 0, false, err
		}
		return recFrame, false, nil

	case recPending:
		var lvl [1]byte
		if _, err = io.ReadFull(r, lvl[:]); err != nil {
			return 0, false, err
		}
		return recPending, lvl[0] != 0, nil

	default:
		return 0, false, fmt.Errorf("bus: unknown record type 0x%02x", hdr[0])
	}
}
