package datalink

import "github.com/kazuhiroondo/spilink-go/pkg/frame"

// TxQueue is the FIFO of frames awaiting transmission. A frame is owned by
// the queue until PopFront hands it to the exchange in flight.
//
// TxQueue is not safe for concurrent use; the Link guards it with its
// exchange lock.
type TxQueue struct {
	frames []*frame.Frame
}

// NewTxQueue creates an empty transmit queue
func NewTxQueue() *TxQueue {
	return &TxQueue{}
}

// PushBack appends a frame to the queue tail
func (q *TxQueue) PushBack(f *frame.Frame) {
	q.frames = append(q.frames, f)
}

// PopFront removes and returns the frame at the queue head,
// or nil if the queue is empty
func (q *TxQueue) PopFront() *frame.Frame {
	if len(q.frames) == 0 {
		return nil
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	if len(q.frames) == 0 {
		q.frames = nil
	}
	return f
}

// Len returns the number of queued frames
func (q *TxQueue) Len() int {
	return len(q.frames)
}

// Empty returns true if nothing is queued
func (q *TxQueue) Empty() bool {
	return len(q.frames) == 0
}

// Drain discards every queued frame without transmitting. Used on detach.
// Returns the number of frames discarded.
func (q *TxQueue) Drain() int {
	n := len(q.frames)
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.frames = nil
	return n
}
