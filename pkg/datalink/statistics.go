package datalink

import "sync/atomic"

// Statistics tracks data link statistics
type Statistics struct {
	numExchanges      uint64
	numExchangeErrors uint64

	numFramesTx  uint64
	numFramesRx  uint64
	numFillersTx uint64
	numFillersRx uint64

	numMessagesTx uint64
	numMessagesRx uint64

	numDroppedFrames     uint64
	numOversizeRejects   uint64
	numOverflowRejects   uint64
	numDiscardedOnDetach uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Exchange counts a started exchange
func (s *Statistics) Exchange() {
	atomic.AddUint64(&s.numExchanges, 1)
}

// ExchangeError counts a transfer engine start failure
func (s *Statistics) ExchangeError() {
	atomic.AddUint64(&s.numExchangeErrors, 1)
}

// FrameTx counts a transmitted data frame
func (s *Statistics) FrameTx() {
	atomic.AddUint64(&s.numFramesTx, 1)
}

// FrameRx counts a received data frame
func (s *Statistics) FrameRx() {
	atomic.AddUint64(&s.numFramesRx, 1)
}

// FillerTx counts a transmitted filler frame
func (s *Statistics) FillerTx() {
	atomic.AddUint64(&s.numFillersTx, 1)
}

// FillerRx counts a received filler frame
func (s *Statistics) FillerRx() {
	atomic.AddUint64(&s.numFillersRx, 1)
}

// MessageTx counts an accepted send
func (s *Statistics) MessageTx() {
	atomic.AddUint64(&s.numMessagesTx, 1)
}

// MessageRx counts a delivered message
func (s *Statistics) MessageRx() {
	atomic.AddUint64(&s.numMessagesRx, 1)
}

// DroppedFrame counts a frame dropped by the reassembly guard
func (s *Statistics) DroppedFrame() {
	atomic.AddUint64(&s.numDroppedFrames, 1)
}

// OversizeReject counts a send rejected for exceeding the message bound
func (s *Statistics) OversizeReject() {
	atomic.AddUint64(&s.numOversizeRejects, 1)
}

// OverflowReject counts a send rejected by the queue bound
func (s *Statistics) OverflowReject() {
	atomic.AddUint64(&s.numOverflowRejects, 1)
}

// DiscardedOnDetach counts frames discarded while draining on detach
func (s *Statistics) DiscardedOnDetach(n int) {
	atomic.AddUint64(&s.numDiscardedOnDetach, uint64(n))
}

// GetExchanges returns started exchanges
func (s *Statistics) GetExchanges() uint64 {
	return atomic.LoadUint64(&s.numExchanges)
}

// GetExchangeErrors returns transfer engine start failures
func (s *Statistics) GetExchangeErrors() uint64 {
	return atomic.LoadUint64(&s.numExchangeErrors)
}

// GetFramesTx returns transmitted data frames
func (s *Statistics) GetFramesTx() uint64 {
	return atomic.LoadUint64(&s.numFramesTx)
}

// GetFramesRx returns received data frames
func (s *Statistics) GetFramesRx() uint64 {
	return atomic.LoadUint64(&s.numFramesRx)
}

// GetFillersTx returns transmitted filler frames
func (s *Statistics) GetFillersTx() uint64 {
	return atomic.LoadUint64(&s.numFillersTx)
}

// GetFillersRx returns received filler frames
func (s *Statistics) GetFillersRx() uint64 {
	return atomic.LoadUint64(&s.numFillersRx)
}

// GetMessagesTx returns accepted sends
func (s *Statistics) GetMessagesTx() uint64 {
	return atomic.LoadUint64(&s.numMessagesTx)
}

// GetMessagesRx returns delivered messages
func (s *Statistics) GetMessagesRx() uint64 {
	return atomic.LoadUint64(&s.numMessagesRx)
}

// GetDroppedFrames returns frames dropped by the reassembly guard
func (s *Statistics) GetDroppedFrames() uint64 {
	return atomic.LoadUint64(&s.numDroppedFrames)
}

// GetOversizeRejects returns sends rejected for size
func (s *Statistics) GetOversizeRejects() uint64 {
	return atomic.LoadUint64(&s.numOversizeRejects)
}

// GetOverflowRejects returns sends rejected by the queue bound
func (s *Statistics) GetOverflowRejects() uint64 {
	return atomic.LoadUint64(&s.numOverflowRejects)
}

// GetDiscardedOnDetach returns frames discarded on detach
func (s *Statistics) GetDiscardedOnDetach() uint64 {
	return atomic.LoadUint64(&s.numDiscardedOnDetach)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numExchanges, 0)
	atomic.StoreUint64(&s.numExchangeErrors, 0)
	atomic.StoreUint64(&s.numFramesTx, 0)
	atomic.StoreUint64(&s.numFramesRx, 0)
	atomic.StoreUint64(&s.numFillersTx, 0)
	atomic.StoreUint64(&s.numFillersRx, 0)
	atomic.StoreUint64(&s.numMessagesTx, 0)
	atomic.StoreUint64(&s.numMessagesRx, 0)
	atomic.StoreUint64(&s.numDroppedFrames, 0)
	atomic.StoreUint64(&s.numOversizeRejects, 0)
	atomic.StoreUint64(&s.numOverflowRejects, 0)
	atomic.StoreUint64(&s.numDiscardedOnDetach, 0)
}
