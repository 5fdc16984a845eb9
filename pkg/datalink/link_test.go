package datalink

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/kazuhiroondo/spilink-go/pkg/frame"
)

// mockEngine is a scripted transfer engine: Exchange records the frame
// handed to it and completeWith simulates the hardware completion event
// with a chosen received frame.
type mockEngine struct {
	mu       sync.Mutex
	handler  func()
	inFlight bool
	rxBuf    []byte
	sent     [][]byte
	cancels  int
	failNext bool

	// Exchanges issued after the first Cancel, for detach ordering checks
	postCancelExchanges int
}

func (m *mockEngine) Exchange(tx, rx []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext {
		m.failNext = false
		return errors.New("mock engine failure")
	}
	if m.inFlight {
		return errors.New("exchange already in flight")
	}
	if m.cancels > 0 {
		m.postCancelExchanges++
	}

	cp := make([]byte, len(tx))
	copy(cp, tx)
	m.sent = append(m.sent, cp)
	m.rxBuf = rx
	m.inFlight = true
	return nil
}

func (m *mockEngine) Cancel() {
	m.mu.Lock()
	m.cancels++
	m.inFlight = false
	m.mu.Unlock()
}

func (m *mockEngine) SetCompletionHandler(handler func()) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// completeWith finishes the exchange in flight, delivering rx as the
// received frame. Runs the completion handler on the caller's goroutine so
// tests stay deterministic.
func (m *mockEngine) completeWith(t *testing.T, rx []byte) {
	t.Helper()

	m.mu.Lock()
	if !m.inFlight {
		m.mu.Unlock()
		t.Fatalf("completeWith called with no exchange in flight")
	}
	copy(m.rxBuf, rx)
	m.inFlight = false
	handler := m.handler
	m.mu.Unlock()

	handler()
}

func (m *mockEngine) exchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockEngine) sentFrame(t *testing.T, i int) *frame.Frame {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.sent) {
		t.Fatalf("No exchange %d recorded (have %d)", i, len(m.sent))
	}
	f, err := frame.Parse(m.sent[i])
	if err != nil {
		t.Fatalf("Sent buffer %d does not parse: %v", i, err)
	}
	return f
}

// mockWake is a scripted wake input line
type mockWake struct {
	mu      sync.Mutex
	level   bool
	handler func()
}

func (w *mockWake) Asserted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.level
}

func (w *mockWake) OnAssert(handler func()) {
	w.mu.Lock()
	w.handler = handler
	w.mu.Unlock()
}

// assert raises the level and fires the edge handler synchronously
func (w *mockWake) assert() {
	w.mu.Lock()
	w.level = true
	handler := w.handler
	w.mu.Unlock()

	if handler != nil {
		handler()
	}
}

func (w *mockWake) deassert() {
	w.mu.Lock()
	w.level = false
	w.mu.Unlock()
}

// raiseQuietly sets the level without firing the edge handler
func (w *mockWake) raiseQuietly() {
	w.mu.Lock()
	w.level = true
	w.mu.Unlock()
}

// mockLine records every level driven onto an output line
type mockLine struct {
	mu      sync.Mutex
	history []bool
}

func (l *mockLine) Set(asserted bool) {
	l.mu.Lock()
	l.history = append(l.history, asserted)
	l.mu.Unlock()
}

func (l *mockLine) last() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.history) == 0 {
		return false
	}
	return l.history[len(l.history)-1]
}

type linkHarness struct {
	engine  *mockEngine
	wake    *mockWake
	ready   *mockLine
	pending *mockLine

	mu        sync.Mutex
	delivered [][]byte

	link *Link
}

func newLinkHarness(t *testing.T, cfg Config) *linkHarness {
	t.Helper()

	h := &linkHarness{
		engine:  &mockEngine{},
		wake:    &mockWake{},
		ready:   &mockLine{},
		pending: &mockLine{},
	}

	ports := Ports{
		Engine:  h.engine,
		Wake:    h.wake,
		Ready:   h.ready,
		Pending: h.pending,
	}

	link, err := New(cfg, ports, func(msg []byte) {
		h.mu.Lock()
		h.delivered = append(h.delivered, msg)
		h.mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h.link = link
	return h
}

func (h *linkHarness) deliveredCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.delivered)
}

func fillerWire() []byte {
	return frame.NewFillerFrame().Serialize()
}

func TestNew_RequiresPorts(t *testing.T) {
	recv := func([]byte) {}

	_, err := New(DefaultConfig(), Ports{}, recv, nil)
	if err == nil {
		t.Errorf("Expected error for missing ports")
	}

	ports := Ports{
		Engine:  &mockEngine{},
		Wake:    &mockWake{},
		Ready:   &mockLine{},
		Pending: &mockLine{},
	}
	if _, err := New(DefaultConfig(), ports, nil, nil); err == nil {
		t.Errorf("Expected error for missing receiver")
	}
}

func TestSend_TooLarge(t *testing.T) {
	h := newLinkHarness(t, Config{MaxMessageSize: 64})

	err := h.link.Send(make([]byte, 65))
	if err != ErrMessageTooLarge {
		t.Fatalf("Expected ErrMessageTooLarge, got %v", err)
	}

	if h.link.QueueLen() != 0 {
		t.Errorf("Oversize send must not enqueue anything, queue=%d", h.link.QueueLen())
	}
	if h.engine.exchangeCount() != 0 {
		t.Errorf("Oversize send must not start an exchange")
	}
	if h.link.Statistics().GetOversizeRejects() != 1 {
		t.Errorf("Expected 1 oversize reject")
	}
}

func TestSend_QueuesInOrderWithoutWake(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	msgA := bytes.Repeat([]byte{0xAA}, 10)
	msgB := bytes.Repeat([]byte{0xBB}, 10)

	if err := h.link.Send(msgA); err != nil {
		t.Fatalf("Send A failed: %v", err)
	}
	if err := h.link.Send(msgB); err != nil {
		t.Fatalf("Send B failed: %v", err)
	}

	// Wake not asserted: nothing moves, everything queued in call order
	if h.link.QueueLen() != 2 {
		t.Fatalf("Expected 2 pending frames, got %d", h.link.QueueLen())
	}
	if h.engine.exchangeCount() != 0 {
		t.Fatalf("No exchange may start without wake")
	}
	if !h.pending.last() {
		t.Errorf("Pending level should be exported while data is queued")
	}

	h.wake.assert()
	if h.engine.exchangeCount() != 1 {
		t.Fatalf("Expected 1 exchange after wake, got %d", h.engine.exchangeCount())
	}

	h.engine.completeWith(t, fillerWire())
	h.wake.deassert()
	h.engine.completeWith(t, fillerWire())

	if got := h.engine.exchangeCount(); got != 2 {
		t.Fatalf("Expected 2 exchanges, got %d", got)
	}
	if !bytes.Equal(h.engine.sentFrame(t, 0).Data[:10], msgA) {
		t.Errorf("First exchanged frame is not message A")
	}
	if !bytes.Equal(h.engine.sentFrame(t, 1).Data[:10], msgB) {
		t.Errorf("Second exchanged frame is not message B")
	}
}

func TestWake_SingleExchange(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	if err := h.link.Send([]byte("0123456789")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if h.engine.exchangeCount() != 0 {
		t.Fatalf("Exchange started before wake")
	}

	h.wake.assert()

	if h.engine.exchangeCount() != 1 {
		t.Fatalf("Expected exactly 1 exchange, got %d", h.engine.exchangeCount())
	}
	if h.link.QueueLen() != 0 {
		t.Errorf("Queue should have decreased by exactly 1")
	}
	if !h.ready.last() {
		t.Errorf("Ready line must be asserted during the transfer")
	}
	if h.link.State() != StateExchanging {
		t.Errorf("Expected Exchanging state, got %s", h.link.State())
	}

	h.wake.deassert()
	h.engine.completeWith(t, fillerWire())

	if h.ready.last() {
		t.Errorf("Ready line must be deasserted after the transfer")
	}
	if h.engine.exchangeCount() != 1 {
		t.Errorf("No further exchange once wake dropped")
	}
	if h.link.State() != StateIdle {
		t.Errorf("Expected Idle state, got %s", h.link.State())
	}
}

func TestFillerExchange_NoEffect(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	// Remote wakes the link with nothing queued on this side
	h.wake.assert()

	if h.engine.exchangeCount() != 1 {
		t.Fatalf("Expected 1 exchange, got %d", h.engine.exchangeCount())
	}
	if h.engine.sentFrame(t, 0).Valid {
		t.Errorf("Nothing queued: the exchanged frame must be a filler")
	}

	h.wake.deassert()
	h.engine.completeWith(t, fillerWire())

	if h.deliveredCount() != 0 {
		t.Errorf("Filler exchange must not deliver anything")
	}
	if h.link.QueueLen() != 0 {
		t.Errorf("Filler exchange must not touch the queue")
	}

	stats := h.link.Statistics()
	if stats.GetFillersTx() != 1 || stats.GetFillersRx() != 1 {
		t.Errorf("Expected 1 filler each way, got tx=%d rx=%d",
			stats.GetFillersTx(), stats.GetFillersRx())
	}
	if stats.GetMessagesRx() != 0 {
		t.Errorf("No message may be counted for a filler exchange")
	}
}

func TestRoundtrip_TwoFragmentMessage(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	// Payload capacity plus 5 bytes: exactly two frames
	msg := append(bytes.Repeat([]byte("hello world "), 3)[:frame.PayloadSize], '3', '7', '!', '?', '.')
	if len(msg) != frame.PayloadSize+5 {
		t.Fatalf("Test message should be %d bytes, got %d", frame.PayloadSize+5, len(msg))
	}

	if err := h.link.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	h.wake.assert()

	f0 := h.engine.sentFrame(t, 0)
	if !f0.Valid || !f0.More {
		t.Errorf("Frame 0: expected Valid More, got Valid=%t More=%t", f0.Valid, f0.More)
	}
	if !bytes.Equal(f0.Data[:], msg[:frame.PayloadSize]) {
		t.Errorf("Frame 0 payload mismatch")
	}

	// Remote loops our own frames back at us
	h.engine.completeWith(t, h.engine.sent[0])

	f1 := h.engine.sentFrame(t, 1)
	if !f1.Valid || f1.More {
		t.Errorf("Frame 1: expected Valid only, got Valid=%t More=%t", f1.Valid, f1.More)
	}
	if !bytes.Equal(f1.Data[:5], msg[frame.PayloadSize:]) {
		t.Errorf("Frame 1 payload mismatch")
	}
	for i := 5; i < frame.PayloadSize; i++ {
		if f1.Data[i] != 0 {
			t.Fatalf("Frame 1 not zero-padded at offset %d", i)
		}
	}

	h.engine.completeWith(t, h.engine.sent[1])

	if h.deliveredCount() != 1 {
		t.Fatalf("Expected exactly 1 delivery, got %d", h.deliveredCount())
	}
	got := h.delivered[0]
	if len(got) != 2*frame.PayloadSize {
		t.Fatalf("Expected %d delivered bytes, got %d", 2*frame.PayloadSize, len(got))
	}
	if !bytes.Equal(got[:len(msg)], msg) {
		t.Errorf("Delivered bytes do not match the original message")
	}

	// Settle the drain loop
	h.wake.deassert()
	h.engine.completeWith(t, fillerWire())
}

func TestDetach_DiscardsQueue(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	h.link.Send(bytes.Repeat([]byte{1}, 10))
	h.link.Send(bytes.Repeat([]byte{2}, 10))
	if h.link.QueueLen() != 2 {
		t.Fatalf("Expected 2 queued frames, got %d", h.link.QueueLen())
	}

	h.link.Detach()

	if h.link.QueueLen() != 0 {
		t.Errorf("Detach must drain the queue, queue=%d", h.link.QueueLen())
	}
	if h.engine.cancels != 1 {
		t.Errorf("Detach must cancel the transfer engine, cancels=%d", h.engine.cancels)
	}
	if h.pending.last() {
		t.Errorf("Pending level must drop on detach")
	}
	if h.link.Statistics().GetDiscardedOnDetach() != 2 {
		t.Errorf("Expected 2 discarded frames")
	}

	if err := h.link.Send([]byte{3}); err != ErrDetached {
		t.Errorf("Expected ErrDetached, got %v", err)
	}

	// After re-attach, nothing queued before detach may be transmitted
	h.link.Attach()
	if !h.link.Attached() {
		t.Fatalf("Link should be attached")
	}
	h.wake.assert()

	if h.engine.exchangeCount() != 1 {
		t.Fatalf("Expected 1 exchange after re-attach, got %d", h.engine.exchangeCount())
	}
	if h.engine.sentFrame(t, 0).Valid {
		t.Errorf("Pre-detach frame leaked out after re-attach")
	}
}

func TestDetach_RacingExchangeStart(t *testing.T) {
	// A detach landing between the queue pop and the engine call must win:
	// no frame may reach the engine after the teardown's cancel
	for i := 0; i < 200; i++ {
		h := newLinkHarness(t, DefaultConfig())
		h.wake.raiseQuietly()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.link.Send([]byte("racer"))
		}()
		h.link.Detach()
		wg.Wait()

		h.engine.mu.Lock()
		n := h.engine.postCancelExchanges
		h.engine.mu.Unlock()
		if n != 0 {
			t.Fatalf("Iteration %d: %d frames reached the engine after detach", i, n)
		}
	}
}

func TestDetach_Idempotent(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	h.link.Detach()
	h.link.Detach()

	if h.link.Attached() {
		t.Errorf("Link should stay detached")
	}

	h.link.Attach()
	h.link.Attach()

	if !h.link.Attached() {
		t.Errorf("Link should be attached")
	}
}

func TestSend_QueueOverflowPartialEnqueue(t *testing.T) {
	h := newLinkHarness(t, Config{MaxPendingFrames: 2})

	err := h.link.Send(make([]byte, 3*frame.PayloadSize))
	if err != ErrQueueOverflow {
		t.Fatalf("Expected ErrQueueOverflow, got %v", err)
	}

	// Fragments enqueued before the failure stay enqueued
	if h.link.QueueLen() != 2 {
		t.Errorf("Expected 2 frames after partial enqueue, got %d", h.link.QueueLen())
	}
	if h.link.Statistics().GetOverflowRejects() != 1 {
		t.Errorf("Expected 1 overflow reject")
	}
}

func TestReceive_OverflowGuardDropsFrame(t *testing.T) {
	h := newLinkHarness(t, Config{MaxMessageSize: frame.PayloadSize})

	h.wake.assert()
	h.engine.completeWith(t, frame.NewDataFrame(bytes.Repeat([]byte{7}, frame.PayloadSize), true).Serialize())

	// Second fragment would exceed the message bound: dropped silently
	h.engine.completeWith(t, frame.NewDataFrame([]byte{8}, true).Serialize())

	if h.deliveredCount() != 0 {
		t.Errorf("Nothing may be delivered")
	}
	if h.link.Statistics().GetDroppedFrames() != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", h.link.Statistics().GetDroppedFrames())
	}

	h.wake.deassert()
	h.engine.completeWith(t, fillerWire())
}

func TestExchangeStartFailure_LinkStaysServiceable(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	h.engine.failNext = true
	h.link.Send([]byte("lost"))
	h.wake.assert()

	if h.link.State() != StateIdle {
		t.Fatalf("Link should return to Idle after a start failure, got %s", h.link.State())
	}
	if h.ready.last() {
		t.Errorf("Ready must be deasserted after a start failure")
	}
	if h.link.Statistics().GetExchangeErrors() != 1 {
		t.Errorf("Expected 1 exchange error")
	}

	// The link keeps servicing sends
	if err := h.link.Send([]byte("next")); err != nil {
		t.Fatalf("Send after failure failed: %v", err)
	}
	if h.engine.exchangeCount() != 1 {
		t.Fatalf("Expected the next exchange to start, got %d", h.engine.exchangeCount())
	}

	h.wake.deassert()
	h.engine.completeWith(t, fillerWire())
}

func TestPendingLevel_FollowsQueue(t *testing.T) {
	h := newLinkHarness(t, DefaultConfig())

	if h.pending.last() {
		t.Fatalf("Pending must start deasserted")
	}

	h.link.Send([]byte{1, 2, 3})
	if !h.pending.last() {
		t.Errorf("Pending must rise when data is queued")
	}

	h.wake.assert()
	h.wake.deassert()
	h.engine.completeWith(t, fillerWire())

	if h.pending.last() {
		t.Errorf("Pending must drop once the queue drains")
	}
}
