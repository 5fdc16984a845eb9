package bus

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/kazuhiroondo/spilink-go/pkg/frame"
	"github.com/kazuhiroondo/spilink-go/pkg/internal/logger"
)

// bridgeEndpoint is the transport-independent half of a network bus bridge.
// It speaks the record protocol of wire.go over whatever byte stream the
// TCP or QUIC bridge hands it, and presents the TransferEngine, signal-line
// and attach-notifier contracts to the data link.
//
// An exchange works like the pipe rendezvous, stretched over the network:
// Exchange sends this side's frame immediately; the exchange completes when
// the peer's frame for the same rendezvous has arrived. A peer frame that
// arrives first is parked and asserts the wake level until this side joins.
// Stream up/down transitions surface as attach/detach events.
type bridgeEndpoint struct {
	mu     sync.Mutex
	stream io.Writer // current byte stream toward the peer, nil when down

	// writeMu serializes record writes; neither net.Conn partial writes
	// nor quic streams tolerate concurrent writers
	writeMu sync.Mutex

	inFlight    bool
	rx          []byte // receive buffer of the exchange in flight
	peerFrame   []byte // parked frame from a peer that joined first
	peerPending bool   // peer's exported pending level
	pendingOut  bool
	readyOut    bool

	completion func()
	wakeEdge   func()
	attach     func(bool)

	log logger.Logger

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}
}

// wakeLevelLocked is the level this endpoint sees on its wake input:
// the peer has queued data or is already mid-exchange.
func (b *bridgeEndpoint) wakeLevelLocked() bool {
	return b.peerPending || b.peerFrame != nil
}

// SetCompletionHandler implements TransferEngine.SetCompletionHandler
func (b *bridgeEndpoint) SetCompletionHandler(handler func()) {
	b.mu.Lock()
	b.completion = handler
	b.mu.Unlock()
}

// Exchange implements TransferEngine.Exchange
func (b *bridgeEndpoint) Exchange(tx, rx []byte) error {
	b.mu.Lock()
	if b.stream == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if b.inFlight {
		b.mu.Unlock()
		return ErrExchangeBusy
	}

	stream := b.stream
	complete := false
	if b.peerFrame != nil {
		// Peer joined the rendezvous first
		copy(rx, b.peerFrame)
		b.peerFrame = nil
		complete = true
	} else {
		b.inFlight = true
		b.rx = rx
	}
	handler := b.completion
	b.mu.Unlock()

	b.writeMu.Lock()
	err := writeFrameRecord(stream, tx)
	b.writeMu.Unlock()
	if err != nil {
		b.stats.writeErrors.Add(1)
		b.mu.Lock()
		b.inFlight = false
		b.rx = nil
		b.mu.Unlock()
		return err
	}
	b.stats.bytesSent.Add(uint64(len(tx)))

	if complete {
		b.stats.bytesReceived.Add(uint64(len(rx)))
		if handler != nil {
			go handler()
		}
	}
	return nil
}

// Cancel implements TransferEngine.Cancel
func (b *bridgeEndpoint) Cancel() {
	b.mu.Lock()
	b.inFlight = false
	b.rx = nil
	b.mu.Unlock()
}

// OnAttachChange implements AttachNotifier.OnAttachChange
func (b *bridgeEndpoint) OnAttachChange(handler func(attached bool)) {
	b.mu.Lock()
	b.attach = handler
	b.mu.Unlock()
}

// WakeLine returns this endpoint's wake input
func (b *bridgeEndpoint) WakeLine() InputLine {
	return &bridgeWakeLine{b}
}

// ReadyLine returns this endpoint's ready output. The level is tracked
// locally only: exchange overlap is prevented structurally by the record
// rendezvous, so the peer has no use for the line.
func (b *bridgeEndpoint) ReadyLine() OutputLine {
	return &bridgeReadyLine{b}
}

// PendingLine returns this endpoint's pending-data output; level changes
// travel to the peer as records.
func (b *bridgeEndpoint) PendingLine() OutputLine {
	return &bridgePendingLine{b}
}

// Statistics returns a snapshot of endpoint statistics
func (b *bridgeEndpoint) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     b.stats.bytesSent.Load(),
		BytesReceived: b.stats.bytesReceived.Load(),
		WriteErrors:   b.stats.writeErrors.Load(),
		ReadErrors:    b.stats.readErrors.Load(),
		Connects:      b.stats.connects.Load(),
		Disconnects:   b.stats.disconnects.Load(),
	}
}

// streamUp installs a fresh byte stream and fires the attach event
func (b *bridgeEndpoint) streamUp(stream io.Writer) {
	b.mu.Lock()
	b.stream = stream
	handler := b.attach
	b.mu.Unlock()

	b.stats.connects.Add(1)
	if handler != nil {
		handler(true)
	}

	b.mu.Lock()
	pending := b.pendingOut
	b.mu.Unlock()

	// Resync the pending level after a reconnect; the peer starts from a
	// clean slate
	if pending {
		b.writeMu.Lock()
		err := writeLevelRecord(stream, true)
		b.writeMu.Unlock()
		if err != nil {
			b.stats.writeErrors.Add(1)
		}
	}
}

// streamDown clears the stream and in-flight state and fires detach.
// A stale stream (already replaced by a newer connection) is ignored.
func (b *bridgeEndpoint) streamDown(stream io.Writer) {
	b.mu.Lock()
	wasUp := b.stream != nil && b.stream == stream
	if !wasUp {
		b.mu.Unlock()
		return
	}
	b.stream = nil
	b.inFlight = false
	b.rx = nil
	b.peerFrame = nil
	b.peerPending = false
	handler := b.attach
	b.mu.Unlock()
	b.stats.disconnects.Add(1)
	if handler != nil {
		handler(false)
	}
}

// readLoop services records from the peer until the stream errors out.
// Run by the owning bridge; returns on stream failure so the bridge can
// reconnect. The stream identity is used to ignore stale teardowns when a
// newer connection has already replaced this one.
func (b *bridgeEndpoint) readLoop(r io.Reader, stream io.Writer) {
	frameBuf := make([]byte, frame.FrameSize)

	for {
		typ, level, err := readRecord(r, frameBuf)
		if err != nil {
			if err != io.EOF {
				b.stats.readErrors.Add(1)
				b.log.Debug("bridge: read failed: %v", err)
			}
			b.streamDown(stream)
			return
		}

		switch typ {
		case recFrame:
			b.stats.bytesReceived.Add(uint64(len(frameBuf)))
			b.onPeerFrame(frameBuf)
		case recPending:
			b.onPeerPending(level)
		}
	}
}

// onPeerFrame handles the peer's half of an exchange. If this side is in
// flight the rendezvous completes; otherwise the frame is parked and the
// wake level rises.
func (b *bridgeEndpoint) onPeerFrame(data []byte) {
	var fire func()

	b.mu.Lock()
	if b.inFlight {
		copy(b.rx, data)
		b.inFlight = false
		b.rx = nil
		fire = b.completion
	} else {
		wasAsserted := b.wakeLevelLocked()
		parked := make([]byte, len(data))
		copy(parked, data)
		b.peerFrame = parked
		if !wasAsserted {
			fire = b.wakeEdge
		}
	}
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// onPeerPending handles a pending-level record from the peer
func (b *bridgeEndpoint) onPeerPending(level bool) {
	var fire func()

	b.mu.Lock()
	wasAsserted := b.wakeLevelLocked()
	b.peerPending = level
	if !wasAsserted && b.wakeLevelLocked() {
		fire = b.wakeEdge
	}
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// bridgeWakeLine adapts the endpoint's wake input to InputLine
type bridgeWakeLine struct {
	b *bridgeEndpoint
}

func (w *bridgeWakeLine) Asserted() bool {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	return w.b.wakeLevelLocked()
}

func (w *bridgeWakeLine) OnAssert(handler func()) {
	w.b.mu.Lock()
	w.b.wakeEdge = handler
	w.b.mu.Unlock()
}

// bridgeReadyLine adapts the endpoint's ready output to OutputLine
type bridgeReadyLine struct {
	b *bridgeEndpoint
}

func (r *bridgeReadyLine) Set(asserted bool) {
	r.b.mu.Lock()
	r.b.readyOut = asserted
	r.b.mu.Unlock()
}

// bridgePendingLine adapts the endpoint's pending output to OutputLine
type bridgePendingLine struct {
	b *bridgeEndpoint
}

func (p *bridgePendingLine) Set(asserted bool) {
	p.b.mu.Lock()
	changed := p.b.pendingOut != asserted
	p.b.pendingOut = asserted
	stream := p.b.stream
	p.b.mu.Unlock()

	if !changed || stream == nil {
		return
	}
	p.b.writeMu.Lock()
	err := writeLevelRecord(stream, asserted)
	p.b.writeMu.Unlock()
	if err != nil {
		p.b.stats.writeErrors.Add(1)
		p.b.log.Debug("bridge: pending level write failed: %v", err)
	}
}
