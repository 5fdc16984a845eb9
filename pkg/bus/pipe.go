package bus

import (
	"errors"
	"sync"
)

var (
	ErrExchangeBusy = errors.New("bus: exchange already in flight")
	ErrUnplugged    = errors.New("bus: endpoint is unplugged")
	ErrNotConnected = errors.New("bus: not connected")
)

// Pipe creates two cross-wired in-process bus endpoints, the software
// equivalent of the physical point-to-point bus. Each endpoint's pending
// line drives the peer's wake input; an endpoint that is mid-exchange also
// asserts the peer's wake, which is what lets the two exchange schedulers
// rendezvous. Frame buffers swap the moment both sides have an exchange in
// flight, and both completion handlers fire.
func Pipe() (*PipeEndpoint, *PipeEndpoint) {
	core := &pipeCore{attached: true}
	return &PipeEndpoint{core: core, idx: 0}, &PipeEndpoint{core: core, idx: 1}
}

// pipeCore is the shared state of a pipe pair
type pipeCore struct {
	mu       sync.Mutex
	attached bool
	half     [2]pipeHalf
}

type pipeHalf struct {
	tx, rx     []byte
	inFlight   bool
	pendingOut bool
	readyOut   bool

	completion func()
	wakeEdge   func()
	attach     func(bool)

	stats TransportStats
}

// PipeEndpoint is one end of an in-process bus pair. It implements
// TransferEngine and AttachNotifier and exposes its signal lines.
type PipeEndpoint struct {
	core *pipeCore
	idx  int
}

// wakeLevelLocked is the wake level seen by the peer of half h:
// asserted while h has data pending or an exchange in flight.
func (h *pipeHalf) wakeLevelLocked() bool {
	return h.pendingOut || h.inFlight
}

// SetCompletionHandler implements TransferEngine.SetCompletionHandler
func (e *PipeEndpoint) SetCompletionHandler(handler func()) {
	e.core.mu.Lock()
	e.core.half[e.idx].completion = handler
	e.core.mu.Unlock()
}

// Exchange implements TransferEngine.Exchange. If the peer already has an
// exchange in flight the two rendezvous immediately; otherwise this side
// waits in flight and raises the peer's wake level.
func (e *PipeEndpoint) Exchange(tx, rx []byte) error {
	c := e.core

	var fire []func()

	c.mu.Lock()
	h := &c.half[e.idx]
	p := &c.half[1-e.idx]

	if !c.attached {
		c.mu.Unlock()
		return ErrUnplugged
	}
	if h.inFlight {
		c.mu.Unlock()
		return ErrExchangeBusy
	}

	if p.inFlight {
		// Rendezvous: swap the two frames and complete both sides
		copy(rx, p.tx)
		copy(p.rx, tx)

		h.stats.BytesSent += uint64(len(tx))
		h.stats.BytesReceived += uint64(len(rx))
		p.stats.BytesSent += uint64(len(p.tx))
		p.stats.BytesReceived += uint64(len(p.rx))

		p.inFlight = false
		p.tx, p.rx = nil, nil

		if h.completion != nil {
			fire = append(fire, h.completion)
		}
		if p.completion != nil {
			fire = append(fire, p.completion)
		}
	} else {
		wasAsserted := h.wakeLevelLocked()
		h.tx, h.rx = tx, rx
		h.inFlight = true
		if !wasAsserted && p.wakeEdge != nil {
			fire = append(fire, p.wakeEdge)
		}
	}
	c.mu.Unlock()

	// Handlers run outside the pipe lock; they re-enter the endpoint
	for _, f := range fire {
		go f()
	}
	return nil
}

// Cancel implements TransferEngine.Cancel
func (e *PipeEndpoint) Cancel() {
	c := e.core
	c.mu.Lock()
	h := &c.half[e.idx]
	if h.inFlight {
		h.inFlight = false
		h.tx, h.rx = nil, nil
	}
	c.mu.Unlock()
}

// OnAttachChange implements AttachNotifier.OnAttachChange
func (e *PipeEndpoint) OnAttachChange(handler func(attached bool)) {
	e.core.mu.Lock()
	e.core.half[e.idx].attach = handler
	e.core.mu.Unlock()
}

// SetAttached simulates plugging or unplugging the physical link. Both
// endpoints' attach handlers fire on a change.
func (e *PipeEndpoint) SetAttached(attached bool) {
	c := e.core

	var fire []func(bool)

	c.mu.Lock()
	if c.attached != attached {
		c.attached = attached
		for i := range c.half {
			if c.half[i].attach != nil {
				fire = append(fire, c.half[i].attach)
			}
		}
	}
	c.mu.Unlock()

	for _, f := range fire {
		f(attached)
	}
}

// WakeLine returns this endpoint's wake input
func (e *PipeEndpoint) WakeLine() InputLine {
	return &pipeWakeLine{e}
}

// ReadyLine returns this endpoint's ready output
func (e *PipeEndpoint) ReadyLine() OutputLine {
	return &pipeReadyLine{e}
}

// PendingLine returns this endpoint's pending-data output
func (e *PipeEndpoint) PendingLine() OutputLine {
	return &pipePendingLine{e}
}

// ReadyAsserted reports the level this endpoint drives on its ready line
func (e *PipeEndpoint) ReadyAsserted() bool {
	e.core.mu.Lock()
	defer e.core.mu.Unlock()
	return e.core.half[e.idx].readyOut
}

// PendingAsserted reports the level this endpoint drives on its pending line
func (e *PipeEndpoint) PendingAsserted() bool {
	e.core.mu.Lock()
	defer e.core.mu.Unlock()
	return e.core.half[e.idx].pendingOut
}

// Statistics returns a snapshot of endpoint statistics
func (e *PipeEndpoint) Statistics() TransportStats {
	e.core.mu.Lock()
	defer e.core.mu.Unlock()
	return e.core.half[e.idx].stats
}

// pipeWakeLine adapts an endpoint's wake input to InputLine
type pipeWakeLine struct {
	e *PipeEndpoint
}

func (w *pipeWakeLine) Asserted() bool {
	c := w.e.core
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.half[1-w.e.idx].wakeLevelLocked()
}

func (w *pipeWakeLine) OnAssert(handler func()) {
	c := w.e.core
	c.mu.Lock()
	c.half[w.e.idx].wakeEdge = handler
	c.mu.Unlock()
}

// pipeReadyLine adapts an endpoint's ready output to OutputLine
type pipeReadyLine struct {
	e *PipeEndpoint
}

func (r *pipeReadyLine) Set(asserted bool) {
	c := r.e.core
	c.mu.Lock()
	c.half[r.e.idx].readyOut = asserted
	c.mu.Unlock()
}

// pipePendingLine adapts an endpoint's pending output to OutputLine
type pipePendingLine struct {
	e *PipeEndpoint
}

func (p *pipePendingLine) Set(asserted bool) {
	c := p.e.core

	var fire func()

	c.mu.Lock()
	h := &c.half[p.e.idx]
	peer := &c.half[1-p.e.idx]
	if h.pendingOut != asserted {
		wasAsserted := h.wakeLevelLocked()
		h.pendingOut = asserted
		if !wasAsserted && h.wakeLevelLocked() && peer.wakeEdge != nil {
			fire = peer.wakeEdge
		}
	}
	c.mu.Unlock()

	if fire != nil {
		go fire()
	}
}
