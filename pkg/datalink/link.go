package datalink

import (
	"errors"
	"sync"

	"github.com/kazuhiroondo/spilink-go/pkg/bus"
	"github.com/kazuhiroondo/spilink-go/pkg/frame"
	"github.com/kazuhiroondo/spilink-go/pkg/internal/logger"
)

// Receiver is the upper layer's receive callback, invoked once per fully
// reassembled message. It runs in whatever goroutine the transfer-completion
// event arrives in and must not block.
type Receiver func(msg []byte)

// Ports bundles the external collaborators a Link is composed with.
// Engine, Wake, Ready and Pending are required; Attach is optional.
type Ports struct {
	Engine  bus.TransferEngine // Underlying full-duplex transfer engine
	Wake    bus.InputLine      // Remote asserts this to request an exchange
	Ready   bus.OutputLine     // Asserted while an exchange is in progress
	Pending bus.OutputLine     // Level export: outgoing data is queued
	Attach  bus.AttachNotifier // Physical attach/detach events
}

// Link is the data link composition root. It owns the transmit queue, the
// reassembler and the exchange scheduler state, and reacts to the external
// events: upper-layer sends, remote wake edges, transfer completions and
// attach/detach notifications. All four may arrive on arbitrary goroutines.
type Link struct {
	cfg   Config
	ports Ports
	recv  Receiver
	log   logger.Logger
	stats *Statistics

	// mu guards the queue, the in-flight frame reference, the scheduler
	// state and the reassembler. Held only for list and pointer
	// manipulation; never across engine calls or delivery callbacks.
	//
	// exchMu serializes exchange starts against Detach: a frame popped
	// before a concurrent detach is dropped instead of reaching the
	// engine, and an exchange that started first is cancelled by the
	// detach. Ordered before mu when both are taken.
	exchMu   sync.Mutex
	mu       sync.Mutex
	state    State
	attached bool
	gen      uint64 // bumped by every detach; stale exchange starts check it
	queue    *TxQueue
	inFlight *frame.Frame // data frame owned by the current exchange, nil for filler
	reasm    *Reassembler

	rxBuf  []byte // shared with the engine for the exchange in flight
	filler []byte // serialized filler frame, reused for every RX-only exchange
}

// New creates a Link over the given ports. The receiver is invoked for every
// reassembled message. A nil logger disables logging.
func New(cfg Config, ports Ports, recv Receiver, log logger.Logger) (*Link, error) {
	if ports.Engine == nil || ports.Wake == nil || ports.Ready == nil || ports.Pending == nil {
		return nil, errors.New("datalink: engine, wake, ready and pending ports are required")
	}
	if recv == nil {
		return nil, errors.New("datalink: receiver is required")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	cfg = cfg.withDefaults()

	l := &Link{
		cfg:      cfg,
		ports:    ports,
		recv:     recv,
		log:      log,
		stats:    NewStatistics(),
		state:    StateIdle,
		attached: true,
		queue:    NewTxQueue(),
		reasm:    NewReassembler(cfg.MaxMessageSize),
		rxBuf:    make([]byte, frame.FrameSize),
		filler:   frame.NewFillerFrame().Serialize(),
	}

	// Lines must be quiescent before the wake interrupt is live
	ports.Ready.Set(false)
	ports.Pending.Set(false)

	ports.Engine.SetCompletionHandler(l.onTransferComplete)
	ports.Wake.OnAssert(l.onWake)
	if ports.Attach != nil {
		ports.Attach.OnAttachChange(l.onAttachChange)
	}

	return l, nil
}

// Send fragments a message into frames and queues them for transmission,
// then attempts to start an exchange.
//
// The size bound is checked before anything is queued, so an oversize
// message never partially enqueues. A queue-capacity failure partway leaves
// the earlier fragments queued; the caller must treat the whole send as
// failed without assuming rollback.
func (l *Link) Send(msg []byte) error {
	if len(msg) > l.cfg.MaxMessageSize {
		l.stats.OversizeReject()
		return ErrMessageTooLarge
	}

	for _, f := range frame.Fragment(msg) {
		l.mu.Lock()
		if !l.attached {
			l.mu.Unlock()
			return ErrDetached
		}
		if l.queue.Len() >= l.cfg.MaxPendingFrames {
			l.mu.Unlock()
			l.stats.OverflowReject()
			// Fragments already queued stay queued; keep draining them
			l.setupExchange()
			return ErrQueueOverflow
		}
		l.queue.PushBack(f)
		l.mu.Unlock()
	}

	l.stats.MessageTx()
	l.setupExchange()
	return nil
}

// onWake handles a deasserted-to-asserted edge on the wake line
func (l *Link) onWake() {
	l.log.Debug("Link: wake asserted by remote")
	l.setupExchange()
}

// setupExchange attempts the Idle -> Exchanging transition. It is a no-op
// unless the ready line is quiescent and the remote is asserting wake; a
// failed attempt simply defers to the next trigger. Every attempt, no-op or
// not, re-exports the pending level toward the remote's wake input.
func (l *Link) setupExchange() {
	var (
		tx  []byte
		out *frame.Frame
	)

	wake := l.ports.Wake.Asserted()

	l.mu.Lock()
	gen := l.gen
	start := l.attached && l.state == StateIdle && wake
	if start {
		l.state = StateExchanging
		if out = l.queue.PopFront(); out != nil {
			l.inFlight = out
			tx = out.Serialize()
		} else {
			tx = l.filler
		}
	}
	pending := l.inFlight != nil || !l.queue.Empty()
	queued := l.queue.Len()
	l.mu.Unlock()

	l.ports.Pending.Set(pending)

	if !start {
		return
	}

	if out != nil {
		l.log.Debug("Link: exchanging data frame, %d queued behind it", queued)
	} else {
		l.log.Debug("Link: exchanging filler frame")
	}
	logger.Frame(l.log, "tx", tx)

	// Detach may have completed since the frame was popped; re-check under
	// exchMu so the frame never reaches the engine after teardown. The
	// generation comparison also catches a detach followed by a re-attach.
	l.exchMu.Lock()
	l.mu.Lock()
	current := l.attached && l.gen == gen
	l.mu.Unlock()
	if !current {
		// The teardown already reset the scheduler; the popped frame is
		// discarded with the rest of the queue
		l.exchMu.Unlock()
		l.updatePending()
		return
	}

	// Ready goes up before the engine runs so the remote never observes a
	// transfer without the line asserted
	l.ports.Ready.Set(true)
	l.stats.Exchange()

	err := l.ports.Engine.Exchange(tx, l.rxBuf)
	l.exchMu.Unlock()
	if err != nil {
		// The frame handed to the engine is gone, as it would be on the
		// physical bus; the link stays serviceable.
		l.stats.ExchangeError()
		l.log.Error("Link: exchange failed to start: %v", err)
		l.ports.Ready.Set(false)
		l.mu.Lock()
		l.inFlight = nil
		l.state = StateIdle
		l.mu.Unlock()
		l.updatePending()
	}
}

// onTransferComplete handles the transfer-completion event: the frame that
// was sent is released, the received frame is fed to reassembly, a finished
// message is delivered, and the next exchange is attempted so the queue
// drains while either side has data.
func (l *Link) onTransferComplete() {
	l.ports.Ready.Set(false)

	logger.Frame(l.log, "rx", l.rxBuf)

	l.mu.Lock()
	if !l.attached {
		// Completion racing a detach; everything was torn down already
		l.mu.Unlock()
		return
	}
	if l.inFlight != nil {
		l.stats.FrameTx()
		l.inFlight = nil
	} else {
		l.stats.FillerTx()
	}
	l.state = StateIdle

	var msg []byte
	rx, err := frame.Parse(l.rxBuf)
	switch {
	case err != nil:
		// rxBuf is always exactly one frame; unreachable with a
		// conforming engine
		l.log.Error("Link: bad receive buffer: %v", err)
	case !rx.Valid:
		// Filler exchange; nothing to process
		l.stats.FillerRx()
	default:
		l.stats.FrameRx()
		msg, err = l.reasm.Process(rx)
		if err != nil {
			l.stats.DroppedFrame()
			l.log.Warn("Link: dropped frame, message would exceed %d bytes", l.cfg.MaxMessageSize)
		}
	}
	l.mu.Unlock()

	if msg != nil {
		l.stats.MessageRx()
		l.log.Debug("Link: delivering %d byte message", len(msg))
		l.recv(msg)
	}

	l.setupExchange()
}

// onAttachChange handles attach notifier events
func (l *Link) onAttachChange(attached bool) {
	if attached {
		l.Attach()
	} else {
		l.Detach()
	}
}

// Detach tears down in-flight state when the physical link is unplugged:
// the transfer in progress is cancelled and every queued frame is discarded
// without being transmitted. Idempotent.
func (l *Link) Detach() {
	l.exchMu.Lock()
	l.mu.Lock()
	if !l.attached {
		l.mu.Unlock()
		l.exchMu.Unlock()
		return
	}
	l.attached = false
	l.gen++
	l.state = StateIdle
	l.inFlight = nil
	n := l.queue.Drain()
	l.reasm.Reset()
	l.mu.Unlock()

	// Cancel after the detached mark, still under exchMu: an exchange that
	// started before the mark is revoked here, none can start after it
	l.ports.Engine.Cancel()
	l.exchMu.Unlock()

	l.stats.DiscardedOnDetach(n)
	l.ports.Ready.Set(false)
	l.ports.Pending.Set(false)
	l.log.Info("Link: detached, discarded %d queued frames", n)
}

// Attach reinitializes the link when the physical connection returns:
// queue empty, reassembly clean, scheduler idle, lines quiescent.
// Idempotent.
func (l *Link) Attach() {
	l.mu.Lock()
	if l.attached {
		l.mu.Unlock()
		return
	}
	l.attached = true
	l.state = StateIdle
	l.queue.Drain()
	l.reasm.Reset()
	l.mu.Unlock()

	l.ports.Ready.Set(false)
	l.ports.Pending.Set(false)
	l.log.Info("Link: attached")

	// The remote may already be asserting wake
	l.setupExchange()
}

// updatePending re-exports the pending-data level toward the remote
func (l *Link) updatePending() {
	l.mu.Lock()
	pending := l.inFlight != nil || !l.queue.Empty()
	l.mu.Unlock()
	l.ports.Pending.Set(pending)
}

// State returns the current scheduler state
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Attached returns true if the physical link is present
func (l *Link) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached
}

// QueueLen returns the number of frames waiting to be transmitted
func (l *Link) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Len()
}

// Statistics returns the link's statistics tracker
func (l *Link) Statistics() *Statistics {
	return l.stats
}
