package bus

// The data link core is transport-agnostic. It talks to the physical bus
// through the small interfaces in this file, which a real SPI slave engine
// with GPIO handshake lines implements in hardware, and which the software
// endpoints in this package (Pipe, TCP bridge, QUIC bridge) emulate.

// TransferEngine issues single fixed-size full-duplex transfers.
// This is THE KEY INTERFACE that enables pluggable bus backends.
type TransferEngine interface {
	// Exchange starts one full-duplex transfer: tx is sent while rx is
	// filled with the remote's frame. Both buffers must be exactly one
	// frame long. The call only starts the transfer; completion is
	// reported exactly once through the registered completion handler,
	// after which rx holds the received frame.
	Exchange(tx, rx []byte) error

	// Cancel aborts an in-flight transfer. Safe to call with nothing in
	// flight; no completion is reported for a cancelled transfer.
	Cancel()

	// SetCompletionHandler registers the transfer-completion handler.
	// The handler must not block; it may be invoked from any goroutine.
	SetCompletionHandler(handler func())
}

// InputLine is a discrete signal line driven by the remote side.
// The data link uses one as its wake line.
type InputLine interface {
	// Asserted reads the current line level
	Asserted() bool

	// OnAssert registers a callback fired on every deasserted-to-asserted
	// edge. The callback must not block; it may be invoked from any
	// goroutine.
	OnAssert(handler func())
}

// OutputLine is a discrete signal line driven by this side.
// The data link drives two: the ready line (asserted while an exchange is
// in progress) and the pending line (level-reporting that outgoing data is
// queued, wired to the remote side's wake input).
type OutputLine interface {
	// Set drives the line level
	Set(asserted bool)
}

// AttachNotifier reports physical presence of the link.
// Optional - endpoints that cannot detect attachment can omit it.
type AttachNotifier interface {
	// OnAttachChange registers a callback invoked with true when the
	// physical link is established and false when it is unplugged.
	OnAttachChange(handler func(attached bool))
}

// TransportStats provides endpoint-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors
	Connects      uint64 // Number of connections (network bridges)
	Disconnects   uint64 // Number of disconnections
}
