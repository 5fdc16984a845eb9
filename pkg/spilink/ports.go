package spilink

import (
	"github.com/kazuhiroondo/spilink-go/pkg/bus"
	"github.com/kazuhiroondo/spilink-go/pkg/datalink"
)

// Endpoint is implemented by the software bus endpoints in pkg/bus
// (PipeEndpoint, TCPBridge, QUICBridge). A hardware integration can
// implement it too, or assemble datalink.Ports by hand.
type Endpoint interface {
	bus.TransferEngine
	WakeLine() bus.InputLine
	ReadyLine() bus.OutputLine
	PendingLine() bus.OutputLine
}

// PortsFor assembles the data link ports from a bus endpoint. Endpoints
// that also implement bus.AttachNotifier get attach/detach wired up.
func PortsFor(e Endpoint) datalink.Ports {
	ports := datalink.Ports{
		Engine:  e,
		Wake:    e.WakeLine(),
		Ready:   e.ReadyLine(),
		Pending: e.PendingLine(),
	}
	if notifier, ok := e.(bus.AttachNotifier); ok {
		ports.Attach = notifier
	}
	return ports
}
