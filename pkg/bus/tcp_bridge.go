package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kazuhiroondo/spilink-go/pkg/internal/logger"
)

// TCPBridge carries one end of the emulated bus over a TCP connection,
// letting two processes stand in for the two hardware modules. Connection
// establishment and loss surface to the data link as attach and detach
// events.
type TCPBridge struct {
	bridgeEndpoint

	// Configuration
	address        string
	isServer       bool
	reconnectDelay time.Duration
	dialTimeout    time.Duration

	listener net.Listener

	connLock sync.Mutex
	conn     net.Conn

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// TCPBridgeConfig configures a TCP bus bridge
type TCPBridgeConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between redials (client only)
	DialTimeout    time.Duration // Per-dial timeout (client only)
}

// NewTCPBridge creates a new TCP bridge. Connections are established in the
// background: frames queued by the data link before the peer is up flow as
// soon as the bridge attaches.
func NewTCPBridge(config TCPBridgeConfig) (*TCPBridge, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &TCPBridge{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		dialTimeout:    config.DialTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
	t.log = logger.GetDefault()

	if config.IsServer {
		listener, err := net.Listen("tcp", config.Address)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
		}
		t.listener = listener
		t.wg.Add(1)
		go t.acceptLoop()
	} else {
		t.wg.Add(1)
		go t.connectLoop()
	}

	return t, nil
}

// acceptLoop accepts incoming connections; a new connection replaces the
// previous one
func (t *TCPBridge) acceptLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		// Accept deadline allows periodic context checks
		if tcpListener, ok := t.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := t.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if t.closed.Load() {
				return
			}
			continue
		}

		t.connLock.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.conn = conn
		t.connLock.Unlock()

		t.wg.Add(1)
		go t.serveConn(conn)
	}
}

// serveConn attaches a connection and services it until it fails
func (t *TCPBridge) serveConn(conn net.Conn) {
	defer t.wg.Done()

	t.streamUp(conn)
	t.readLoop(conn, conn)
	conn.Close()
}

// connectLoop dials the server and redials after every disconnect
func (t *TCPBridge) connectLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", t.address, t.dialTimeout)
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(t.reconnectDelay):
				continue
			}
		}

		t.connLock.Lock()
		t.conn = conn
		t.connLock.Unlock()

		t.streamUp(conn)
		t.readLoop(conn, conn)
		conn.Close()

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(t.reconnectDelay):
		}
	}
}

// Close shuts the bridge down and unblocks all background goroutines
func (t *TCPBridge) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	t.cancel()

	if t.listener != nil {
		t.listener.Close()
	}

	t.connLock.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connLock.Unlock()

	t.wg.Wait()
	return nil
}

// Addr returns the listen address (server mode only)
func (t *TCPBridge) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// IsConnected returns true if a connection to the peer is up
func (t *TCPBridge) IsConnected() bool {
	t.bridgeEndpoint.mu.Lock()
	defer t.bridgeEndpoint.mu.Unlock()
	return t.bridgeEndpoint.stream != nil
}
