package bus

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/kazuhiroondo/spilink-go/pkg/internal/logger"
)

// QUICBridge carries one end of the emulated bus over a QUIC stream.
// Behaves like TCPBridge but rides QUIC's connection migration and loss
// recovery, which suits links that traverse flaky last-mile networks.
type QUICBridge struct {
	bridgeEndpoint

	// Configuration
	address        string
	isServer       bool
	reconnectDelay time.Duration
	tlsConfig      *tls.Config

	listener *quic.Listener

	connLock sync.Mutex
	conn     quic.Connection

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// QUICBridgeConfig configures a QUIC bus bridge
type QUICBridgeConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between redials (client only)
	TLSConfig      *tls.Config   // Optional; a self-signed cert is generated if nil
}

const quicBusProto = "spilink-bus"

// NewQUICBridge creates a new QUIC bridge. Like the TCP bridge, connections
// are established in the background and surface as attach/detach events.
func NewQUICBridge(config QUICBridgeConfig) (*QUICBridge, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateBusTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &QUICBridge{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		tlsConfig:      tlsConfig,
		ctx:            ctx,
		cancel:         cancel,
	}
	q.log = logger.GetDefault()

	if config.IsServer {
		listener, err := quic.ListenAddr(config.Address, tlsConfig, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create QUIC listener on %s: %w", config.Address, err)
		}
		q.listener = listener
		q.wg.Add(1)
		go q.acceptLoop()
	} else {
		q.wg.Add(1)
		go q.connectLoop()
	}

	return q, nil
}

// generateBusTLSConfig generates a self-signed certificate for the bridge
func generateBusTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{tlsCert},
		NextProtos:         []string{quicBusProto},
		InsecureSkipVerify: true, // For self-signed certs
	}, nil
}

// acceptLoop accepts incoming QUIC connections; a new connection replaces
// the previous one
func (q *QUICBridge) acceptLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			if q.closed.Load() {
				return
			}
			continue
		}

		q.connLock.Lock()
		if q.conn != nil {
			q.conn.CloseWithError(0, "new connection")
		}
		q.conn = conn
		q.connLock.Unlock()

		q.wg.Add(1)
		go q.serveConn(conn)
	}
}

// serveConn accepts the peer's stream, attaches it and services it until
// it fails
func (q *QUICBridge) serveConn(conn quic.Connection) {
	defer q.wg.Done()

	stream, err := conn.AcceptStream(q.ctx)
	if err != nil {
		return
	}

	q.streamUp(stream)
	q.readLoop(stream, stream)
	stream.Close()
}

// connectLoop dials the server and redials after every disconnect
func (q *QUICBridge) connectLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		conn, err := quic.DialAddr(q.ctx, q.address, q.tlsConfig, nil)
		if err != nil {
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.reconnectDelay):
				continue
			}
		}

		stream, err := conn.OpenStreamSync(q.ctx)
		if err != nil {
			conn.CloseWithError(0, "failed to open stream")
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.reconnectDelay):
				continue
			}
		}

		// QUIC streams open lazily on the wire; the server's AcceptStream
		// returns only once data flows, so nudge the stream with the
		// current pending level.
		q.connLock.Lock()
		q.conn = conn
		q.connLock.Unlock()

		q.streamUp(stream)
		q.writeMu.Lock()
		err = writeLevelRecord(stream, q.pendingLevel())
		q.writeMu.Unlock()
		if err != nil {
			q.stats.writeErrors.Add(1)
		}

		q.readLoop(stream, stream)
		stream.Close()
		conn.CloseWithError(0, "stream closed")

		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.reconnectDelay):
		}
	}
}

// pendingLevel snapshots the endpoint's exported pending level
func (b *bridgeEndpoint) pendingLevel() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingOut
}

// Close shuts the bridge down and unblocks all background goroutines
func (q *QUICBridge) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	q.cancel()

	if q.listener != nil {
		q.listener.Close()
	}

	q.connLock.Lock()
	if q.conn != nil {
		q.conn.CloseWithError(0, "bridge closed")
		q.conn = nil
	}
	q.connLock.Unlock()

	q.wg.Wait()
	return nil
}

// Addr returns the listen address (server mode only)
func (q *QUICBridge) Addr() net.Addr {
	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}

// IsConnected returns true if a stream to the peer is up
func (q *QUICBridge) IsConnected() bool {
	q.bridgeEndpoint.mu.Lock()
	defer q.bridgeEndpoint.mu.Unlock()
	return q.bridgeEndpoint.stream != nil
}
