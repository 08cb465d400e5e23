package base

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ProxyConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ProxyConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector IServerConnector
	handler   transport.ConnHandleFunc
	config    common.ProxyConfig

	mu       sync.Mutex // protects listener
	listener net.Listener
	stopping atomic.Bool

	conns  *xsync.MapOf[net.Conn, struct{}]
	connWg sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with the specified connector
func NewBaseServerTransport(connector IServerConnector) transport.IProxyServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[net.Conn, struct{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IProxyServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ConnHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ProxyConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no connection handler registered")
	}
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Accepting %s connections on %s", t.connector.GetName(), listener.Addr())

	go t.acceptLoop(listener)
	return nil
}

func (t *serverTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	if !t.stopping.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.Lock()
	listener := t.listener
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	// closing a connection makes its handler return
	t.conns.Range(func(conn net.Conn, _ struct{}) bool {
		conn.Close()
		return true
	})
	t.connWg.Wait()

	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts connections until the listener is closed
func (t *serverTransport) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		t.connWg.Add(1)
		t.conns.Store(conn, struct{}{})

		// a connection accepted while closing is closed right away
		if t.stopping.Load() {
			conn.Close()
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

// handleConnection runs the handler for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		t.conns.Delete(conn)
		t.connWg.Done()
	}()

	Logger.Debugf("Accepted connection from %s", conn.RemoteAddr())
	t.handler(conn)
	Logger.Debugf("Connection from %s closed", conn.RemoteAddr())
}
