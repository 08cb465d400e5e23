package transport

import (
	"net"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport (client facing)
// --------------------------------------------------------------------------

// ConnHandleFunc is called by a server transport for every accepted client
// connection. It owns the connection and returns when the client is done.
type ConnHandleFunc func(conn net.Conn)

// IProxyServerTransport is the interface for the client facing listener
type IProxyServerTransport interface {
	// RegisterHandler registers the handler for accepted connections.
	// It must be called before Listen.
	RegisterHandler(handler ConnHandleFunc)
	// Listen binds the listener and starts accepting connections in the
	// background. It returns once the listener is bound.
	Listen(config common.ProxyConfig) error
	// Addr returns the bound address, nil before Listen
	Addr() net.Addr
	// Close stops accepting, closes all open connections and waits for
	// their handlers to return
	Close() error
}

// --------------------------------------------------------------------------
// Backend Transport
// --------------------------------------------------------------------------

// DoneFunc is called exactly once for every request accepted by
// IBackendTransport.Send. A nil error means the reply has been stored in req.
// The callee owns req and is responsible for releasing it.
type DoneFunc func(req protocol.IRequest, err error)

// IBackendTransport is the interface for the pipelined connections to one backend
type IBackendTransport interface {
	// Connect dials the connections to the backend. Connections that fail
	// are redialed on demand, so an error only reports the initial state.
	Connect(addr string, config common.ProxyConfig) error
	// Send writes the request to the backend. If Send returns an error the
	// request was not written and done is not called.
	Send(req protocol.IRequest, done DoneFunc) error
	// Reconnect closes all connections. Pending requests fail and the next
	// Send dials again.
	Reconnect()
	// Close closes the transport. Pending requests fail.
	Close() error
}
