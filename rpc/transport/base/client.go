package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// redialInterval is the time a connection slot fails fast after a failed dial
const redialInterval = time.Second

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ProxyConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// pipe is one dialed connection together with the requests in flight on it.
// A pipe is never reused: once broken, a new pipe replaces it.
type pipe struct {
	conn    net.Conn
	slot    *connSlot
	pending pendingQueue
	dead    atomic.Bool
}

// connSlot is one of the ConnsPerBackend connections of a backend
type connSlot struct {
	mu         sync.Mutex // serializes writes, so queue order equals wire order
	cur        *pipe
	wbuf       []byte
	dialFailed time.Time
	parent     *backendTransport
}

// backendTransport implements transport.IBackendTransport with pipelined
// connections to a single memcached server
type backendTransport struct {
	connector IClientConnector
	proto     protocol.IProtocol
	codec     protocol.IBackCodec
	config    common.ProxyConfig
	addr      string
	slots     []*connSlot
	nextSlot  atomic.Uint64 // Atomic counter for Round Robin
	stopping  atomic.Bool

	latency *metrics.Histogram
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseBackendTransport creates a new backend transport with the specified connector
func NewBaseBackendTransport(connector IClientConnector, proto protocol.IProtocol) transport.IBackendTransport {
	return &backendTransport{
		connector: connector,
		proto:     proto,
		codec:     proto.NewBackCodec(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IBackendTransport)
// --------------------------------------------------------------------------

func (t *backendTransport) Connect(addr string, config common.ProxyConfig) error {
	if addr == "" {
		return fmt.Errorf("no backend address provided")
	}

	t.addr = addr
	t.config = config
	t.latency = metrics.GetOrCreateHistogram(fmt.Sprintf(
		`dproxy_backend_request_duration_seconds{cluster=%q,backend=%q}`, config.Name, addr))

	connsPerBackend := 1
	if config.ConnsPerBackend > 0 {
		connsPerBackend = config.ConnsPerBackend
	}

	t.slots = make([]*connSlot, connsPerBackend)
	connected := 0
	for i := range t.slots {
		slot := &connSlot{parent: t}
		t.slots[i] = slot

		slot.mu.Lock()
		_, err := slot.pipeLocked()
		slot.mu.Unlock()

		if err != nil {
			Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", addr, i+1, connsPerBackend, err)
			continue
		}
		connected++
	}

	Logger.Infof("Connected %d/%d connections to %s using %s transport",
		connected, connsPerBackend, addr, t.connector.GetName())

	if connected == 0 {
		return fmt.Errorf("%w: failed to connect to %s", protocol.ErrBackendDown, addr)
	}
	return nil
}

func (t *backendTransport) Send(req protocol.IRequest, done transport.DoneFunc) error {
	if t.stopping.Load() {
		return fmt.Errorf("%w: transport to %s is closed", protocol.ErrBackendDown, t.addr)
	}
	if len(t.slots) == 0 {
		return fmt.Errorf("%w: transport to %s is not connected", protocol.ErrBackendDown, t.addr)
	}

	// Simple Round Robin algorithm
	var slot *connSlot
	if len(t.slots) == 1 {
		slot = t.slots[0]
	} else {
		slot = t.slots[t.nextSlot.Add(1)%uint64(len(t.slots))]
	}
	return slot.send(req, done)
}

func (t *backendTransport) Reconnect() {
	for _, slot := range t.slots {
		slot.mu.Lock()
		if slot.cur != nil {
			// the reader of the pipe fails its pending requests
			slot.cur.conn.Close()
			slot.cur = nil
		}
		slot.dialFailed = time.Time{}
		slot.mu.Unlock()
	}
}

func (t *backendTransport) Close() error {
	t.stopping.Store(true)
	t.Reconnect()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// send encodes and writes one request. The request is queued before it is
// written so the reader always finds the owner of a reply.
func (s *connSlot) send(req protocol.IRequest, done transport.DoneFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.pipeLocked()
	if err != nil {
		return err
	}

	out, err := s.parent.codec.Encode(req, s.wbuf[:0])
	if err != nil {
		return err
	}
	s.wbuf = out[:0]

	p.pending.push(pendingReq{req: req, done: done, start: time.Now()})

	if timeout := s.parent.config.TimeoutMillisecond; timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(time.Duration(timeout) * time.Millisecond))
	}

	if _, err := p.conn.Write(out); err != nil {
		Logger.Warningf("Failed to write to %s: %v", s.parent.addr, err)
		// the reader fails every queued request, this one included
		p.conn.Close()
	}
	return nil
}

// pipeLocked returns the live pipe of the slot, dialing a new one if needed.
// The caller must hold s.mu.
func (s *connSlot) pipeLocked() (*pipe, error) {
	if s.cur != nil && !s.cur.dead.Load() {
		return s.cur, nil
	}

	t := s.parent
	if t.stopping.Load() {
		return nil, fmt.Errorf("%w: transport to %s is closed", protocol.ErrBackendDown, t.addr)
	}
	if !s.dialFailed.IsZero() && time.Since(s.dialFailed) < redialInterval {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBackendDown, t.addr)
	}

	conn, err := t.connector.Connect(t.addr, time.Duration(t.config.TimeoutMillisecond)*time.Millisecond)
	if err != nil {
		s.dialFailed = time.Now()
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", protocol.ErrBackendDown, t.addr, err)
	}
	s.dialFailed = time.Time{}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to upgrade connection to %s: %v", protocol.ErrBackendDown, t.addr, err)
	}

	p := &pipe{conn: conn, slot: s}
	s.cur = p
	go t.readReplies(p)

	Logger.Debugf("Dialed %s", t.addr)
	return p, nil
}

// readReplies reads replies in a loop and hands each one to the oldest pending request
func (t *backendTransport) readReplies(p *pipe) {
	codec := t.proto.NewBackCodec()
	buf := NewReadBuffer(t.config.SocketConf.ReadBufferSize)

	err := func() error {
		for {
			for {
				reply, n, err := codec.Decode(buf.Bytes())
				if err != nil {
					return err
				}
				if reply == nil {
					break
				}
				buf.Advance(n)

				pr, ok := p.pending.pop()
				if !ok {
					return fmt.Errorf("%w: unsolicited reply", protocol.ErrBadReply)
				}
				t.latency.Update(time.Since(pr.start).Seconds())
				pr.req.SetReply(reply)
				pr.done(pr.req, nil)
			}

			if err := buf.Fill(p.conn); err != nil {
				return err
			}
		}
	}()

	// no request can be queued on the pipe once it is marked dead
	p.slot.mu.Lock()
	p.dead.Store(true)
	if p.slot.cur == p {
		p.slot.cur = nil
	}
	p.slot.mu.Unlock()
	p.conn.Close()

	if !t.stopping.Load() && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		Logger.Warningf("Connection to %s broken: %v", t.addr, err)
	}

	pending := p.pending.drain()
	if len(pending) > 0 {
		Logger.Debugf("Failing %d pending requests to %s", len(pending), t.addr)
	}
	for _, pr := range pending {
		pr.done(pr.req, fmt.Errorf("%w: %s: %v", protocol.ErrBackendDown, t.addr, err))
	}
}
