package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/transport/base"
	"golang.org/x/time/rate"
)

const (
	// clientBufferSize is the size of the user space buffers of a client connection
	clientBufferSize = 16 * 1024
	// maxInflight bounds the requests a client may have dispatched but not answered
	maxInflight = 1024
)

// inflight is a dispatched request waiting for its turn in the writer
type inflight struct {
	req      protocol.IRequest
	start    time.Time
	deadline time.Time // zero without timeout
}

// clientConn is one client connection. The reader decodes and dispatches
// requests, the writer answers them strictly in the order they were read.
type clientConn struct {
	server  *ProxyServer
	conn    net.Conn
	codec   protocol.IFrontCodec
	limiter *rate.Limiter // nil without rate limit

	queue  chan inflight
	wakeCh chan struct{}
	wake   func()
	out    []byte
}

func newClientConn(s *ProxyServer, conn net.Conn) *clientConn {
	c := &clientConn{
		server: s,
		conn:   conn,
		codec:  s.proto.NewFrontCodec(),
		queue:  make(chan inflight, maxInflight),
		wakeCh: make(chan struct{}, 1),
	}
	c.wake = func() {
		select {
		case c.wakeCh <- struct{}{}:
		default:
		}
	}
	if s.config.RateLimit > 0 {
		burst := s.config.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), burst)
	}
	return c
}

// handleConn serves one client until it disconnects or the server closes
func (s *ProxyServer) handleConn(conn net.Conn) {
	id := s.nextID.Add(1)
	c := newClientConn(s, conn)
	s.clients.Store(id, c)
	defer s.clients.Delete(id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	err := c.readLoop()
	close(c.queue)
	<-writerDone

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.ctx.Err() == nil {
		Logger.Warningf("Client %s: %v", conn.RemoteAddr(), err)
	}
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

func (c *clientConn) readLoop() error {
	buf := base.NewReadBuffer(clientBufferSize)
	timeout := time.Duration(c.server.config.TimeoutMillisecond) * time.Millisecond

	for {
		for {
			req, n, err := c.codec.Decode(buf.Bytes())
			if err != nil {
				return err
			}
			buf.Advance(n)
			if req == nil {
				if n > 0 {
					continue
				}
				break
			}

			if c.limiter != nil {
				if err := c.limiter.Wait(c.server.ctx); err != nil {
					req.Release()
					return err
				}
			}

			c.server.requests.Inc()
			now := time.Now()
			item := inflight{req: req, start: now}
			if timeout > 0 {
				item.deadline = now.Add(timeout)
			}

			// malformed input is already answered
			if !req.IsDone() {
				c.server.cluster.Dispatch(req)
			}
			c.queue <- item
		}

		if err := buf.Fill(c.conn); err != nil {
			return err
		}
	}
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// writeLoop answers requests in order. After a write error it keeps draining
// the queue so the reader never blocks on it.
func (c *clientConn) writeLoop() {
	w := bufio.NewWriterSize(c.conn, clientBufferSize)
	broken := false

	for item := range c.queue {
		if broken || !c.await(item) {
			broken = true
			item.req.Release()
			continue
		}

		var err error
		c.out, err = c.codec.Encode(item.req, c.out[:0])
		c.server.duration.UpdateDuration(item.start)
		if item.req.IsError() {
			c.server.errors.Inc()
		}
		item.req.Release()

		if err == nil {
			_, err = w.Write(c.out)
		}
		// batch pipelined replies into one write
		if err == nil && len(c.queue) == 0 {
			err = w.Flush()
		}
		if err != nil {
			Logger.Debugf("Failed to write to client %s: %v", c.conn.RemoteAddr(), err)
			broken = true
			c.conn.Close()
		}
	}

	if !broken {
		_ = w.Flush()
	}
}

// await blocks until the request is done or its deadline passes, in which
// case it fails the request. It returns false if the server is closing.
func (c *clientConn) await(item inflight) bool {
	for {
		item.req.Reregister(c.wake)
		if item.req.IsDone() {
			return true
		}

		var timer *time.Timer
		var expired <-chan time.Time
		if !item.deadline.IsZero() {
			left := time.Until(item.deadline)
			if left <= 0 {
				c.server.timeouts.Inc()
				item.req.SetError(protocol.ErrTimeout)
				return true
			}
			timer = time.NewTimer(left)
			expired = timer.C
		}

		closing := false
		select {
		case <-c.wakeCh:
		case <-expired:
		case <-c.server.ctx.Done():
			closing = true
		}
		if timer != nil {
			timer.Stop()
		}
		if closing {
			return false
		}
	}
}
