package base

import (
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/rpc/transport"
)

const minReadSize = 4 * 1024

// --------------------------------------------------------------------------
// Read buffer
// --------------------------------------------------------------------------

// ReadBuffer accumulates bytes from a stream until a framer can consume them.
// It is used for both client and backend connections.
type ReadBuffer struct {
	buf  []byte
	r, w int // unread data is buf[r:w]
}

// NewReadBuffer creates a buffer with an initial capacity of size bytes
func NewReadBuffer(size int) *ReadBuffer {
	if size < minReadSize {
		size = minReadSize
	}
	return &ReadBuffer{buf: make([]byte, size)}
}

// Bytes returns the unread data
func (b *ReadBuffer) Bytes() []byte {
	return b.buf[b.r:b.w]
}

// Advance marks n bytes as consumed
func (b *ReadBuffer) Advance(n int) {
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Fill reads at least one byte from src, growing the buffer if it is full
func (b *ReadBuffer) Fill(src io.Reader) error {
	if b.r > 0 {
		b.w = copy(b.buf, b.buf[b.r:b.w])
		b.r = 0
	}
	if len(b.buf)-b.w < minReadSize {
		grown := make([]byte, 2*len(b.buf))
		copy(grown, b.buf[:b.w])
		b.buf = grown
	}

	n, err := src.Read(b.buf[b.w:])
	b.w += n
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// --------------------------------------------------------------------------
// Pending queue
// --------------------------------------------------------------------------

// pendingReq is a request written to a backend connection that waits for its reply
type pendingReq struct {
	req   protocol.IRequest
	done  transport.DoneFunc
	start time.Time
}

// pendingQueue is the FIFO of requests in flight on one connection.
// Memcached answers in request order, so the head always owns the next reply.
type pendingQueue struct {
	mu    sync.Mutex
	items []pendingReq
}

func (q *pendingQueue) push(p pendingReq) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

func (q *pendingQueue) pop() (pendingReq, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return pendingReq{}, false
	}
	p := q.items[0]
	q.items[0] = pendingReq{}
	q.items = q.items[1:]
	return p, true
}

func (q *pendingQueue) drain() []pendingReq {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}
