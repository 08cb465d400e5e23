package mc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/lib/protocol/mc/msg"
)

// --------------------------------------------------------------------------
// Protocol
// --------------------------------------------------------------------------

// NewProtocol returns the memcached text protocol for the proxy
func NewProtocol() protocol.IProtocol {
	return memcacheProtocol{}
}

type memcacheProtocol struct{}

func (memcacheProtocol) Name() string {
	return "memcache"
}

func (memcacheProtocol) NewFrontCodec() protocol.IFrontCodec {
	return &FrontCodec{}
}

func (memcacheProtocol) NewBackCodec() protocol.IBackCodec {
	return &BackCodec{}
}

func (memcacheProtocol) PingRequest() protocol.IRequest {
	return NewPingCmd()
}

// --------------------------------------------------------------------------
// Front codec (client side)
// --------------------------------------------------------------------------

// FrontCodec decodes client requests and encodes their replies.
// It keeps the discard state of the client stream, so every connection needs its own.
type FrontCodec struct {
	skip     int  // bytes of a rejected data block still to discard
	skipLine bool // discard up to the end of an overlong line
}

// Decode parses one request. Malformed input does not break the connection:
// it becomes a failed request whose error reply is sent like any other reply.
// Input that belongs to a rejected request is discarded, which Decode reports
// as a nil request with n > 0.
func (f *FrontCodec) Decode(src []byte) (protocol.IRequest, int, error) {
	if n := f.discard(src); n > 0 || f.skip > 0 || f.skipLine {
		return nil, n, nil
	}

	m, n, err := msg.Parse(src)
	if err != nil {
		if n > len(src) {
			f.skip = n - len(src)
			n = len(src)
		}
		if errors.Is(err, msg.ErrLineTooLong) {
			f.skipLine = true
		}
		if errors.Is(err, protocol.ErrBadMessage) || errors.Is(err, protocol.ErrTooLarge) {
			Logger.Debugf("replying to malformed request: %v", err)
			return NewErrorCmd(err), n, nil
		}
		return nil, n, err
	}
	if m == nil {
		return nil, 0, nil
	}
	return NewCmd(m), n, nil
}

// discard consumes input of a rejected request and returns the number of bytes
func (f *FrontCodec) discard(src []byte) int {
	switch {
	case f.skip > 0:
		n := min(f.skip, len(src))
		f.skip -= n
		return n
	case f.skipLine:
		end := bytes.IndexByte(src, '\n')
		if end < 0 {
			return len(src)
		}
		f.skipLine = false
		return end + 1
	}
	return 0
}

// Encode appends the reply of a completed request. Split requests write the
// sub-replies in their original order, followed by the terminator.
// Encoding a request without reply panics.
func (f *FrontCodec) Encode(req protocol.IRequest, dst []byte) ([]byte, error) {
	c, ok := req.(*Cmd)
	if !ok {
		return dst, fmt.Errorf("mc: cannot encode request of type %T", req)
	}
	return c.encodeReply(dst), nil
}

// --------------------------------------------------------------------------
// Back codec (backend side)
// --------------------------------------------------------------------------

// BackCodec encodes requests for a backend and decodes its replies
type BackCodec struct{}

// Decode parses one backend reply
func (b *BackCodec) Decode(src []byte) (protocol.IReply, int, error) {
	m, n, err := msg.ParseReply(src)
	if err != nil || m == nil {
		return nil, n, err
	}
	return m, n, nil
}

// Encode appends the request's own wire form; subs are dispatched on their own
func (b *BackCodec) Encode(req protocol.IRequest, dst []byte) ([]byte, error) {
	c, ok := req.(*Cmd)
	if !ok {
		return dst, fmt.Errorf("mc: cannot encode request of type %T", req)
	}
	return c.Request().SaveRequest(dst)
}
