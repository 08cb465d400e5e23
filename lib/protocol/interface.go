package protocol

// --------------------------------------------------------------------------
// Request contract (used by the dispatch layer)
// --------------------------------------------------------------------------

// IReply is one parsed backend reply unit. Its content is owned by the protocol.
type IReply interface {
	// IsError reports whether the backend answered with an error reply
	IsError() bool
}

// IRequest is a handle to one in-flight client request.
// Several handles may share the same request; every handle obtained through
// Clone or Subs must be released exactly once.
type IRequest interface {
	// Reregister records the function to call once all dispatched handles
	// of the request have been released. It replaces any earlier registration.
	Reregister(wake func())

	// KeyHash hashes the routing key after stripping the hash tag.
	// Only valid on a dispatchable unit (a request without subs).
	KeyHash(hashTag []byte, hasher HashFunc) uint64

	// Subs returns cloned handles of the sub-requests, or nil if the request
	// was not split. The clones are acquired as one batch.
	Subs() []IRequest

	// IsDone reports completion. For split requests all subs must be done.
	IsDone() bool

	// AddCycle counts one more dispatch attempt
	AddCycle()

	// CanCycle reports whether the retry budget allows another attempt
	CanCycle() bool

	// IsError reports whether the request was completed with an error.
	// For split requests it is true as soon as one sub failed.
	IsError() bool

	// Valid reports whether the request may be sent to a backend
	Valid() bool

	// SetReply stores the backend reply and marks the request done
	SetReply(reply IReply)

	// SetError converts err into a reply and marks the request done and failed
	SetError(err error)

	// Clone returns a new handle to the same request
	Clone() IRequest

	// Release drops this handle. Calling it twice is a no-op.
	Release()
}

// --------------------------------------------------------------------------
// Framers
// --------------------------------------------------------------------------

// IFrontCodec translates between client bytes and requests
type IFrontCodec interface {
	// Decode parses one request from src. It returns n == 0 and a nil request
	// when more bytes are needed. Malformed input yields a completed, failed
	// request instead of an error. A nil request with n > 0 means n bytes
	// of a rejected request were discarded.
	Decode(src []byte) (req IRequest, n int, err error)

	// Encode appends the client-visible reply of a completed request to dst
	Encode(req IRequest, dst []byte) ([]byte, error)
}

// IBackCodec translates between requests and backend bytes
type IBackCodec interface {
	// Decode parses one reply from src, n == 0 means more bytes are needed
	Decode(src []byte) (reply IReply, n int, err error)

	// Encode appends the request's own wire form (never its subs) to dst
	Encode(req IRequest, dst []byte) ([]byte, error)
}

// IProtocol bundles everything the proxy needs to speak one caching protocol
type IProtocol interface {
	// Name returns the protocol name (e.g. "memcache")
	Name() string

	// NewFrontCodec returns a framer for one client connection
	NewFrontCodec() IFrontCodec

	// NewBackCodec returns a framer for one backend connection
	NewBackCodec() IBackCodec

	// PingRequest builds a synthetic health-check request that nobody waits on
	PingRequest() IRequest
}
