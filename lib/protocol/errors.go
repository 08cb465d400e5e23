package protocol

import "errors"

// Errors that are turned into in-protocol replies. None of them closes a connection.
var (
	// ErrBadMessage is returned for structurally invalid client or backend input
	ErrBadMessage = errors.New("bad message")
	// ErrBadReply is used when a backend reply does not belong to the protocol
	ErrBadReply = errors.New("bad reply")
	// ErrInvalidKey is used for keys the backend would reject
	ErrInvalidKey = errors.New("invalid key")
	// ErrTooLarge is used for storage commands whose data block exceeds the value limit
	ErrTooLarge = errors.New("object too large for cache")
	// ErrTimeout is used when a request did not complete in time
	ErrTimeout = errors.New("request timed out")
	// ErrBackendDown is used when the selected backend has no usable connection
	ErrBackendDown = errors.New("backend down")
	// ErrRetryExhausted is used when a unit used up its retry budget
	ErrRetryExhausted = errors.New("retry budget exhausted")
)
