package msg

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dProxy/lib/protocol"
)

// Protocol limits
const (
	// MaxKeyLen is the longest key memcached accepts
	MaxKeyLen = 250
	// maxLineLen bounds a command or status line; longer input without CRLF is rejected
	maxLineLen = 8192
	// maxValueLen bounds a single data block
	maxValueLen = 128 << 20
)

// ErrLineTooLong is returned for command lines longer than the line limit.
// The rest of the line has not been seen yet and must be discarded by the caller.
var ErrLineTooLong = fmt.Errorf("%w: command line too long", protocol.ErrBadMessage)

var (
	crlf      = []byte("\r\n")
	endLine   = []byte("END\r\n")
	valueWord = []byte("VALUE")
	noreply   = []byte("noreply")
)

// --------------------------------------------------------------------------
// Message
// --------------------------------------------------------------------------

// Message is one memcached protocol unit, either a request or a reply.
// Requests keep their wire bytes in normalized form: the noreply token is
// stripped because the proxy always waits for the backend's answer.
type Message struct {
	kind    Kind
	data    []byte   // wire bytes
	keys    [][]byte // request keys (retrievals may carry several)
	exptime []byte   // gat/gats only
	noreply bool     // client asked for no reply
	sub     bool     // created by Subs
}

// Kind returns the message kind
func (m *Message) Kind() Kind {
	return m.kind
}

// Data returns the wire bytes of the message
func (m *Message) Data() []byte {
	return m.data
}

// Keys returns all keys of a request
func (m *Message) Keys() [][]byte {
	return m.keys
}

// Key returns the routing key of a request, nil for keyless requests
func (m *Message) Key() []byte {
	if len(m.keys) == 0 {
		return nil
	}
	return m.keys[0]
}

// NoReply reports whether the client asked to suppress the reply
func (m *Message) NoReply() bool {
	return m.noreply
}

// IsSub reports whether the message is one unit of a split retrieval
func (m *Message) IsSub() bool {
	return m.sub
}

// IsError implements protocol.IReply
func (m *Message) IsError() bool {
	return m.kind == KindReplyError
}

// KeysValid reports whether every key is acceptable for a memcached backend
func (m *Message) KeysValid() bool {
	for _, key := range m.keys {
		if len(key) == 0 || len(key) > MaxKeyLen {
			return false
		}
		for _, c := range key {
			if c <= ' ' || c == 0x7f {
				return false
			}
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Synthetic messages
// --------------------------------------------------------------------------

// NewVersionRequest builds the request used for health checks
func NewVersionRequest() *Message {
	return &Message{kind: KindVersion, data: []byte("version\r\n")}
}

// NewInlineRequest builds the placeholder request attached to malformed input.
// It is never sent to a backend.
func NewInlineRequest() *Message {
	return &Message{kind: KindUnknown}
}

// NewErrorReply converts an error into a reply line
func NewErrorReply(err error) *Message {
	var line string
	switch {
	case errors.Is(err, protocol.ErrBadMessage), errors.Is(err, protocol.ErrInvalidKey):
		line = "CLIENT_ERROR bad command line format\r\n"
	case errors.Is(err, protocol.ErrTooLarge):
		line = "SERVER_ERROR " + protocol.ErrTooLarge.Error() + "\r\n"
	default:
		text := strings.NewReplacer("\r", " ", "\n", " ").Replace(err.Error())
		line = "SERVER_ERROR " + text + "\r\n"
	}
	return &Message{kind: KindReplyError, data: []byte(line)}
}

// --------------------------------------------------------------------------
// Decomposition
// --------------------------------------------------------------------------

// Subs splits a multi-key retrieval into one retrieval per key.
// Requests with a single key (and all other requests) are not split.
func (m *Message) Subs() []*Message {
	if !m.kind.IsRetrieval() || len(m.keys) < 2 {
		return nil
	}

	subs := make([]*Message, 0, len(m.keys))
	for _, key := range m.keys {
		fields := [][]byte{[]byte(m.kind.String())}
		if m.exptime != nil {
			fields = append(fields, m.exptime)
		}
		fields = append(fields, key)

		subs = append(subs, &Message{
			kind:    m.kind,
			data:    joinLine(fields, nil),
			keys:    [][]byte{key},
			exptime: m.exptime,
			sub:     true,
		})
	}
	return subs
}

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// SaveRequest appends the request as sent to a backend
func (m *Message) SaveRequest(dst []byte) ([]byte, error) {
	if !m.kind.IsRequest() {
		return dst, fmt.Errorf("%w: %s is not a request", protocol.ErrBadMessage, m.kind)
	}
	return append(dst, m.data...), nil
}

// SaveReply appends the client-visible form of reply, given that m is the
// request it answers. A sub-retrieval writes its values without the END
// line (the parent writes it once, see SaveEnds) and nothing for any other
// reply kind. Failed subs are reported by the parent instead.
func (m *Message) SaveReply(reply *Message, dst []byte) []byte {
	if m.noreply {
		return dst
	}
	if m.sub && m.kind.IsRetrieval() {
		if reply.kind != KindReplyRetrieval {
			return dst
		}
		return append(dst, bytes.TrimSuffix(reply.data, endLine)...)
	}
	return append(dst, reply.data...)
}

// SaveEnds appends the terminator that follows the sub-replies of a split request
func (m *Message) SaveEnds(dst []byte) []byte {
	if m.kind.IsRetrieval() && !m.noreply {
		return append(dst, endLine...)
	}
	return dst
}

// --------------------------------------------------------------------------
// Request parsing
// --------------------------------------------------------------------------

// Parse reads one request from src. It returns the message and the number of
// consumed bytes. A nil message with n == 0 and no error means src does not
// hold a complete request yet. On malformed input the returned error wraps
// protocol.ErrBadMessage (or protocol.ErrTooLarge) and n tells how many bytes
// to skip. n exceeds len(src) when a rejected data block has not fully arrived.
func Parse(src []byte) (*Message, int, error) {
	end := bytes.Index(src, crlf)
	if end < 0 {
		if len(src) > maxLineLen {
			return nil, len(src), ErrLineTooLong
		}
		return nil, 0, nil
	}

	lineLen := end + 2
	fields := bytes.Fields(src[:end])
	if len(fields) == 0 {
		return nil, lineLen, badMessage("empty command line")
	}

	kind, ok := requestKinds[string(fields[0])]
	if !ok {
		return nil, lineLen, badMessage("unknown command %q", fields[0])
	}

	switch {
	case kind.IsRetrieval():
		return parseRetrieval(kind, fields, lineLen)
	case kind.IsStorage():
		return parseStorage(kind, fields, src, lineLen)
	}

	// the remaining commands fit on one line
	args, isNoReply := stripNoReply(fields[1:])
	var err error
	switch kind {
	case KindDelete:
		err = expectArgs(args, 1)
	case KindIncr, KindDecr:
		if err = expectArgs(args, 2); err == nil {
			_, err = parseUint(args[1], 64)
		}
	case KindTouch:
		if err = expectArgs(args, 2); err == nil {
			_, err = parseInt(args[1])
		}
	case KindVersion:
		if isNoReply {
			err = badMessage("version does not accept noreply")
		} else {
			err = expectArgs(args, 0)
		}
	}
	if err != nil {
		return nil, lineLen, err
	}

	m := &Message{
		kind:    kind,
		data:    joinLine(append([][]byte{fields[0]}, args...), nil),
		noreply: isNoReply,
	}
	if len(args) > 0 {
		m.keys = [][]byte{cloneBytes(args[0])}
	}
	return m, lineLen, nil
}

// parseRetrieval handles get, gets, gat and gats
func parseRetrieval(kind Kind, fields [][]byte, lineLen int) (*Message, int, error) {
	m := &Message{kind: kind}
	keys := fields[1:]

	if kind == KindGat || kind == KindGats {
		if len(fields) < 2 {
			return nil, lineLen, badMessage("%s needs an exptime", kind)
		}
		if _, err := parseInt(fields[1]); err != nil {
			return nil, lineLen, err
		}
		m.exptime = cloneBytes(fields[1])
		keys = fields[2:]
	}

	if len(keys) == 0 {
		return nil, lineLen, badMessage("%s needs at least one key", kind)
	}

	m.keys = make([][]byte, 0, len(keys))
	for _, key := range keys {
		m.keys = append(m.keys, cloneBytes(key))
	}
	m.data = joinLine(fields, nil)
	return m, lineLen, nil
}

// parseStorage handles set, add, replace, append, prepend and cas
func parseStorage(kind Kind, fields [][]byte, src []byte, lineLen int) (*Message, int, error) {
	args, isNoReply := stripNoReply(fields[1:])

	want := 4 // key flags exptime bytes
	if kind == KindCas {
		want = 5 // ... cas unique
	}
	if err := expectArgs(args, want); err != nil {
		return nil, lineLen, err
	}
	if _, err := parseUint(args[1], 32); err != nil {
		return nil, lineLen, err
	}
	if _, err := parseInt(args[2]); err != nil {
		return nil, lineLen, err
	}
	size, err := parseUint(args[3], 64)
	if err != nil {
		return nil, lineLen, err
	}
	if size > uint64(math.MaxInt-lineLen-2) {
		return nil, lineLen, badMessage("invalid data block length %d", size)
	}
	if size > maxValueLen {
		// the data block is sent anyway and must not be read as commands
		return nil, lineLen + int(size) + 2, protocol.ErrTooLarge
	}
	if kind == KindCas {
		if _, err := parseUint(args[4], 64); err != nil {
			return nil, lineLen, err
		}
	}

	total := lineLen + int(size) + 2
	if len(src) < total {
		return nil, 0, nil
	}
	block := src[lineLen:total]
	if !bytes.HasSuffix(block, crlf) {
		return nil, total, badMessage("bad data chunk")
	}

	return &Message{
		kind:    kind,
		data:    joinLine(append([][]byte{fields[0]}, args...), block),
		keys:    [][]byte{cloneBytes(args[0])},
		noreply: isNoReply,
	}, total, nil
}

// --------------------------------------------------------------------------
// Reply parsing
// --------------------------------------------------------------------------

// statusLines are the complete single-line replies memcached sends
var statusLines = map[string]bool{
	"STORED":     true,
	"NOT_STORED": true,
	"EXISTS":     true,
	"NOT_FOUND":  true,
	"DELETED":    true,
	"TOUCHED":    true,
	"OK":         true,
}

// ParseReply reads one backend reply from src. It follows the same
// conventions as Parse; a malformed reply returns n == 0 and an error
// because the stream can no longer be trusted.
func ParseReply(src []byte) (*Message, int, error) {
	end := bytes.Index(src, crlf)
	if end < 0 {
		if len(src) > maxLineLen {
			return nil, 0, fmt.Errorf("%w: reply line too long", protocol.ErrBadReply)
		}
		return nil, 0, nil
	}
	line := src[:end]
	lineLen := end + 2

	var kind Kind
	switch {
	case bytes.HasPrefix(line, valueWord) || bytes.Equal(line, endLine[:3]):
		return parseRetrievalReply(src)
	case bytes.Equal(line, []byte("ERROR")),
		bytes.HasPrefix(line, []byte("CLIENT_ERROR")),
		bytes.HasPrefix(line, []byte("SERVER_ERROR")):
		kind = KindReplyError
	case statusLines[string(line)],
		bytes.HasPrefix(line, []byte("VERSION ")),
		isDigits(line):
		kind = KindReplyLine
	default:
		return nil, 0, fmt.Errorf("%w: unexpected line %q", protocol.ErrBadReply, line)
	}

	return &Message{kind: kind, data: cloneBytes(src[:lineLen])}, lineLen, nil
}

// parseRetrievalReply reads VALUE blocks until the END line
func parseRetrievalReply(src []byte) (*Message, int, error) {
	pos := 0
	for {
		end := bytes.Index(src[pos:], crlf)
		if end < 0 {
			return nil, 0, nil
		}
		line := src[pos : pos+end]

		if bytes.Equal(line, endLine[:3]) {
			total := pos + end + 2
			return &Message{kind: KindReplyRetrieval, data: cloneBytes(src[:total])}, total, nil
		}

		// VALUE <key> <flags> <bytes> [<cas unique>]
		fields := bytes.Fields(line)
		if len(fields) < 4 || len(fields) > 5 || !bytes.Equal(fields[0], valueWord) {
			return nil, 0, fmt.Errorf("%w: bad value line %q", protocol.ErrBadReply, line)
		}
		size, err := strconv.ParseUint(string(fields[3]), 10, 64)
		if err != nil || size > maxValueLen {
			return nil, 0, fmt.Errorf("%w: bad value length %q", protocol.ErrBadReply, fields[3])
		}

		blockEnd := pos + end + 2 + int(size) + 2
		if len(src) < blockEnd {
			return nil, 0, nil
		}
		if !bytes.Equal(src[blockEnd-2:blockEnd], crlf) {
			return nil, 0, fmt.Errorf("%w: bad data chunk", protocol.ErrBadReply)
		}
		pos = blockEnd
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func badMessage(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", protocol.ErrBadMessage, fmt.Sprintf(format, args...))
}

// stripNoReply removes a trailing noreply token
func stripNoReply(args [][]byte) ([][]byte, bool) {
	if n := len(args); n > 0 && bytes.Equal(args[n-1], noreply) {
		return args[:n-1], true
	}
	return args, false
}

func expectArgs(args [][]byte, n int) error {
	if len(args) != n {
		return badMessage("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func parseUint(b []byte, bits int) (uint64, error) {
	v, err := strconv.ParseUint(string(b), 10, bits)
	if err != nil {
		return 0, badMessage("invalid number %q", b)
	}
	return v, nil
}

func parseInt(b []byte) (int64, error) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, badMessage("invalid number %q", b)
	}
	return v, nil
}

func isDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

// joinLine builds "f1 f2 ...\r\n" followed by block
func joinLine(fields [][]byte, block []byte) []byte {
	size := len(crlf) + len(block)
	for _, f := range fields {
		size += len(f) + 1
	}

	buf := make([]byte, 0, size)
	for i, f := range fields {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, f...)
	}
	buf = append(buf, crlf...)
	return append(buf, block...)
}
