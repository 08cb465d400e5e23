package msg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dProxy/lib/protocol"
)

// TestParseRequests tests complete requests of every command family
func TestParseRequests(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     Kind
		key      string
		keys     int
		data     string
		noReply  bool
		consumed int
	}{
		{
			name:     "single get",
			input:    "get foo\r\n",
			kind:     KindGet,
			key:      "foo",
			keys:     1,
			data:     "get foo\r\n",
			consumed: 9,
		},
		{
			name:     "multi gets with extra spaces",
			input:    "gets  a b   c\r\n",
			kind:     KindGets,
			key:      "a",
			keys:     3,
			data:     "gets a b c\r\n",
			consumed: 15,
		},
		{
			name:     "gat",
			input:    "gat 10 k1 k2\r\n",
			kind:     KindGat,
			key:      "k1",
			keys:     2,
			data:     "gat 10 k1 k2\r\n",
			consumed: 14,
		},
		{
			name:     "set with data",
			input:    "set k 1 0 5\r\nhello\r\n",
			kind:     KindSet,
			key:      "k",
			keys:     1,
			data:     "set k 1 0 5\r\nhello\r\n",
			consumed: 20,
		},
		{
			name:     "set noreply is stripped",
			input:    "set k 0 0 2 noreply\r\nhi\r\n",
			kind:     KindSet,
			key:      "k",
			keys:     1,
			data:     "set k 0 0 2\r\nhi\r\n",
			noReply:  true,
			consumed: 25,
		},
		{
			name:     "cas",
			input:    "cas k 0 0 1 99\r\nx\r\n",
			kind:     KindCas,
			key:      "k",
			keys:     1,
			data:     "cas k 0 0 1 99\r\nx\r\n",
			consumed: 19,
		},
		{
			name:     "delete",
			input:    "delete k\r\n",
			kind:     KindDelete,
			key:      "k",
			keys:     1,
			data:     "delete k\r\n",
			consumed: 10,
		},
		{
			name:     "incr noreply",
			input:    "incr n 5 noreply\r\n",
			kind:     KindIncr,
			key:      "n",
			keys:     1,
			data:     "incr n 5\r\n",
			noReply:  true,
			consumed: 18,
		},
		{
			name:     "touch",
			input:    "touch k 100\r\n",
			kind:     KindTouch,
			key:      "k",
			keys:     1,
			data:     "touch k 100\r\n",
			consumed: 13,
		},
		{
			name:     "version",
			input:    "version\r\n",
			kind:     KindVersion,
			keys:     0,
			data:     "version\r\n",
			consumed: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, n, err := Parse([]byte(tt.input + "get next\r\n"))
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if m == nil {
				t.Fatal("Parse() returned nil message")
			}
			if n != tt.consumed {
				t.Errorf("consumed = %d, want %d", n, tt.consumed)
			}
			if m.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", m.Kind(), tt.kind)
			}
			if string(m.Key()) != tt.key {
				t.Errorf("Key() = %q, want %q", m.Key(), tt.key)
			}
			if len(m.Keys()) != tt.keys {
				t.Errorf("len(Keys()) = %d, want %d", len(m.Keys()), tt.keys)
			}
			if string(m.Data()) != tt.data {
				t.Errorf("Data() = %q, want %q", m.Data(), tt.data)
			}
			if m.NoReply() != tt.noReply {
				t.Errorf("NoReply() = %v, want %v", m.NoReply(), tt.noReply)
			}
		})
	}
}

// TestParseIncomplete checks that partial input asks for more bytes
func TestParseIncomplete(t *testing.T) {
	for _, input := range []string{
		"",
		"get foo",
		"get foo\r",
		"set k 0 0 5\r\n",
		"set k 0 0 5\r\nhel",
		"set k 0 0 5\r\nhello\r",
	} {
		m, n, err := Parse([]byte(input))
		if m != nil || n != 0 || err != nil {
			t.Errorf("Parse(%q) = (%v, %d, %v), want (nil, 0, nil)", input, m, n, err)
		}
	}
}

// TestParseMalformed checks that bad input is reported and skipped
func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		consumed int
	}{
		{"unknown command", "flush_everything\r\n", 18},
		{"empty line", "\r\n", 2},
		{"get without key", "get\r\n", 5},
		{"gat without key", "gat 10\r\n", 8},
		{"gat bad exptime", "gat x k\r\n", 9},
		{"set missing args", "set k 0 0\r\n", 11},
		{"set bad length", "set k 0 0 x\r\n", 13},
		{"set bad chunk", "set k 0 0 2\r\nabcd\r\n", 17},
		{"incr bad delta", "incr k -1\r\n", 11},
		{"delete too many args", "delete a b\r\n", 12},
		{"version noreply", "version noreply\r\n", 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, n, err := Parse([]byte(tt.input))
			if !errors.Is(err, protocol.ErrBadMessage) {
				t.Fatalf("Parse() error = %v, want ErrBadMessage", err)
			}
			if m != nil {
				t.Errorf("Parse() message = %v, want nil", m)
			}
			if n != tt.consumed {
				t.Errorf("consumed = %d, want %d", n, tt.consumed)
			}
		})
	}
}

// TestParseLineTooLong checks that a line without CRLF cannot grow unbounded
func TestParseLineTooLong(t *testing.T) {
	input := make([]byte, maxLineLen+1)
	for i := range input {
		input[i] = 'a'
	}
	_, n, err := Parse(input)
	if !errors.Is(err, protocol.ErrBadMessage) {
		t.Fatalf("Parse() error = %v, want ErrBadMessage", err)
	}
	if n != len(input) {
		t.Errorf("consumed = %d, want %d", n, len(input))
	}
}

// TestParseTooLarge checks that an oversized storage command skips its data block
func TestParseTooLarge(t *testing.T) {
	line := fmt.Sprintf("set k 0 0 %d noreply\r\n", maxValueLen+1)
	m, n, err := Parse([]byte(line + "xx"))
	if !errors.Is(err, protocol.ErrTooLarge) {
		t.Fatalf("Parse() error = %v, want ErrTooLarge", err)
	}
	if m != nil {
		t.Errorf("Parse() message = %v, want nil", m)
	}
	if want := len(line) + maxValueLen + 1 + 2; n != want {
		t.Errorf("consumed = %d, want %d", n, want)
	}
	if got := string(NewErrorReply(err).Data()); got != "SERVER_ERROR object too large for cache\r\n" {
		t.Errorf("error reply = %q", got)
	}
}

// TestSubs tests the decomposition of retrievals
func TestSubs(t *testing.T) {
	m, _, _ := Parse([]byte("gats 30 a b c\r\n"))
	subs := m.Subs()
	if len(subs) != 3 {
		t.Fatalf("len(Subs()) = %d, want 3", len(subs))
	}
	for i, want := range []string{"gats 30 a\r\n", "gats 30 b\r\n", "gats 30 c\r\n"} {
		if string(subs[i].Data()) != want {
			t.Errorf("sub %d Data() = %q, want %q", i, subs[i].Data(), want)
		}
		if !subs[i].IsSub() {
			t.Errorf("sub %d IsSub() = false", i)
		}
	}

	for _, input := range []string{"get single\r\n", "set k 0 0 1\r\nx\r\n", "version\r\n"} {
		m, _, _ := Parse([]byte(input))
		if subs := m.Subs(); subs != nil {
			t.Errorf("Subs() of %q = %v, want nil", input, subs)
		}
	}
}

// TestParseReply tests backend replies
func TestParseReply(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
		isErr bool
	}{
		{"miss", "END\r\n", KindReplyRetrieval, false},
		{"one value", "VALUE k 0 5\r\nhello\r\nEND\r\n", KindReplyRetrieval, false},
		{"values with cas", "VALUE a 1 1 10\r\nx\r\nVALUE b 2 2 11\r\nyz\r\nEND\r\n", KindReplyRetrieval, false},
		{"value containing END", "VALUE k 0 5\r\nEND\r\n\r\nEND\r\n", KindReplyRetrieval, false},
		{"stored", "STORED\r\n", KindReplyLine, false},
		{"not found", "NOT_FOUND\r\n", KindReplyLine, false},
		{"number", "42\r\n", KindReplyLine, false},
		{"version", "VERSION 1.6.21\r\n", KindReplyLine, false},
		{"error", "ERROR\r\n", KindReplyError, true},
		{"server error", "SERVER_ERROR out of memory\r\n", KindReplyError, true},
		{"client error", "CLIENT_ERROR bad data chunk\r\n", KindReplyError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, n, err := ParseReply([]byte(tt.input + "STORED\r\n"))
			if err != nil {
				t.Fatalf("ParseReply() error: %v", err)
			}
			if n != len(tt.input) {
				t.Errorf("consumed = %d, want %d", n, len(tt.input))
			}
			if m.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", m.Kind(), tt.kind)
			}
			if m.IsError() != tt.isErr {
				t.Errorf("IsError() = %v, want %v", m.IsError(), tt.isErr)
			}
			if string(m.Data()) != tt.input {
				t.Errorf("Data() = %q, want %q", m.Data(), tt.input)
			}
		})
	}
}

func TestParseReplyIncompleteAndBad(t *testing.T) {
	for _, input := range []string{"", "STOR", "VALUE k 0 5\r\nhel", "VALUE k 0 5\r\nhello\r\n"} {
		m, n, err := ParseReply([]byte(input))
		if m != nil || n != 0 || err != nil {
			t.Errorf("ParseReply(%q) = (%v, %d, %v), want need-more", input, m, n, err)
		}
	}

	for _, input := range []string{"WHAT\r\n", "VALUE k x\r\n", "VALUE k 0 2\r\nabcd\r\nEND\r\n"} {
		if _, _, err := ParseReply([]byte(input)); !errors.Is(err, protocol.ErrBadReply) {
			t.Errorf("ParseReply(%q) error = %v, want ErrBadReply", input, err)
		}
	}
}

// TestSaveReply tests the client-visible form of replies
func TestSaveReply(t *testing.T) {
	parent, _, _ := Parse([]byte("get a b\r\n"))
	subs := parent.Subs()

	hit, _, _ := ParseReply([]byte("VALUE a 0 1\r\n1\r\nEND\r\n"))
	failed := NewErrorReply(errors.New("boom"))

	var dst []byte
	dst = subs[0].SaveReply(hit, dst)
	dst = subs[1].SaveReply(failed, dst)
	dst = parent.SaveEnds(dst)

	if want := "VALUE a 0 1\r\n1\r\nEND\r\n"; string(dst) != want {
		t.Errorf("combined frame = %q, want %q", dst, want)
	}

	single, _, _ := Parse([]byte("get a\r\n"))
	if got := string(single.SaveReply(hit, nil)); got != string(hit.Data()) {
		t.Errorf("single SaveReply = %q, want %q", got, hit.Data())
	}

	quiet, _, _ := Parse([]byte("delete a noreply\r\n"))
	deleted, _, _ := ParseReply([]byte("DELETED\r\n"))
	if got := quiet.SaveReply(deleted, nil); len(got) != 0 {
		t.Errorf("noreply SaveReply = %q, want empty", got)
	}
}

func TestNewErrorReply(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{protocol.ErrBadMessage, "CLIENT_ERROR bad command line format\r\n"},
		{protocol.ErrInvalidKey, "CLIENT_ERROR bad command line format\r\n"},
		{protocol.ErrTimeout, "SERVER_ERROR request timed out\r\n"},
		{errors.New("multi\r\nline"), "SERVER_ERROR multi  line\r\n"},
	}
	for _, tt := range tests {
		reply := NewErrorReply(tt.err)
		if string(reply.Data()) != tt.want {
			t.Errorf("NewErrorReply(%v) = %q, want %q", tt.err, reply.Data(), tt.want)
		}
		if !reply.IsError() {
			t.Errorf("NewErrorReply(%v).IsError() = false", tt.err)
		}
	}
}

func TestSaveRequest(t *testing.T) {
	if _, err := NewInlineRequest().SaveRequest(nil); err == nil {
		t.Error("SaveRequest() of inline request expected error")
	}
	out, err := NewVersionRequest().SaveRequest([]byte("x"))
	if err != nil || string(out) != "xversion\r\n" {
		t.Errorf("SaveRequest() = (%q, %v)", out, err)
	}
}

func TestKeysValid(t *testing.T) {
	long := make([]byte, MaxKeyLen+1)
	for i := range long {
		long[i] = 'k'
	}
	tests := []struct {
		input string
		want  bool
	}{
		{"get ok\r\n", true},
		{"get ok " + string(long) + "\r\n", false},
		{"get bad\x01key\r\n", false},
		{"version\r\n", true},
	}
	for _, tt := range tests {
		m, _, err := Parse([]byte(tt.input))
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.input, err)
		}
		if got := m.KeysValid(); got != tt.want {
			t.Errorf("KeysValid(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
