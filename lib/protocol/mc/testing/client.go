package testing

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Client is a minimal memcached text protocol client for tests
type Client struct {
	t    testing.TB
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects a client to addr. The connection is closed when the test ends.
func Dial(t testing.TB, network, addr string) *Client {
	t.Helper()

	conn, err := net.DialTimeout(network, addr, time.Second)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })

	return &Client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// Write sends raw bytes without reading a reply
func (c *Client) Write(raw string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(c.conn, raw); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

// Do sends one request and returns its complete reply
func (c *Client) Do(req string) string {
	c.t.Helper()
	c.Write(req)
	return c.ReadReply()
}

// ReadReply reads one complete reply. A retrieval reply is read up to and
// including its END line.
func (c *Client) ReadReply() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var sb strings.Builder
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			c.t.Fatalf("read failed after %q: %v", sb.String(), err)
		}
		sb.WriteString(line)

		if !strings.HasPrefix(line, "VALUE ") {
			if sb.Len() == len(line) || line == "END\r\n" {
				return sb.String()
			}
			continue
		}

		// VALUE <key> <flags> <bytes> [<cas>]
		fields := strings.Fields(line)
		if len(fields) < 4 {
			c.t.Fatalf("malformed value line %q", line)
		}
		size, err := strconv.Atoi(fields[3])
		if err != nil {
			c.t.Fatalf("malformed value line %q", line)
		}
		block := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, block); err != nil {
			c.t.Fatalf("read failed: %v", err)
		}
		sb.Write(block)
	}
}

// ExpectSilence checks that nothing arrives within d
func (c *Client) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	if b, err := c.r.Peek(1); err == nil {
		c.t.Fatalf("unexpected data %q", b)
	}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
