package testing

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// ProxyFactory starts a proxy in front of the given backends and returns the
// network and address clients dial
type ProxyFactory func(t *testing.T, backends []*Backend) (network, addr string)

// RunProxyTests runs the client level test suite against a memcached proxy
func RunProxyTests(t *testing.T, name string, factory ProxyFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory)
		})

		t.Run("MultiGetOrder", func(t *testing.T) {
			testMultiGetOrder(t, factory)
		})

		t.Run("MultiGetSpreads", func(t *testing.T) {
			testMultiGetSpreads(t, factory)
		})

		t.Run("Gets&Cas", func(t *testing.T) {
			testGetsCas(t, factory)
		})

		t.Run("NoReply", func(t *testing.T) {
			testNoReply(t, factory)
		})

		t.Run("Arithmetic", func(t *testing.T) {
			testArithmetic(t, factory)
		})

		t.Run("Delete&Touch", func(t *testing.T) {
			testDeleteTouch(t, factory)
		})

		t.Run("Malformed", func(t *testing.T) {
			testMalformed(t, factory)
		})

		t.Run("Pipelining", func(t *testing.T) {
			testPipelining(t, factory)
		})

		t.Run("Version", func(t *testing.T) {
			testVersion(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func startProxy(t *testing.T, factory ProxyFactory, n int) (*Client, []*Backend) {
	t.Helper()

	backends := make([]*Backend, n)
	for i := range backends {
		backends[i] = NewBackend(t)
	}
	network, addr := factory(t, backends)
	return Dial(t, network, addr), backends
}

func expectReply(t *testing.T, c *Client, req, want string) {
	t.Helper()
	if got := c.Do(req); got != want {
		t.Errorf("%q: got %q, want %q", req, got, want)
	}
}

func valueLine(key, value string) string {
	return fmt.Sprintf("VALUE %s 0 %d\r\n%s\r\n", key, len(value), value)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, factory ProxyFactory) {
	c, _ := startProxy(t, factory, 2)

	expectReply(t, c, "get missing\r\n", "END\r\n")
	expectReply(t, c, "set foo 0 0 3\r\nbar\r\n", "STORED\r\n")
	expectReply(t, c, "get foo\r\n", valueLine("foo", "bar")+"END\r\n")
	expectReply(t, c, "add foo 0 0 1\r\nx\r\n", "NOT_STORED\r\n")
	expectReply(t, c, "append foo 0 0 1\r\n!\r\n", "STORED\r\n")
	expectReply(t, c, "get foo\r\n", valueLine("foo", "bar!")+"END\r\n")

	// binary safe values
	expectReply(t, c, "set bin 0 0 4\r\na\r\nb\r\n", "STORED\r\n")
	expectReply(t, c, "get bin\r\n", valueLine("bin", "a\r\nb")+"END\r\n")
}

func testMultiGetOrder(t *testing.T, factory ProxyFactory) {
	c, _ := startProxy(t, factory, 3)

	var keys []string
	var want strings.Builder
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key%d", i)
		keys = append(keys, key)
		if i%3 == 0 {
			continue // miss
		}
		value := fmt.Sprintf("value-%d", i)
		expectReply(t, c, fmt.Sprintf("set %s 0 0 %d\r\n%s\r\n", key, len(value), value), "STORED\r\n")
		want.WriteString(valueLine(key, value))
	}
	want.WriteString("END\r\n")

	expectReply(t, c, "get "+strings.Join(keys, " ")+"\r\n", want.String())

	// duplicate keys are answered once per occurrence
	expectReply(t, c, "get key1 key1\r\n", valueLine("key1", "value-1")+valueLine("key1", "value-1")+"END\r\n")

	// all misses
	expectReply(t, c, "get key0 key3 key6\r\n", "END\r\n")
}

func testMultiGetSpreads(t *testing.T, factory ProxyFactory) {
	c, backends := startProxy(t, factory, 3)

	var keys []string
	for i := 0; i < 60; i++ {
		keys = append(keys, fmt.Sprintf("spread-%d", i))
	}
	expectReply(t, c, "get "+strings.Join(keys, " ")+"\r\n", "END\r\n")

	var total int64
	for i, b := range backends {
		if b.Requests() == 0 {
			t.Errorf("backend %d received no sub-request", i)
		}
		for _, line := range b.Lines() {
			if fields := strings.Fields(line); len(fields) != 2 {
				t.Errorf("backend %d received %q, want single key retrieval", i, line)
			}
		}
		total += b.Requests()
	}
	if total != int64(len(keys)) {
		t.Errorf("backends received %d requests, want %d", total, len(keys))
	}
}

func testGetsCas(t *testing.T, factory ProxyFactory) {
	c, _ := startProxy(t, factory, 2)

	expectReply(t, c, "set a 5 0 1\r\n1\r\n", "STORED\r\n")

	reply := c.Do("gets a\r\n")
	fields := strings.Fields(strings.SplitN(reply, "\r\n", 2)[0])
	if len(fields) != 5 || fields[0] != "VALUE" || fields[2] != "5" {
		t.Fatalf("gets reply %q", reply)
	}
	cas := fields[4]

	expectReply(t, c, "cas a 0 0 1 "+cas+"\r\n2\r\n", "STORED\r\n")
	expectReply(t, c, "cas a 0 0 1 "+cas+"\r\n3\r\n", "EXISTS\r\n")
	expectReply(t, c, "get a\r\n", valueLine("a", "2")+"END\r\n")
}

func testNoReply(t *testing.T, factory ProxyFactory) {
	c, backends := startProxy(t, factory, 1)

	c.Write("set quiet 0 0 2 noreply\r\nhi\r\n")
	c.ExpectSilence(100 * time.Millisecond)

	// the next reply belongs to the next request
	expectReply(t, c, "get quiet\r\n", valueLine("quiet", "hi")+"END\r\n")

	c.Write("delete quiet noreply\r\n")
	expectReply(t, c, "get quiet\r\n", "END\r\n")

	for _, line := range backends[0].Lines() {
		if strings.HasSuffix(line, "noreply") {
			t.Errorf("backend received %q", line)
		}
	}
}

func testArithmetic(t *testing.T, factory ProxyFactory) {
	c, _ := startProxy(t, factory, 2)

	expectReply(t, c, "incr counter 1\r\n", "NOT_FOUND\r\n")
	expectReply(t, c, "set counter 0 0 2\r\n10\r\n", "STORED\r\n")
	expectReply(t, c, "incr counter 5\r\n", "15\r\n")
	expectReply(t, c, "decr counter 20\r\n", "0\r\n")
	expectReply(t, c, "incr counter abc\r\n", "CLIENT_ERROR bad command line format\r\n")
}

func testDeleteTouch(t *testing.T, factory ProxyFactory) {
	c, _ := startProxy(t, factory, 2)

	expectReply(t, c, "set gone 0 0 1\r\nx\r\n", "STORED\r\n")
	expectReply(t, c, "touch gone 100\r\n", "TOUCHED\r\n")
	expectReply(t, c, "gat 100 gone\r\n", valueLine("gone", "x")+"END\r\n")
	expectReply(t, c, "delete gone\r\n", "DELETED\r\n")
	expectReply(t, c, "delete gone\r\n", "NOT_FOUND\r\n")
	expectReply(t, c, "touch gone 100\r\n", "NOT_FOUND\r\n")
}

func testMalformed(t *testing.T, factory ProxyFactory) {
	c, backends := startProxy(t, factory, 1)

	expectReply(t, c, "bogus\r\n", "CLIENT_ERROR bad command line format\r\n")
	expectReply(t, c, "get\r\n", "CLIENT_ERROR bad command line format\r\n")
	expectReply(t, c, "set k 0 0 x\r\n", "CLIENT_ERROR bad command line format\r\n")
	expectReply(t, c, "get "+strings.Repeat("k", 251)+"\r\n", "CLIENT_ERROR bad command line format\r\n")

	// the connection is still usable
	expectReply(t, c, "set ok 0 0 1\r\n1\r\n", "STORED\r\n")

	// the data block of an oversized value is discarded, never run as a command
	expectReply(t, c, "set big 0 0 999999999999\r\ndelete ok\r\n", "SERVER_ERROR object too large for cache\r\n")
	c.ExpectSilence(100 * time.Millisecond)

	for _, line := range backends[0].Lines() {
		if line != "set ok 0 0 1" {
			t.Errorf("backend received %q", line)
		}
	}
}

func testPipelining(t *testing.T, factory ProxyFactory) {
	c, _ := startProxy(t, factory, 3)

	var batch, want strings.Builder
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("p%d", i)
		fmt.Fprintf(&batch, "set %s 0 0 %d\r\n%s\r\n", key, len(key), key)
		fmt.Fprintf(&batch, "get %s missing-%d %s\r\n", key, i, key)
		want.WriteString("STORED\r\n")
		want.WriteString(valueLine(key, key) + valueLine(key, key) + "END\r\n")
	}
	c.Write(batch.String())

	var got strings.Builder
	for i := 0; i < 100; i++ {
		got.WriteString(c.ReadReply())
	}
	if got.String() != want.String() {
		t.Errorf("pipelined replies differ:\ngot  %q\nwant %q", got.String(), want.String())
	}
}

func testVersion(t *testing.T, factory ProxyFactory) {
	c, _ := startProxy(t, factory, 1)

	if reply := c.Do("version\r\n"); !strings.HasPrefix(reply, "VERSION ") {
		t.Errorf("version reply %q", reply)
	}
}
