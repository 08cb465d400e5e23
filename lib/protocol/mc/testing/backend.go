package testing

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Fake memcached backend
// --------------------------------------------------------------------------

type item struct {
	flags string
	value []byte
	cas   uint64
}

// Backend is an in-memory memcached speaking the text protocol on a
// loopback TCP port. It implements the subset of commands the proxy forwards.
type Backend struct {
	t        testing.TB
	listener net.Listener

	mu    sync.Mutex
	items map[string]item
	lines []string
	conns map[net.Conn]struct{}
	cas   uint64

	delay    atomic.Int64 // per request, in nanoseconds
	down     atomic.Bool
	requests atomic.Int64
	wg       sync.WaitGroup
}

// NewBackend starts a backend on 127.0.0.1 with a random port. It is
// stopped when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fake backend: %v", err)
	}

	b := &Backend{
		t:        t,
		listener: listener,
		items:    make(map[string]item),
		conns:    make(map[net.Conn]struct{}),
	}

	b.wg.Add(1)
	go b.accept()
	t.Cleanup(b.Close)
	return b
}

// Addr returns the address clients dial
func (b *Backend) Addr() string {
	return b.listener.Addr().String()
}

// Set stores a value directly, bypassing the protocol
func (b *Backend) Set(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cas++
	b.items[key] = item{flags: "0", value: []byte(value), cas: b.cas}
}

// Get returns a stored value
func (b *Backend) Get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[key]
	return string(it.value), ok
}

// Lines returns every command line received so far
func (b *Backend) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Requests returns the number of commands received so far
func (b *Backend) Requests() int64 {
	return b.requests.Load()
}

// SetDelay delays every reply by d
func (b *Backend) SetDelay(d time.Duration) {
	b.delay.Store(int64(d))
}

// SetDown drops all connections and refuses new ones while down is true
func (b *Backend) SetDown(down bool) {
	b.down.Store(down)
	if !down {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		conn.Close()
	}
}

// Close stops the backend and waits for all connections to finish
func (b *Backend) Close() {
	b.listener.Close()
	b.SetDown(true)
	b.wg.Wait()
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

func (b *Backend) accept() {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		if b.down.Load() {
			conn.Close()
			continue
		}

		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Backend) serve(conn net.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
		b.wg.Done()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		b.mu.Lock()
		b.lines = append(b.lines, line)
		b.mu.Unlock()
		b.requests.Add(1)

		if d := time.Duration(b.delay.Load()); d > 0 {
			time.Sleep(d)
		}

		reply, err := b.handle(line, r)
		if err != nil {
			return
		}
		if _, err := w.WriteString(reply); err != nil {
			return
		}

		// flush once the pipeline is drained
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

// handle executes one command and returns the reply
func (b *Backend) handle(line string, r *bufio.Reader) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR\r\n", nil
	}

	noreply := fields[len(fields)-1] == "noreply"
	if noreply {
		fields = fields[:len(fields)-1]
	}

	var reply string
	switch cmd := fields[0]; cmd {
	case "get", "gets":
		reply = b.retrieve(fields[1:], cmd == "gets")
	case "gat", "gats":
		if len(fields) < 3 {
			return "ERROR\r\n", nil
		}
		reply = b.retrieve(fields[2:], cmd == "gats")
	case "set", "add", "replace", "append", "prepend", "cas":
		var err error
		if reply, err = b.store(cmd, fields[1:], r); err != nil {
			return "", err
		}
	case "delete":
		reply = b.delete(fields[1:])
	case "incr", "decr":
		reply = b.arith(cmd == "incr", fields[1:])
	case "touch":
		reply = b.touch(fields[1:])
	case "version":
		reply = "VERSION 1.6.0-fake\r\n"
	default:
		reply = "ERROR\r\n"
	}

	if noreply {
		return "", nil
	}
	return reply, nil
}

func (b *Backend) retrieve(keys []string, withCas bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	for _, key := range keys {
		it, ok := b.items[key]
		if !ok {
			continue
		}
		if withCas {
			fmt.Fprintf(&sb, "VALUE %s %s %d %d\r\n", key, it.flags, len(it.value), it.cas)
		} else {
			fmt.Fprintf(&sb, "VALUE %s %s %d\r\n", key, it.flags, len(it.value))
		}
		sb.Write(it.value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("END\r\n")
	return sb.String()
}

func (b *Backend) store(cmd string, args []string, r *bufio.Reader) (string, error) {
	if len(args) < 4 {
		return "ERROR\r\n", nil
	}
	size, err := strconv.Atoi(args[3])
	if err != nil || size < 0 {
		return "CLIENT_ERROR bad data chunk\r\n", nil
	}

	block := make([]byte, size+2)
	if _, err := io.ReadFull(r, block); err != nil {
		return "", err
	}
	if !bytes.HasSuffix(block, []byte("\r\n")) {
		return "CLIENT_ERROR bad data chunk\r\n", nil
	}
	value := block[:size]
	key, flags := args[0], args[1]

	b.mu.Lock()
	defer b.mu.Unlock()

	old, exists := b.items[key]
	switch cmd {
	case "add":
		if exists {
			return "NOT_STORED\r\n", nil
		}
	case "replace":
		if !exists {
			return "NOT_STORED\r\n", nil
		}
	case "append", "prepend":
		if !exists {
			return "NOT_STORED\r\n", nil
		}
		if cmd == "append" {
			value = append(append([]byte(nil), old.value...), value...)
		} else {
			value = append(append([]byte(nil), value...), old.value...)
		}
		flags = old.flags
	case "cas":
		if len(args) < 5 {
			return "ERROR\r\n", nil
		}
		if !exists {
			return "NOT_FOUND\r\n", nil
		}
		if args[4] != strconv.FormatUint(old.cas, 10) {
			return "EXISTS\r\n", nil
		}
	}

	b.cas++
	b.items[key] = item{flags: flags, value: append([]byte(nil), value...), cas: b.cas}
	return "STORED\r\n", nil
}

func (b *Backend) delete(args []string) string {
	if len(args) < 1 {
		return "ERROR\r\n"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[args[0]]; !ok {
		return "NOT_FOUND\r\n"
	}
	delete(b.items, args[0])
	return "DELETED\r\n"
}

func (b *Backend) arith(incr bool, args []string) string {
	if len(args) < 2 {
		return "ERROR\r\n"
	}
	delta, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return "CLIENT_ERROR invalid numeric delta argument\r\n"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	it, ok := b.items[args[0]]
	if !ok {
		return "NOT_FOUND\r\n"
	}
	n, err := strconv.ParseUint(string(it.value), 10, 64)
	if err != nil {
		return "CLIENT_ERROR cannot increment or decrement non-numeric value\r\n"
	}

	switch {
	case incr:
		n += delta
	case delta > n:
		n = 0
	default:
		n -= delta
	}

	b.cas++
	it.value = []byte(strconv.FormatUint(n, 10))
	it.cas = b.cas
	b.items[args[0]] = it
	return strconv.FormatUint(n, 10) + "\r\n"
}

func (b *Backend) touch(args []string) string {
	if len(args) < 2 {
		return "ERROR\r\n"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[args[0]]; !ok {
		return "NOT_FOUND\r\n"
	}
	return "TOUCHED\r\n"
}
