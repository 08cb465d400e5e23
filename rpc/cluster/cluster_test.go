package cluster

import (
	"bytes"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/lib/protocol/mc"
	mctest "github.com/ValentinKolb/dProxy/lib/protocol/mc/testing"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport/tcp"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func testConfig(t *testing.T, addrs ...string) common.ProxyConfig {
	config := common.DefaultProxyConfig()
	config.Name = t.Name()
	config.PingIntervalSecond = 0
	config.StatsIntervalSecond = 0
	for _, addr := range addrs {
		config.Backends = append(config.Backends, common.BackendConf{Addr: addr, Weight: 1})
	}
	return config
}

func startCluster(t *testing.T, config common.ProxyConfig) *Cluster {
	t.Helper()
	c, err := New(config, mc.NewProtocol(), tcp.NewTCPBackendTransport)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func decode(t *testing.T, raw string) protocol.IRequest {
	t.Helper()
	req, n, err := (&mc.FrontCodec{}).Decode([]byte(raw))
	if err != nil || req == nil || n != len(raw) {
		t.Fatalf("Decode(%q) = (%v, %d, %v)", raw, req, n, err)
	}
	return req
}

// do dispatches one request and returns the encoded reply
func do(t *testing.T, c *Cluster, raw string) string {
	t.Helper()

	req := decode(t, raw)
	woke := make(chan struct{}, 1)
	req.Reregister(func() { woke <- struct{}{} })

	c.Dispatch(req)

	select {
	case <-woke:
	case <-time.After(10 * time.Second):
		t.Fatalf("%q: no wakeup", raw)
	}
	if !req.IsDone() {
		t.Fatalf("%q: woken but not done", raw)
	}

	out, err := (&mc.FrontCodec{}).Encode(req, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	req.Release()
	return string(out)
}

func unusedAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	return listener.Addr().String()
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestNewErrors(t *testing.T) {
	config := testConfig(t)
	if _, err := New(config, mc.NewProtocol(), tcp.NewTCPBackendTransport); err == nil {
		t.Error("New() without backends succeeded")
	}

	config = testConfig(t, "127.0.0.1:1")
	config.HashMethod = "md5"
	if _, err := New(config, mc.NewProtocol(), tcp.NewTCPBackendTransport); err == nil {
		t.Error("New() with unknown hash method succeeded")
	}
}

func TestDispatchSingle(t *testing.T) {
	b := mctest.NewBackend(t)
	b.Set("foo", "bar")
	c := startCluster(t, testConfig(t, b.Addr()))

	tests := []struct {
		req  string
		want string
	}{
		{"get foo\r\n", "VALUE foo 0 3\r\nbar\r\nEND\r\n"},
		{"get nope\r\n", "END\r\n"},
		{"set x 0 0 1\r\n1\r\n", "STORED\r\n"},
		{"incr x 41\r\n", "42\r\n"},
		{"bogus\r\n", "CLIENT_ERROR bad command line format\r\n"},
	}
	for _, tt := range tests {
		if got := do(t, c, tt.req); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.req, got, tt.want)
		}
	}
}

func TestDispatchSplit(t *testing.T) {
	backends := []*mctest.Backend{mctest.NewBackend(t), mctest.NewBackend(t), mctest.NewBackend(t)}
	var addrs []string
	for _, b := range backends {
		addrs = append(addrs, b.Addr())
	}
	c := startCluster(t, testConfig(t, addrs...))

	var keys []string
	var want strings.Builder
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("k%d", i)
		keys = append(keys, key)
		if got := do(t, c, fmt.Sprintf("set %s 0 0 %d\r\n%s\r\n", key, len(key), key)); got != "STORED\r\n" {
			t.Fatalf("set %s: %q", key, got)
		}
		fmt.Fprintf(&want, "VALUE %s 0 %d\r\n%s\r\n", key, len(key), key)
	}
	want.WriteString("END\r\n")

	if got := do(t, c, "get "+strings.Join(keys, " ")+"\r\n"); got != want.String() {
		t.Errorf("multi get = %q, want %q", got, want.String())
	}

	// every key was stored on the backend the ring picked for it
	for _, key := range keys {
		owner := c.Backend(decode(t, "get "+key+"\r\n"))
		for _, b := range backends {
			_, ok := b.Get(key)
			if ok != (b.Addr() == owner) {
				t.Errorf("key %s: stored on %s = %v, owner %s", key, b.Addr(), ok, owner)
			}
		}
	}
}

func TestDispatchInvalidKey(t *testing.T) {
	b := mctest.NewBackend(t)
	c := startCluster(t, testConfig(t, b.Addr()))

	long := strings.Repeat("x", 251)
	if got := do(t, c, "get ok "+long+"\r\n"); got != "CLIENT_ERROR bad command line format\r\n" {
		t.Errorf("split get with invalid key = %q", got)
	}
	if got := do(t, c, "get "+long+"\r\n"); got != "CLIENT_ERROR bad command line format\r\n" {
		t.Errorf("get invalid key = %q", got)
	}

	for _, line := range b.Lines() {
		if strings.Contains(line, long) {
			t.Errorf("invalid key reached the backend")
		}
	}
}

func TestDispatchHashTag(t *testing.T) {
	config := testConfig(t, unusedAddr(t), unusedAddr(t), unusedAddr(t))
	config.HashTag = "{}"
	c := startCluster(t, config)

	owner := c.Backend(decode(t, "get {user:42}:name\r\n"))
	for _, key := range []string{"{user:42}:mail", "{user:42}", "x{user:42}y"} {
		if got := c.Backend(decode(t, "get "+key+"\r\n")); got != owner {
			t.Errorf("Backend(%s) = %s, want %s", key, got, owner)
		}
	}
}

func TestDispatchRetryExhausted(t *testing.T) {
	c := startCluster(t, testConfig(t, unusedAddr(t)))

	got := do(t, c, "get a\r\n")
	if !strings.HasPrefix(got, "SERVER_ERROR "+protocol.ErrRetryExhausted.Error()) {
		t.Errorf("reply = %q, want retry exhausted error", got)
	}

	// a failed sub fails the whole split reply
	if got := do(t, c, "get a b\r\n"); !strings.HasPrefix(got, "SERVER_ERROR "+protocol.ErrRetryExhausted.Error()) {
		t.Errorf("split reply = %q, want retry exhausted error", got)
	}
}

func TestDispatchRetryRecovers(t *testing.T) {
	b := mctest.NewBackend(t)
	b.Set("a", "1")
	c := startCluster(t, testConfig(t, b.Addr()))

	// a broken connection fails the request in flight, the retry redials
	b.SetDelay(100 * time.Millisecond)
	go func() {
		time.Sleep(30 * time.Millisecond)
		b.SetDown(true)
		time.Sleep(30 * time.Millisecond)
		b.SetDelay(0)
		b.SetDown(false)
	}()

	if got := do(t, c, "get a\r\n"); got != "VALUE a 0 1\r\n1\r\nEND\r\n" {
		t.Errorf("reply = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	b := mctest.NewBackend(t)
	config := testConfig(t, b.Addr())
	config.PingFailLimit = 2
	c := startCluster(t, config)

	c.checkBackends()
	if !c.IsUp(b.Addr()) {
		t.Fatal("healthy backend marked down")
	}

	b.SetDown(true)
	c.checkBackends()
	if !c.IsUp(b.Addr()) {
		t.Error("backend marked down before reaching the fail limit")
	}
	c.checkBackends()
	if c.IsUp(b.Addr()) {
		t.Fatal("backend still up after reaching the fail limit")
	}

	// dispatch to a down backend fails without touching the network
	before := b.Requests()
	if got := do(t, c, "get a\r\n"); !strings.HasPrefix(got, "SERVER_ERROR") {
		t.Errorf("reply from down backend = %q", got)
	}
	if b.Requests() != before {
		t.Error("request was sent to a down backend")
	}

	b.SetDown(false)
	c.checkBackends()
	if !c.IsUp(b.Addr()) {
		t.Error("backend not up after a successful ping")
	}
	if got := do(t, c, "get a\r\n"); got != "END\r\n" {
		t.Errorf("reply after recovery = %q", got)
	}
}

// gaugeValue reads one gauge from the Prometheus output
func gaugeValue(t *testing.T, name string) string {
	t.Helper()
	var buf bytes.Buffer
	metrics.WritePrometheus(&buf, false)
	for _, line := range strings.Split(buf.String(), "\n") {
		if value, ok := strings.CutPrefix(line, name+" "); ok {
			return value
		}
	}
	t.Fatalf("gauge %s not found", name)
	return ""
}

func TestGaugesFollowNewestCluster(t *testing.T) {
	b := mctest.NewBackend(t)
	config := testConfig(t, b.Addr())
	config.PingFailLimit = 1

	first, err := New(config, mc.NewProtocol(), tcp.NewTCPBackendTransport)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { first.Close() })
	second := startCluster(t, config)
	up := second.metricName("dproxy_backend_up", b.Addr())

	// the gauge reports the second cluster, even after the first is closed
	b.SetDown(true)
	second.checkBackends()
	if got := gaugeValue(t, up); got != "0" {
		t.Errorf("backend up = %s, want 0 from the newest cluster", got)
	}
	first.Close()

	b.SetDown(false)
	second.checkBackends()
	if got := gaugeValue(t, up); got != "1" {
		t.Errorf("backend up = %s after closing the old cluster, want 1", got)
	}
	factor, err := strconv.ParseFloat(gaugeValue(t, second.metricName("dproxy_ring_load_factor", b.Addr())), 64)
	if err != nil || math.Abs(factor-1) > 1e-6 {
		t.Errorf("load factor = %v (%v), want 1", factor, err)
	}

	second.Close()
	if got := gaugeValue(t, up); got != "0" {
		t.Errorf("backend up = %s after Close, want 0", got)
	}
}

func TestBackoff(t *testing.T) {
	for attempt := 0; attempt < 70; attempt++ {
		d := backoff(attempt)
		if d <= 0 || d > maxBackoff*11/10 {
			t.Errorf("backoff(%d) = %s", attempt, d)
		}
	}
	if d := backoff(0); d < baseBackoff*9/10 || d > baseBackoff*11/10 {
		t.Errorf("backoff(0) = %s, want about %s", d, baseBackoff)
	}
}
