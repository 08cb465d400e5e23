// Package testing provides test helpers for code speaking the memcached
// text protocol.
//
// The package contains:
//   - Backend: an in-memory memcached on a loopback port that records the
//     command lines it receives and can be delayed or taken down
//   - Client: a minimal client that reads complete replies
//   - RunProxyTests: a client level test suite for proxies
//
// Example usage:
//
//	factory := func(t *testing.T, backends []*mctest.Backend) (string, string) {
//		srv := startMyProxy(t, backends)
//		return "tcp", srv.Addr().String()
//	}
//
//	mctest.RunProxyTests(t, "MyProxy", factory)
package testing
