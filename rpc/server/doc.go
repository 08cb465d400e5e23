// Package server implements the client facing side of the proxy.
//
// A ProxyServer accepts client connections through a transport.IProxyServerTransport,
// decodes requests with the front codec of the protocol and hands them to a
// cluster.Cluster, which routes every key to its backend.
//
// Every client connection runs two goroutines:
//
//   - The reader decodes requests, applies the optional per client rate limit,
//     dispatches each request and queues it for the writer.
//
//   - The writer takes the queued requests in order, waits until each one is
//     done (or fails it with protocol.ErrTimeout once its deadline passes) and
//     writes the encoded reply. Replies of pipelined requests are batched into
//     a single write.
//
// Because the writer only ever waits on the head of its queue, clients always
// receive replies in the order they sent the requests, no matter in which
// order the backends answer.
//
// Usage Example:
//
//	config := common.DefaultProxyConfig()
//	config.Backends = []common.BackendConf{
//	  {Addr: "10.0.0.1:11211", Weight: 1},
//	  {Addr: "10.0.0.2:11211", Weight: 2},
//	}
//
//	s := server.NewProxyServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  mc.NewProtocol(),
//	  tcp.NewTCPBackendTransport,
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Proxy error: %v", err)
//	}
//
// If MetricsEndpoint is set, all counters and histograms are exposed in
// Prometheus format at /metrics on that address.
package server
