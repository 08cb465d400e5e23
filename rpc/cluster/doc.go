// Package cluster routes requests to the backends of one memcached pool.
//
// Every backend gets weight*160 points on a consistent hash ring. The
// routing key of a dispatchable unit is hashed with the configured hash
// function, after stripping the hash tag if one is set, and the unit goes
// to the owner of the next point on the ring.
//
// Dispatch never blocks. A split request dispatches one clone per sub, any
// other request one clone of itself. A unit that fails on the transport is
// retried with exponential backoff until its retry budget is used up; it is
// then completed with protocol.ErrRetryExhausted. Units with invalid keys
// are completed with protocol.ErrInvalidKey without touching the network.
//
// Health checks send the protocol's ping request to every backend once per
// PingIntervalSecond. After PingFailLimit consecutive failures a backend is
// marked down: its connections are dropped and units routed to it fail
// fast. The first successful ping brings it back.
//
// Metrics:
//
//   - Prometheus (VictoriaMetrics): dproxy_backend_requests_total,
//     dproxy_backend_errors_total and dproxy_backend_up, labeled by cluster
//     and backend. dproxy_ring_load_factor reports the share of the hash
//     space a backend owns relative to its weight (1.0 is a perfect fit).
//
//   - go-metrics: a latency timer and an error meter per backend, logged to
//     the "stats" logger once per StatsIntervalSecond.
package cluster
