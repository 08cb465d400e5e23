// Package rpc contains the network side of the proxy.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures and logging used across the proxy.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets) for the client listener and the pipelined backend connections.
//
//   - cluster: Consistent hashing of keys onto backends, dispatch with retries,
//     health checks and backend statistics.
//
//   - server: The client facing proxy server that decodes requests, dispatches
//     them to the cluster and writes the replies in order.
package rpc
