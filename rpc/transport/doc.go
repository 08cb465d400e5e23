// Package transport defines the network abstractions of the proxy.
//
// Key Components:
//
//   - IProxyServerTransport: the client facing listener. It accepts
//     connections and hands each one to a ConnHandleFunc.
//
//   - IBackendTransport: the pipelined connections to one memcached server.
//     Requests are written in order and every reply is matched to the oldest
//     request in flight. The result is reported through a DoneFunc.
//
// Implementations live in the tcp and unix packages and share the code in
// package base.
package transport
