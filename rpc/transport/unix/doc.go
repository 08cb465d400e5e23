// Package unix implements the Unix domain socket transport of the proxy.
// It is meant for clients and memcached instances on the same machine.
//
// Key Components:
//
//   - clientConnector: dials backends listening on a socket path
//
//   - serverConnector: creates the client facing socket, replacing a stale
//     socket file left by a previous run
package unix
