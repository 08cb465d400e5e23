// Package tcp implements the TCP socket transport of the proxy. It provides
// the TCP connectors for the base package: a server connector for the client
// facing listener and a client connector for the backend connections.
//
// Both sides apply the same socket options from common.TCPConf and
// common.SocketConf (no delay, keep alive, linger and buffer sizes).
// See the base package for pipelining, reconnects and connection tracking.
package tcp
