// Package base provides the transport logic shared by the tcp and unix
// transports. The medium specific parts are injected as connectors.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: interfaces for dialing, listening
//     and socket options of one medium.
//
//   - backendTransport: ConnsPerBackend pipelined connections to one backend,
//     picked round robin. Each connection keeps a FIFO of the requests in
//     flight. Memcached replies in request order, so the head of the queue
//     owns the next reply. A broken connection fails all queued requests and
//     is dialed again on the next Send. After a failed dial the slot fails fast
//     for a second.
//
//   - serverTransport: accept loop for the client facing listener. It tracks
//     open connections so Close can shut them down and wait for their handlers.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to a backend connection are
//	serialized by a mutex, reads happen in one goroutine per connection.
package base
