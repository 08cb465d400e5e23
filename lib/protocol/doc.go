// Package protocol defines the contracts between the proxy core and a caching
// protocol implementation: the request handle used by the dispatch layer, the
// front (client) and back (backend) framers, and the error values that are
// converted into in-protocol replies. It also provides the key hash functions
// and hash-tag trimming used for routing.
//
// The memcached text protocol lives in the mc subpackage.
package protocol
