// Package msg implements the memcached text protocol units handled by the proxy.
//
// A Message is either a request read from a client or a reply read from a
// backend. The package owns the wire grammar; the proxy core only uses the
// operations below.
//
// Requests:
//
//	get|gets <key>+                          retrieval, may be split per key
//	gat|gats <exptime> <key>+                retrieval with touch, may be split
//	set|add|replace|append|prepend <key> <flags> <exptime> <bytes> [noreply]\r\n<data>\r\n
//	cas <key> <flags> <exptime> <bytes> <cas unique> [noreply]\r\n<data>\r\n
//	delete <key> [noreply]
//	incr|decr <key> <delta> [noreply]
//	touch <key> <exptime> [noreply]
//	version                                  used for health checks
//
// Replies:
//
//	VALUE <key> <flags> <bytes> [<cas unique>]\r\n<data>\r\n ... END\r\n
//	STORED | NOT_STORED | EXISTS | NOT_FOUND | DELETED | TOUCHED | OK
//	<number> | VERSION <version>
//	ERROR | CLIENT_ERROR <text> | SERVER_ERROR <text>
//
// Key Operations:
//
//   - Parse / ParseReply: read one unit from a byte buffer. A nil message
//     with zero consumed bytes means more input is needed.
//
//   - Subs: split a multi-key retrieval into single-key retrievals.
//
//   - SaveRequest / SaveReply / SaveEnds: serialize towards the backend and
//     the client. Sub-replies are written without their END line so that the
//     parent can close the combined frame with a single END.
//
//   - NewVersionRequest / NewInlineRequest / NewErrorReply: synthetic units
//     for health checks, malformed input and errors.
//
// The noreply token is stripped from forwarded requests. The proxy still waits
// for the backend reply and drops it instead of sending it to the client.
package msg
