package msg

// Kind identifies the command of a request or the shape of a reply
type Kind uint8

const (
	KindUnknown Kind = iota

	// Retrieval commands

	KindGet  // get <key>+
	KindGets // gets <key>+
	KindGat  // gat <exptime> <key>+
	KindGats // gats <exptime> <key>+

	// Storage commands

	KindSet     // set <key> <flags> <exptime> <bytes>
	KindAdd     // add ...
	KindReplace // replace ...
	KindAppend  // append ...
	KindPrepend // prepend ...
	KindCas     // cas <key> <flags> <exptime> <bytes> <cas unique>

	// Other keyed commands

	KindDelete // delete <key>
	KindIncr   // incr <key> <delta>
	KindDecr   // decr <key> <delta>
	KindTouch  // touch <key> <exptime>

	// Control commands

	KindVersion // version

	// Replies

	KindReplyRetrieval // VALUE blocks terminated by END
	KindReplyLine      // status line, number or VERSION
	KindReplyError     // ERROR, CLIENT_ERROR or SERVER_ERROR
)

var requestKinds = map[string]Kind{
	"get":     KindGet,
	"gets":    KindGets,
	"gat":     KindGat,
	"gats":    KindGats,
	"set":     KindSet,
	"add":     KindAdd,
	"replace": KindReplace,
	"append":  KindAppend,
	"prepend": KindPrepend,
	"cas":     KindCas,
	"delete":  KindDelete,
	"incr":    KindIncr,
	"decr":    KindDecr,
	"touch":   KindTouch,
	"version": KindVersion,
}

// String returns the command name, or a reply label
func (k Kind) String() string {
	for name, kind := range requestKinds {
		if kind == k {
			return name
		}
	}
	switch k {
	case KindReplyRetrieval:
		return "reply(retrieval)"
	case KindReplyLine:
		return "reply(line)"
	case KindReplyError:
		return "reply(error)"
	default:
		return "unknown"
	}
}

// IsRetrieval reports whether k is get, gets, gat or gats
func (k Kind) IsRetrieval() bool {
	return k >= KindGet && k <= KindGats
}

// IsStorage reports whether k carries a data block
func (k Kind) IsStorage() bool {
	return k >= KindSet && k <= KindCas
}

// IsRequest reports whether k can be sent to a backend
func (k Kind) IsRequest() bool {
	return k >= KindGet && k <= KindVersion
}
