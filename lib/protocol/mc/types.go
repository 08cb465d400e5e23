package mc

import "github.com/ValentinKolb/dProxy/lib/protocol/mc/msg"

// maxCycle is the number of dispatch attempts allowed for one unit
const maxCycle uint8 = 8

// --------------------------------------------------------------------------
// Command classification
// --------------------------------------------------------------------------

// CmdType is the routing category of a command
type CmdType uint8

const (
	CmdTypeRead       CmdType = iota // retrievals
	CmdTypeWrite                     // storage, delete, incr/decr, touch
	CmdTypeCtrl                      // version
	CmdTypeNotSupport                // anything the proxy does not forward
)

// String returns the string representation of a CmdType
func (t CmdType) String() string {
	switch t {
	case CmdTypeRead:
		return "read"
	case CmdTypeWrite:
		return "write"
	case CmdTypeCtrl:
		return "ctrl"
	default:
		return "not supported"
	}
}

// cmdTypeOf classifies a request message
func cmdTypeOf(m *msg.Message) CmdType {
	switch k := m.Kind(); {
	case k.IsRetrieval():
		return CmdTypeRead
	case k == msg.KindVersion:
		return CmdTypeCtrl
	case k.IsRequest():
		return CmdTypeWrite
	default:
		return CmdTypeNotSupport
	}
}

// --------------------------------------------------------------------------
// Command status
// --------------------------------------------------------------------------

// Status is the completion state of a command. It leaves pending at most
// once, to either done or error.
type Status uint8

const (
	StatusPending Status = iota // no reply yet
	StatusDone                  // reply stored
	StatusError                 // error reply stored
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IsDone reports whether a reply is present
func (s Status) IsDone() bool {
	return s != StatusPending
}
