package mc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dProxy/lib/notify"
	"github.com/ValentinKolb/dProxy/lib/protocol"
	"github.com/ValentinKolb/dProxy/lib/protocol/mc/msg"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("mc")

// --------------------------------------------------------------------------
// Command record
// --------------------------------------------------------------------------

// command is the mutable state of one request, shared by all its handles
type command struct {
	mu     sync.Mutex // serializes every read and write of the fields below
	ctype  CmdType
	status Status
	cycle  uint8

	req   *msg.Message
	reply *msg.Message // set iff status is done or error

	subs []*Cmd // construction handles of the sub-commands, nil if not split

	refs atomic.Int32 // live handles pointing at this record
}

// --------------------------------------------------------------------------
// Command handle
// --------------------------------------------------------------------------

// Cmd is a handle to a memcached request. It implements protocol.IRequest.
// Every handle must be released exactly once; the last release of a record
// also releases the construction handles of its sub-commands.
type Cmd struct {
	cmd      *command
	notify   *notify.Notifier
	released atomic.Bool
}

// newHandle creates a handle without touching the notifier count
func newHandle(c *command, n *notify.Notifier) *Cmd {
	c.refs.Add(1)
	return &Cmd{cmd: c, notify: n}
}

// NewCmd builds the handle for a parsed client request. Multi-key
// retrievals get one sub-command per key; the notifier expects the parent
// plus every sub.
func NewCmd(m *msg.Message) *Cmd {
	return fromMsg(m, notify.New())
}

func fromMsg(m *msg.Message, n *notify.Notifier) *Cmd {
	ctype := cmdTypeOf(m)
	subMsgs := m.Subs()

	baseline := int64(1 + len(subMsgs))
	n.SetExpect(baseline)
	n.Acquire(baseline)

	var subs []*Cmd
	for _, subMsg := range subMsgs {
		subs = append(subs, newHandle(&command{ctype: ctype, req: subMsg}, n))
	}

	return newHandle(&command{ctype: ctype, req: m, subs: subs}, n)
}

// NewPingCmd builds the synthetic health-check request. Nothing waits on it,
// so its notifier is inert.
func NewPingCmd() *Cmd {
	n := notify.NewInert()
	n.Acquire(1)
	return newHandle(&command{ctype: CmdTypeCtrl, req: msg.NewVersionRequest()}, n)
}

// NewErrorCmd builds an already failed request carrying the error reply for err
func NewErrorCmd(err error) *Cmd {
	c := NewCmd(msg.NewInlineRequest())
	c.SetError(err)
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see protocol.IRequest)
// --------------------------------------------------------------------------

func (c *Cmd) Reregister(wake func()) {
	c.notify.Register(wake)
}

func (c *Cmd) KeyHash(hashTag []byte, hasher protocol.HashFunc) uint64 {
	c.cmd.mu.Lock()
	key := c.cmd.req.Key()
	c.cmd.mu.Unlock()

	return hasher(protocol.TrimHashTag(key, hashTag))
}

func (c *Cmd) Subs() []protocol.IRequest {
	subs := c.subHandles()
	if subs == nil {
		return nil
	}

	// all clones are armed before any of them can be released
	c.notify.Acquire(int64(len(subs)))

	clones := make([]protocol.IRequest, len(subs))
	for i, sub := range subs {
		clones[i] = newHandle(sub.cmd, sub.notify)
	}
	return clones
}

func (c *Cmd) IsDone() bool {
	if subs := c.subHandles(); subs != nil {
		for _, sub := range subs {
			if !sub.IsDone() {
				return false
			}
		}
		return true
	}

	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.status.IsDone()
}

func (c *Cmd) AddCycle() {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	if c.cmd.cycle < 255 {
		c.cmd.cycle++
	}
}

func (c *Cmd) CanCycle() bool {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.cycle < maxCycle
}

func (c *Cmd) IsError() bool {
	for _, sub := range c.subHandles() {
		if sub.IsError() {
			return true
		}
	}

	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.status == StatusError
}

func (c *Cmd) Valid() bool {
	if subs := c.subHandles(); subs != nil {
		for _, sub := range subs {
			if !sub.Valid() {
				return false
			}
		}
		return true
	}

	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.req.Kind().IsRequest() && c.cmd.req.KeysValid()
}

func (c *Cmd) SetReply(reply protocol.IReply) {
	m, ok := reply.(*msg.Message)
	if !ok {
		c.SetError(fmt.Errorf("%w: unexpected reply type %T", protocol.ErrBadReply, reply))
		return
	}
	c.complete(m, StatusDone)
}

func (c *Cmd) SetError(err error) {
	reply := msg.NewErrorReply(err)

	// a failed parent fails every sub that is still waiting
	for _, sub := range c.subHandles() {
		sub.complete(reply, StatusError)
	}
	c.complete(reply, StatusError)
}

func (c *Cmd) Clone() protocol.IRequest {
	c.notify.Acquire(1)
	return newHandle(c.cmd, c.notify)
}

func (c *Cmd) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}

	c.notify.Release()

	if c.cmd.refs.Add(-1) == 0 {
		for _, sub := range c.subHandles() {
			sub.Release()
		}
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Type returns the classification of the command
func (c *Cmd) Type() CmdType {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.ctype
}

// Status returns the own status of the record (not aggregated over subs)
func (c *Cmd) Status() Status {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.status
}

// Cycle returns the number of dispatch attempts counted so far
func (c *Cmd) Cycle() uint8 {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.cycle
}

// Request returns the original request message
func (c *Cmd) Request() *msg.Message {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.req
}

// Reply returns the stored reply, nil while pending
func (c *Cmd) Reply() *msg.Message {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.reply
}

// Notifier returns the completion notifier shared by all handles of the request
func (c *Cmd) Notifier() *notify.Notifier {
	return c.notify
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (c *Cmd) subHandles() []*Cmd {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()
	return c.cmd.subs
}

// complete stores reply and status in one step. The first completion wins,
// so a late backend reply cannot overwrite a timeout and vice versa.
func (c *Cmd) complete(reply *msg.Message, status Status) {
	c.cmd.mu.Lock()
	defer c.cmd.mu.Unlock()

	if c.cmd.status.IsDone() {
		Logger.Debugf("ignoring %s reply for completed %s request", status, c.cmd.req.Kind())
		return
	}
	c.cmd.reply = reply
	c.cmd.status = status
}

// encodeReply appends the client-visible reply, recursing into subs in the
// order they were created. If a sub failed, its error replaces the whole
// frame so the client cannot mistake the failure for a miss.
func (c *Cmd) encodeReply(dst []byte) []byte {
	c.cmd.mu.Lock()
	subs, req, reply := c.cmd.subs, c.cmd.req, c.cmd.reply
	c.cmd.mu.Unlock()

	if subs != nil {
		if failed := firstError(subs); failed != nil {
			return req.SaveReply(failed, dst)
		}
		for _, sub := range subs {
			dst = sub.encodeReply(dst)
		}
		return req.SaveEnds(dst)
	}

	if reply == nil {
		panic(fmt.Sprintf("mc: encoding %s request without reply", req.Kind()))
	}
	return req.SaveReply(reply, dst)
}

// firstError returns the reply of the first failed sub, nil if none failed
func firstError(subs []*Cmd) *msg.Message {
	for _, sub := range subs {
		sub.cmd.mu.Lock()
		status, reply := sub.cmd.status, sub.cmd.reply
		sub.cmd.mu.Unlock()

		if status == StatusError {
			return reply
		}
	}
	return nil
}
