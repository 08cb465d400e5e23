package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// unset marks a notifier whose expectation has not been fixed yet
const unset int64 = -1

// Notifier counts the live handles of one logical request and wakes a single
// registered waiter when the count falls back to the expected baseline.
//
// The baseline is the number of handles created at construction time (the
// parent plus one per sub-command). Dispatch takes extra handles in one
// Acquire batch and releases them one by one, in any order. The release whose
// pre-decrement value is exactly expect+1 is the one that fires.
type Notifier struct {
	inert  bool
	expect atomic.Int64
	live   atomic.Int64

	mu     sync.Mutex // protects waiter
	waiter func()
}

// New creates a notifier without expectation. SetExpect must be called
// before the first handle is released.
func New() *Notifier {
	n := &Notifier{}
	n.expect.Store(unset)
	return n
}

// NewInert creates a notifier that never expects anything and never fires.
// It is used for internally generated requests that have no waiter.
func NewInert() *Notifier {
	n := &Notifier{inert: true}
	n.expect.Store(unset)
	return n
}

// --------------------------------------------------------------------------
// Accounting
// --------------------------------------------------------------------------

// SetExpect fixes the baseline handle count. It may only be called once.
func (n *Notifier) SetExpect(expect int64) {
	if n.inert {
		return
	}
	if expect < 1 {
		panic(fmt.Sprintf("notify: invalid expectation %d", expect))
	}
	if !n.expect.CompareAndSwap(unset, expect) {
		panic("notify: expectation already set")
	}
}

// Acquire adds delta live handles in one atomic step. Clones that are handed
// out together must be acquired together, otherwise an early release could
// bring the count back to the baseline while clones are still missing.
func (n *Notifier) Acquire(delta int64) {
	if delta <= 0 {
		return
	}
	n.live.Add(delta)
}

// Release drops one live handle and returns the count before the decrement.
// The release that observes expect+1 wakes the registered waiter.
func (n *Notifier) Release() int64 {
	pre := n.live.Add(-1) + 1
	if n.inert {
		return pre
	}
	if expect := n.expect.Load(); expect != unset && pre == expect+1 {
		n.Wake()
	}
	return pre
}

// Expect returns the fixed baseline, or -1 if none was set
func (n *Notifier) Expect() int64 {
	return n.expect.Load()
}

// Live returns the number of handles currently alive
func (n *Notifier) Live() int64 {
	return n.live.Load()
}

// IsInert reports whether the notifier was created with NewInert
func (n *Notifier) IsInert() bool {
	return n.inert
}

// --------------------------------------------------------------------------
// Waiter
// --------------------------------------------------------------------------

// Register records the waiter to call on completion, replacing any earlier
// registration. Consumers re-register every time they are about to block.
func (n *Notifier) Register(wake func()) {
	n.mu.Lock()
	n.waiter = wake
	n.mu.Unlock()
}

// Wake calls the registered waiter and clears the registration, so a waiter
// runs at most once per Register call. Without a waiter it does nothing.
func (n *Notifier) Wake() {
	n.mu.Lock()
	wake := n.waiter
	n.waiter = nil
	n.mu.Unlock()

	if wake != nil {
		wake()
	}
}
