// Package notify implements the completion notifier shared by all handles of
// one proxied request.
//
// A request that fans out into N sub-commands owns N+1 handles (parent plus
// subs). They all point at one Notifier whose expectation is fixed to N+1 at
// split time. Handles cloned for dispatch push the live count above that
// baseline. When the last of them is released the count is back at the
// baseline and the waiter registered by the client-facing writer is woken.
// The order of the releases does not matter.
//
// Usage:
//
//	n := notify.New()
//	n.SetExpect(2)
//	n.Acquire(2) // construction handles
//	n.Acquire(1) // dispatch clone
//	n.Register(func() { close(done) })
//	n.Release()  // fires: pre-decrement count was 3 == expect+1
//
// Health-check requests use NewInert: nothing waits on them, so they never fire.
package notify
