// Package mc implements the request handles and framers for the memcached
// text protocol.
//
// A Cmd is a handle to one client request. A multi-key retrieval such as
// "get a b c" is split into one sub-command per key when it is decoded. The
// parent and the subs share one notify.Notifier that expects 1+N handles.
// The dispatch layer clones the subs (Subs), sends each clone to the backend
// owning its key and releases the clone once the reply is stored. The last
// release wakes the client writer, which encodes the sub-replies in their
// original order followed by a single END line.
//
// Lifecycle of a handle:
//
//	c := mc.NewCmd(m)                  // parent + subs, notifier armed
//	for _, sub := range c.Subs() {     // one batch of dispatch clones
//		go func(sub protocol.IRequest) {
//			defer sub.Release()        // may wake the writer
//			sub.SetReply(reply)
//		}(sub)
//	}
//	c.Reregister(wake)                 // writer waits for the wakeup
//	out, _ := (&mc.FrontCodec{}).Encode(c, out)
//	c.Release()
//
// Retry bookkeeping (AddCycle, CanCycle) only counts attempts. The retry
// policy is up to the dispatcher.
package mc
