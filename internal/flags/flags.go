// Package flags holds the control loop's single-owner coordination flags.
//
// Each flag is a plain atomic.Bool: the control loop is the sole clearer,
// event handlers (ZooKeeper session callbacks, the membership watcher,
// signal handling) are the only setters. No lock is needed because every
// write is a single-word assignment and a transient missed wakeup is
// recovered on the loop's next long-sleep tick.
package flags

import "sync/atomic"

// Flags are the three coordination signals shared between the control
// loop and the event sources that feed it.
type Flags struct {
	// Refresh indicates the peer set may have changed; the route table
	// must be rebuilt from the current ZooKeeper child set.
	Refresh atomic.Bool

	// Recreate indicates the ephemeral membership marker must be
	// (re)created, typically after a LOST session transition.
	Recreate atomic.Bool

	// ShouldStop indicates graceful shutdown has been requested.
	ShouldStop atomic.Bool
}

// New returns Flags with Refresh and Recreate both set, matching startup:
// the first iteration always creates the membership node and reconciles
// the route table, regardless of whether a CONNECTED event has fired yet.
func New() *Flags {
	f := &Flags{}
	f.Refresh.Store(true)
	f.Recreate.Store(true)
	return f
}
