// Package bgp formats route announcements in the textual command syntax
// understood by an ExaBGP-compatible speaker process and writes them to
// an output stream, flushing after each batch.
package bgp

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/hightoxicity/zkanycastd/internal/routetable"
)

// Emitter writes announce/withdraw lines to an underlying writer,
// normally os.Stdout when launched under a BGP speaker. All writes are
// serialized: the control loop's batch announces and the session
// supervisor's SUSPENDED-triggered withdraws share the same mutex so a
// withdraw line can never interleave mid-line with an announce batch.
type Emitter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// New wraps w for announce/withdraw emission.
func New(w io.Writer) *Emitter {
	return &Emitter{w: bufio.NewWriter(w)}
}

// Announce emits an "announce route" line for every route in routes, in
// order, then flushes once.
func (e *Emitter) Announce(routes []routetable.Route) error {
	return e.emit("announce", routes)
}

// Withdraw emits a "withdraw route" line for every route in routes, in
// order, then flushes once.
func (e *Emitter) Withdraw(routes []routetable.Route) error {
	return e.emit("withdraw", routes)
}

// WithdrawAll builds withdraw routes directly from IPs and per-IP metrics
// without going through a Route Table, for the session supervisor's
// SUSPENDED handler where the table is about to be discarded wholesale.
// ips and metrics must be the same length; entries pair by index.
func (e *Emitter) WithdrawAll(ips []string, metrics []int) error {
	routes := make([]routetable.Route, 0, len(ips))
	for i, ip := range ips {
		routes = append(routes, routetable.Route{Prefix: ip, NextHopTag: "self", Metric: metrics[i]})
	}
	return e.Withdraw(routes)
}

func (e *Emitter) emit(verb string, routes []routetable.Route) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range routes {
		if _, err := fmt.Fprintf(e.w, "%s route %s/32 next-hop self med %d\n", verb, r.Prefix, r.Metric); err != nil {
			return fmt.Errorf("bgp: write %s line for %s: %w", verb, r.Prefix, err)
		}
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("bgp: flush %s batch: %w", verb, err)
	}
	return nil
}
