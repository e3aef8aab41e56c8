// Package routetable holds the ordered set of routes the BGP emitter is
// about to announce or withdraw, and a Store for handing the current
// table off between the control loop and the session supervisor.
package routetable

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidRoute is returned by Add when a route is missing its prefix,
// next-hop tag, or metric. This is a programming error, not an
// operational one: callers construct every route internally from
// configuration, so a missing field means the caller is broken.
var ErrInvalidRoute = errors.New("route missing prefix, next-hop tag, or metric")

// Route is a single host route (a /32 is implied by the prefix alone).
// Immutable once added to a Table.
type Route struct {
	// Prefix is the IPv4 address advertised, without a mask.
	Prefix string
	// NextHopTag is carried for symmetry with the source system's model;
	// the emitter always writes the literal text "next-hop self".
	NextHopTag string
	// Metric is the BGP MED. Lower is preferred.
	Metric int
}

// Table is an ordered, append-only sequence of routes. Insertion order is
// emission order. A Table is never mutated in place by the control loop;
// reconciliation builds a fresh Table and installs it via a Store.
type Table struct {
	routes []Route
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// Add appends a route, rejecting incomplete records.
func (t *Table) Add(r Route) error {
	if r.Prefix == "" || r.NextHopTag == "" || r.Metric == 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidRoute, r)
	}
	t.routes = append(t.routes, r)
	return nil
}

// Snapshot returns a copy of the table's routes in insertion order.
func (t *Table) Snapshot() []Route {
	if t == nil || len(t.routes) == 0 {
		return nil
	}
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Store holds the current Table, swapped wholesale by the control loop on
// every reconciliation and reset to empty by the session supervisor on a
// SUSPENDED transition. Safe for concurrent use.
type Store struct {
	v atomic.Pointer[Table]
}

// NewStore returns a Store seeded with an empty Table.
func NewStore() *Store {
	s := &Store{}
	s.v.Store(New())
	return s
}

// Load returns the current table, never nil.
func (s *Store) Load() *Table {
	t := s.v.Load()
	if t == nil {
		return New()
	}
	return t
}

// Store installs a new current table.
func (s *Store) Store(t *Table) {
	s.v.Store(t)
}
