package zkcoord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	zookeeper "github.com/Shopify/gozk"

	"github.com/hightoxicity/zkanycastd/internal/bgp"
	"github.com/hightoxicity/zkanycastd/internal/flags"
	"github.com/hightoxicity/zkanycastd/internal/metrics"
	"github.com/hightoxicity/zkanycastd/internal/routetable"
)

// SessionState is the session-state model the control loop reacts to,
// augmented from the client library's wire states with an INIT value
// for "not yet connected".
type SessionState int

const (
	StateInit SessionState = iota
	StateConnected
	StateSuspended
	StateLost
)

func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnected:
		return "CONNECTED"
	case StateSuspended:
		return "SUSPENDED"
	case StateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// MetricValue returns the Prometheus gauge encoding for this state.
func (s SessionState) MetricValue() float64 {
	switch s {
	case StateConnected:
		return metrics.StateValueConnected
	case StateSuspended:
		return metrics.StateValueSuspended
	case StateLost:
		return metrics.StateValueLost
	default:
		return metrics.StateValueInit
	}
}

// translateState maps a raw gozk session event state to the augmented
// model. handled is false for states the supervisor takes no action on:
// STATE_ASSOCIATING (transient, no-op) and STATE_CLOSED (a normal
// Stop()-initiated close, not a session loss, so no flag or gauge write
// is warranted). terminal reports whether manage() should stop reading
// events after this one.
func translateState(raw int) (state SessionState, handled bool, terminal bool) {
	switch raw {
	case zookeeper.STATE_CONNECTED:
		return StateConnected, true, false
	case zookeeper.STATE_CONNECTING:
		return StateSuspended, true, false
	case zookeeper.STATE_EXPIRED_SESSION:
		return StateLost, true, false
	case zookeeper.STATE_AUTH_FAILED:
		return StateLost, true, true
	case zookeeper.STATE_CLOSED:
		return StateLost, false, true
	default:
		return StateInit, false, false
	}
}

// Supervisor owns the ZooKeeper client lifecycle: it reacts to
// session-state transitions by updating coordination flags and, on
// SUSPENDED, emitting immediate withdraws; it also owns creation of the
// ephemeral membership marker.
type Supervisor struct {
	conn   zkConn
	events <-chan zookeeper.Event

	serviceDir     string
	membershipPath string
	authIP         string
	nonAuthIPs     []string

	flags   *flags.Flags
	emitter *bgp.Emitter
	store   *routetable.Store
	metrics *metrics.Collector
	log     *slog.Logger

	state atomic.Int32

	done chan struct{}
}

// NewSupervisor constructs a Supervisor over an already-dialed
// connection. serviceDir is {zk_path_service}/{srv_name}; authIP and
// nonAuthIPs drive the SUSPENDED-branch withdraw batch.
func NewSupervisor(
	conn zkConn,
	events <-chan zookeeper.Event,
	serviceDir, authIP string,
	nonAuthIPs []string,
	f *flags.Flags,
	emitter *bgp.Emitter,
	store *routetable.Store,
	m *metrics.Collector,
	log *slog.Logger,
) *Supervisor {
	s := &Supervisor{
		conn:           conn,
		events:         events,
		serviceDir:     serviceDir,
		membershipPath: serviceDir + "/" + authIP,
		authIP:         authIP,
		nonAuthIPs:     nonAuthIPs,
		flags:          f,
		emitter:        emitter,
		store:          store,
		metrics:        m,
		log:            log,
		done:           make(chan struct{}),
	}
	s.state.Store(int32(StateInit))
	go s.manage()
	return s
}

// State returns the current session state.
func (s *Supervisor) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Supervisor) manage() {
	defer close(s.done)
	for event := range s.events {
		state, handled, terminal := translateState(event.State)
		if handled {
			s.handleEvent(state)
		}
		if terminal {
			return
		}
	}
}

func (s *Supervisor) handleEvent(state SessionState) {
	s.state.Store(int32(state))
	if s.metrics != nil {
		s.metrics.SetSessionState(state.MetricValue())
	}

	switch state {
	case StateSuspended:
		s.log.Warn("zk session suspended, withdrawing all routes", "membership_path", s.membershipPath)
		ips := append([]string{}, s.nonAuthIPs...)
		ips = append(ips, s.authIP)
		meds := make([]int, len(s.nonAuthIPs))
		for i := range meds {
			meds[i] = 200
		}
		meds = append(meds, 100)
		if err := s.emitter.WithdrawAll(ips, meds); err != nil {
			s.log.Error("failed to withdraw routes on session suspend", "err", err)
		} else if s.metrics != nil {
			s.metrics.AddWithdraw(len(ips))
		}
		s.store.Store(routetable.New())

	case StateLost:
		s.log.Warn("zk session lost, marking membership for recreation")
		s.flags.Recreate.Store(true)

	case StateConnected:
		s.log.Info("zk session connected, forcing refresh")
		s.flags.Refresh.Store(true)
	}
}

// CreateNode atomically creates the ephemeral membership znode at the
// full path. A session expired between the decision and the call is a
// soft failure: recreate stays set and nil is returned. Any other error
// is surfaced to the caller as fatal.
func (s *Supervisor) CreateNode(ctx context.Context) error {
	_, err := s.conn.Create(s.membershipPath, "", zookeeper.EPHEMERAL, worldACL())
	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.IncRecreate("created")
		}
		return nil
	case isZNodeExists(err):
		if s.metrics != nil {
			s.metrics.IncRecreate("created")
		}
		return nil
	case isSessionExpired(err):
		s.flags.Recreate.Store(true)
		if s.metrics != nil {
			s.metrics.IncRecreate("soft_fail")
		}
		s.log.Warn("membership create raced session expiry, will retry", "path", s.membershipPath)
		return nil
	default:
		return fmt.Errorf("zkcoord: create membership node %s: %w", s.membershipPath, err)
	}
}

// Children reads the current child set under the service directory.
func (s *Supervisor) Children(ctx context.Context) ([]string, error) {
	children, _, err := s.conn.Children(s.serviceDir)
	if err != nil {
		return nil, fmt.Errorf("zkcoord: list children of %s: %w", s.serviceDir, err)
	}
	return children, nil
}

// AwaitStaleNodeGone blocks until no znode exists at the membership
// path, polling once a second and logging a warning on each poll. This
// guards against a same-hostname restart racing the previous session's
// ephemeral reaping.
func (s *Supervisor) AwaitStaleNodeGone(ctx context.Context) error {
	for {
		stat, err := s.conn.Exists(s.membershipPath)
		if err != nil {
			return fmt.Errorf("zkcoord: check stale node %s: %w", s.membershipPath, err)
		}
		if stat == nil {
			return nil
		}
		s.log.Warn("stale membership node still present, waiting", "path", s.membershipPath)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Stop disconnects the client. Idempotent; errors are logged, not
// returned, since shutdown must proceed regardless.
func (s *Supervisor) Stop() {
	if err := s.conn.Close(); err != nil {
		s.log.Error("error closing zookeeper connection", "err", err)
	}
	<-s.done
}
