// Package controlloop implements the top-level reactor that fuses
// session events, peer-set changes, and health results into route
// decisions.
package controlloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hightoxicity/zkanycastd/internal/bgp"
	"github.com/hightoxicity/zkanycastd/internal/flags"
	"github.com/hightoxicity/zkanycastd/internal/metrics"
	"github.com/hightoxicity/zkanycastd/internal/probe"
	"github.com/hightoxicity/zkanycastd/internal/routetable"
)

// childrenFetchError wraps a failure to read the current child set so
// Run can distinguish it from a fatal reconciliation error. Per §7 this
// is transient: the session listener will re-set refresh on the next
// CONNECTED transition, so the iteration is skipped rather than fatal.
type childrenFetchError struct {
	err error
}

func (e *childrenFetchError) Error() string { return fmt.Sprintf("fetch children: %v", e.err) }
func (e *childrenFetchError) Unwrap() error { return e.err }

// HealthProbe is the subset of probe.Probe the loop depends on.
type HealthProbe interface {
	CheckResult(ctx context.Context) probe.Result
}

// Supervisor is the subset of zkcoord.Supervisor the loop depends on.
type Supervisor interface {
	CreateNode(ctx context.Context) error
	Children(ctx context.Context) ([]string, error)
}

// Loop is the single-goroutine control loop described in the
// component design: it waits for a flag or a long-sleep tick, probes
// health, reconciles membership, rebuilds the route table, and emits it.
type Loop struct {
	flags   *flags.Flags
	probe   HealthProbe
	sup     Supervisor
	emitter *bgp.Emitter
	store   *routetable.Store
	metrics *metrics.Collector
	log     *slog.Logger

	authIP     string
	nonAuthIPs []string

	longSleep  time.Duration
	shortSleep time.Duration
}

// New constructs a Loop. authIP and nonAuthIPs drive reconciliation
// (§4.5); longSleep/shortSleep are the awaitWork tick durations.
func New(
	f *flags.Flags,
	probe HealthProbe,
	sup Supervisor,
	emitter *bgp.Emitter,
	store *routetable.Store,
	m *metrics.Collector,
	log *slog.Logger,
	authIP string,
	nonAuthIPs []string,
	longSleep, shortSleep time.Duration,
) *Loop {
	return &Loop{
		flags:      f,
		probe:      probe,
		sup:        sup,
		emitter:    emitter,
		store:      store,
		metrics:    m,
		log:        log,
		authIP:     authIP,
		nonAuthIPs: nonAuthIPs,
		longSleep:  longSleep,
		shortSleep: shortSleep,
	}
}

// Run executes the control loop until should_stop is set or ctx is
// cancelled. It returns nil on graceful shutdown and a non-nil error
// only for conditions the spec marks fatal (stdout write failure,
// invalid route records, a non-soft-fail session error).
func (l *Loop) Run(ctx context.Context) error {
	for {
		if !l.awaitWork(ctx) {
			return nil
		}
		if l.flags.ShouldStop.Load() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		// The probe is not cancelled by ctx: once an iteration has started,
		// an in-flight check runs to completion (bounded by its own
		// deadline) and the iteration finishes before Run returns.
		if result := l.probe.CheckResult(context.WithoutCancel(ctx)); result != probe.ResultPass {
			l.log.Error("local health check failed, skipping iteration", "result", result)
			if l.metrics != nil {
				l.metrics.IncProbe(string(result))
			}
			continue
		}
		if l.metrics != nil {
			l.metrics.IncProbe(string(probe.ResultPass))
		}

		if l.flags.Recreate.Load() {
			l.flags.Recreate.Store(false)
			if err := l.sup.CreateNode(ctx); err != nil {
				return fmt.Errorf("controlloop: create membership node: %w", err)
			}
		}

		if l.flags.Refresh.Load() {
			l.flags.Refresh.Store(false)
			if err := l.reconcile(ctx); err != nil {
				var fetchErr *childrenFetchError
				if errors.As(err, &fetchErr) {
					l.log.Error("child-list fetch failed, skipping reconciliation", "err", fetchErr.Unwrap())
					continue
				}
				return fmt.Errorf("controlloop: reconcile: %w", err)
			}
		}

		if err := l.announceCurrent(); err != nil {
			return fmt.Errorf("controlloop: announce: %w", err)
		}
	}
}

// awaitWork blocks until refresh, recreate, or should_stop is set, or
// the long-sleep deadline expires, polling every shortSleep so signals
// and flag writes are observed promptly. It returns false only when ctx
// is cancelled while waiting.
func (l *Loop) awaitWork(ctx context.Context) bool {
	deadline := time.Now().Add(l.longSleep)
	for {
		if l.flags.Refresh.Load() || l.flags.Recreate.Load() || l.flags.ShouldStop.Load() {
			return true
		}
		if time.Now().After(deadline) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(l.shortSleep):
		}
	}
}

// reconcile reads the current child set and rebuilds the route table:
// each non-auth IP not present in the child set is volunteered with
// metric 200; each one already owned by a peer is explicitly withdrawn;
// the auth IP is always added last with the preferred metric 100.
func (l *Loop) reconcile(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.ObserveReconcile(time.Since(start).Seconds())
		}
	}()

	l.log.Debug("refreshing children & routes")

	children, err := l.sup.Children(ctx)
	if err != nil {
		return &childrenFetchError{err: err}
	}
	present := make(map[string]bool, len(children))
	for _, c := range children {
		present[c] = true
	}

	tbl := routetable.New()
	var withdraws []routetable.Route

	for _, ip := range l.nonAuthIPs {
		if !present[ip] {
			if err := tbl.Add(routetable.Route{Prefix: ip, NextHopTag: "self", Metric: 200}); err != nil {
				return err
			}
		} else {
			withdraws = append(withdraws, routetable.Route{Prefix: ip, NextHopTag: "self", Metric: 200})
		}
	}

	if err := tbl.Add(routetable.Route{Prefix: l.authIP, NextHopTag: "self", Metric: 100}); err != nil {
		return err
	}

	if len(withdraws) > 0 {
		if err := l.emitter.Withdraw(withdraws); err != nil {
			return err
		}
		if l.metrics != nil {
			l.metrics.AddWithdraw(len(withdraws))
		}
	}

	l.store.Store(tbl)
	return nil
}

// announceCurrent re-emits the full current route table. This repeats
// every iteration regardless of whether reconcile ran; the downstream
// speaker is expected to deduplicate.
func (l *Loop) announceCurrent() error {
	routes := l.store.Load().Snapshot()
	if err := l.emitter.Announce(routes); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.AddAnnounce(len(routes))
	}
	return nil
}
