package controlloop_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hightoxicity/zkanycastd/internal/bgp"
	"github.com/hightoxicity/zkanycastd/internal/controlloop"
	"github.com/hightoxicity/zkanycastd/internal/flags"
	"github.com/hightoxicity/zkanycastd/internal/probe"
	"github.com/hightoxicity/zkanycastd/internal/routetable"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a mutex-guarded byte sink so assertions running on the
// test goroutine can safely observe writes made by the loop goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *syncBuffer) lines() []string {
	s := strings.TrimRight(b.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type fakeProbe struct {
	results []bool
	calls   atomic.Int32
}

func (f *fakeProbe) CheckResult(ctx context.Context) probe.Result {
	n := f.calls.Add(1) - 1
	pass := f.results[len(f.results)-1]
	if int(n) < len(f.results) {
		pass = f.results[n]
	}
	if pass {
		return probe.ResultPass
	}
	return probe.ResultFail
}

type fakeSupervisor struct {
	children   []string
	createErr  error
	createCall atomic.Int32
}

func (f *fakeSupervisor) CreateNode(ctx context.Context) error {
	f.createCall.Add(1)
	return f.createErr
}

func (f *fakeSupervisor) Children(ctx context.Context) ([]string, error) {
	return f.children, nil
}

// TestS1SoloNodeHealthy matches scenario S1: no peers own either
// non-auth IP, so both are volunteered and the auth IP is announced
// last with the preferred metric.
func TestS1SoloNodeHealthy(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf syncBuffer
	f := flags.New()
	store := routetable.NewStore()
	sup := &fakeSupervisor{children: nil}
	probe := &fakeProbe{results: []bool{true}}

	loop := controlloop.New(f, probe, sup, bgp.New(&buf), store, nil, discardLogger(),
		"10.0.0.1", []string{"10.0.0.2", "10.0.0.3"}, time.Hour, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(buf.lines()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	f.ShouldStop.Store(true)
	cancel()
	<-done

	lines := buf.lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "announce route 10.0.0.2/32 next-hop self med 200", lines[0])
	assert.Equal(t, "announce route 10.0.0.3/32 next-hop self med 200", lines[1])
	assert.Equal(t, "announce route 10.0.0.1/32 next-hop self med 100", lines[2])
}

// TestS2PeerOwnsNonAuthIP matches scenario S2: a peer already owns
// 10.0.0.2, so it is withdrawn (not announced) and 10.0.0.3 is
// volunteered.
func TestS2PeerOwnsNonAuthIP(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf syncBuffer
	f := flags.New()
	store := routetable.NewStore()
	sup := &fakeSupervisor{children: []string{"10.0.0.2"}}
	probe := &fakeProbe{results: []bool{true}}

	loop := controlloop.New(f, probe, sup, bgp.New(&buf), store, nil, discardLogger(),
		"10.0.0.1", []string{"10.0.0.2", "10.0.0.3"}, time.Hour, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(buf.lines()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	f.ShouldStop.Store(true)
	cancel()
	<-done

	lines := buf.lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "withdraw route 10.0.0.2/32 next-hop self med 200", lines[0])
	assert.Equal(t, "announce route 10.0.0.3/32 next-hop self med 200", lines[1])
	assert.Equal(t, "announce route 10.0.0.1/32 next-hop self med 100", lines[2])
}

// TestS3ProbeFailureSkipsIteration matches scenario S3: a failing probe
// emits no BGP lines and preserves flags for the next iteration.
func TestS3ProbeFailureSkipsIteration(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf syncBuffer
	f := flags.New()
	store := routetable.NewStore()
	sup := &fakeSupervisor{}
	probe := &fakeProbe{results: []bool{false}}

	loop := controlloop.New(f, probe, sup, bgp.New(&buf), store, nil, discardLogger(),
		"10.0.0.1", nil, time.Hour, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return probe.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, buf.String())
	assert.True(t, f.Refresh.Load())
	assert.True(t, f.Recreate.Load())

	f.ShouldStop.Store(true)
	cancel()
	<-done
}

// TestS5LostRecreatesBeforeRefresh matches scenario S5: recreate is
// handled strictly before refresh/announce in the same iteration.
func TestS5LostRecreatesBeforeRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf syncBuffer
	f := flags.New()
	store := routetable.NewStore()
	sup := &fakeSupervisor{children: nil}
	probe := &fakeProbe{results: []bool{true}}

	loop := controlloop.New(f, probe, sup, bgp.New(&buf), store, nil, discardLogger(),
		"10.0.0.1", nil, time.Hour, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return sup.createCall.Load() >= 1 && len(buf.lines()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	f.ShouldStop.Store(true)
	cancel()
	<-done

	assert.Equal(t, int32(1), sup.createCall.Load())
}

// TestChildrenFetchFailureIsTransient matches §7's "child-list fetch
// failure" policy: a failed read of the current child set does not
// terminate the loop, it just skips that iteration's reconciliation;
// the session listener is relied on to re-set refresh once CONNECTED
// fires again.
func TestChildrenFetchFailureIsTransient(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf syncBuffer
	f := flags.New()
	store := routetable.NewStore()
	sup := &failingChildrenSupervisor{err: errors.New("boom")}
	probe := &fakeProbe{results: []bool{true}}

	loop := controlloop.New(f, probe, sup, bgp.New(&buf), store, nil, discardLogger(),
		"10.0.0.1", nil, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("loop exited on a transient children-fetch error: %v", err)
	default:
	}

	f.ShouldStop.Store(true)
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, buf.lines(), "no routes should be announced while every refresh fails to fetch children")
}

type failingChildrenSupervisor struct {
	err error
}

func (f *failingChildrenSupervisor) CreateNode(ctx context.Context) error { return nil }
func (f *failingChildrenSupervisor) Children(ctx context.Context) ([]string, error) {
	return nil, f.err
}
