package bgp_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hightoxicity/zkanycastd/internal/bgp"
	"github.com/hightoxicity/zkanycastd/internal/routetable"
)

func TestEmitterAnnounce(t *testing.T) {
	var buf bytes.Buffer
	e := bgp.New(&buf)

	err := e.Announce([]routetable.Route{
		{Prefix: "10.0.0.2", NextHopTag: "self", Metric: 200},
		{Prefix: "10.0.0.1", NextHopTag: "self", Metric: 100},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"announce route 10.0.0.2/32 next-hop self med 200",
		"announce route 10.0.0.1/32 next-hop self med 100",
	}, lines)
}

func TestEmitterWithdraw(t *testing.T) {
	var buf bytes.Buffer
	e := bgp.New(&buf)

	err := e.Withdraw([]routetable.Route{{Prefix: "10.0.0.2", NextHopTag: "self", Metric: 200}})
	require.NoError(t, err)

	assert.Equal(t, "withdraw route 10.0.0.2/32 next-hop self med 200\n", buf.String())
}

func TestEmitterWithdrawAll(t *testing.T) {
	var buf bytes.Buffer
	e := bgp.New(&buf)

	err := e.WithdrawAll([]string{"10.0.0.1", "10.0.0.2"}, []int{100, 200})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"withdraw route 10.0.0.1/32 next-hop self med 100",
		"withdraw route 10.0.0.2/32 next-hop self med 200",
	}, lines)
}

// TestEmitterSerializesConcurrentBatches exercises the mutex that keeps a
// supervisor-triggered withdraw batch from interleaving mid-line with a
// control-loop announce batch.
func TestEmitterSerializesConcurrentBatches(t *testing.T) {
	var buf bytes.Buffer
	e := bgp.New(&buf)

	routes := make([]routetable.Route, 50)
	for i := range routes {
		routes[i] = routetable.Route{Prefix: "10.0.0.1", NextHopTag: "self", Metric: 100}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = e.Announce(routes) }()
	go func() { defer wg.Done(); _ = e.Withdraw(routes) }()
	wg.Wait()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "announce route ") || strings.HasPrefix(line, "withdraw route "))
		assert.True(t, strings.HasSuffix(line, "med 100"))
	}
}
