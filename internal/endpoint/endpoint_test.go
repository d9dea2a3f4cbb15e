package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/evmscan/internal/dispatcher"
	"github.com/example/evmscan/internal/provider"
	"github.com/example/evmscan/internal/schema"
	"github.com/example/evmscan/internal/store"
)

func newTestEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	disp := dispatcher.New()
	results := make(chan store.ChunkResult, 8)
	cfg := Config{MaxChunkSize: 1000, StartChunkSize: 100, EventsTarget: 10}
	return New(cfg, nil, disp, schema.Tables{}, provider.Filter{}, results)
}

func TestThrottleClampsToMaxChunkSize(t *testing.T) {
	e := newTestEndpoint(t)
	// A tiny event count over a huge block range should clamp to maxChunkSize.
	e.throttle(1, 1_000_000)
	require.Equal(t, e.maxChunkSize, e.chunkSize())
}

func TestThrottleClampsToAtLeastOne(t *testing.T) {
	e := newTestEndpoint(t)
	e.throttle(1_000_000, 1)
	require.GreaterOrEqual(t, e.chunkSize(), uint64(1))
}

func TestThrottleNoEventsLeavesChunkSizeUnchanged(t *testing.T) {
	e := newTestEndpoint(t)
	before := e.chunkSize()
	e.throttle(0, 500)
	require.Equal(t, before, e.chunkSize())
}

func TestThrottleTargetsConfiguredEventCount(t *testing.T) {
	e := newTestEndpoint(t)
	// 10 events over a 100-block chunk with a target of 10 events should
	// roughly preserve chunk size (1 event per 10 blocks matches the ratio).
	e.throttle(10, 100)
	require.Equal(t, uint64(100), e.chunkSize())
}

func TestSplitAndRequeueConservesRange(t *testing.T) {
	e := newTestEndpoint(t)
	e.splitAndRequeue(0, 999, 4, true)

	var total uint64
	for !e.disp.Empty() {
		lo, hi, ok := e.disp.TakeJob(10_000)
		require.True(t, ok)
		total += hi - lo + 1
	}
	require.Equal(t, uint64(1000), total)
}

func TestCeilDiv(t *testing.T) {
	require.Equal(t, uint64(1), ceilDiv(1, 10))
	require.Equal(t, uint64(10), ceilDiv(100, 10))
	require.Equal(t, uint64(11), ceilDiv(101, 10))
	require.Equal(t, uint64(0), ceilDiv(0, 10))
}

func TestBumpFailCountStopsAtHardBudget(t *testing.T) {
	e := newTestEndpoint(t)
	e.cfg.FailBudgetSoft = 2
	e.cfg.FailBudgetHard = 3
	e.SetState(RunningFixed)

	e.bumpFailCount()
	require.Equal(t, RunningFixed, e.State())
	e.bumpFailCount()
	require.Equal(t, RunningFixed, e.State())
	e.bumpFailCount()
	require.Equal(t, Stopped, e.State())
}
