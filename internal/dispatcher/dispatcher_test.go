package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTakeJobSplitsAtMaxSize(t *testing.T) {
	d := New()
	d.AddRange(0, 999)

	lo, hi, ok := d.TakeJob(100)
	require.True(t, ok)
	require.Equal(t, uint64(0), lo)
	require.Equal(t, uint64(99), hi)

	require.Len(t, d.Remaining(), 1)
	require.Equal(t, Range{Lo: 100, Hi: 999}, d.Remaining()[0])
}

func TestTakeJobExhaustsRange(t *testing.T) {
	d := New()
	d.AddRange(0, 9)

	lo, hi, ok := d.TakeJob(100)
	require.True(t, ok)
	require.Equal(t, uint64(0), lo)
	require.Equal(t, uint64(9), hi)
	require.True(t, d.Empty())

	_, _, ok = d.TakeJob(10)
	require.False(t, ok)
}

func TestAddRangeMergesAdjacentAndOverlapping(t *testing.T) {
	d := New()
	d.AddRange(100, 199)
	d.AddRange(0, 99)
	d.AddRange(150, 250)

	require.Equal(t, []Range{{Lo: 0, Hi: 250}}, d.Remaining())
}

func TestReturnJobIsIdempotentWithAddRange(t *testing.T) {
	d := New()
	d.AddRange(0, 99)

	lo, hi, ok := d.TakeJob(50)
	require.True(t, ok)
	d.ReturnJob(lo, hi)

	require.Equal(t, []Range{{Lo: 0, Hi: 99}}, d.Remaining())
}

func TestGapFreeCoverageAcrossSplits(t *testing.T) {
	d := New()
	d.AddRange(0, 299)

	var taken []Range
	for !d.Empty() {
		lo, hi, ok := d.TakeJob(37)
		require.True(t, ok)
		taken = append(taken, Range{Lo: lo, Hi: hi})
	}

	// Simulate every other job failing and being split in two, the way
	// endpoint.splitAndRequeue does, then re-taken until drained.
	for i, r := range taken {
		if i%2 == 0 {
			mid := r.Lo + r.Len()/2
			if mid <= r.Lo {
				continue
			}
			d.ReturnJob(r.Lo, mid-1)
			d.ReturnJob(mid, r.Hi)
		}
	}

	var covered uint64
	for !d.Empty() {
		lo, hi, ok := d.TakeJob(1000)
		require.True(t, ok)
		covered += hi - lo + 1
	}
	for i, r := range taken {
		if i%2 != 0 {
			covered += r.Len()
		}
	}
	require.Equal(t, uint64(300), covered)
}
