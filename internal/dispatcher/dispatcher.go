// Package dispatcher owns the set of block sub-ranges still to be scanned
// and hands them out to idle endpoints on demand. It guarantees every range
// it ever emits is eventually either completed or returned — it never loses
// track of work.
package dispatcher

import (
	"sort"
	"sync"
)

// Range is a closed, inclusive block interval [Lo, Hi].
type Range struct {
	Lo, Hi uint64
}

// Len returns the number of blocks covered by r.
func (r Range) Len() uint64 {
	return r.Hi - r.Lo + 1
}

// Dispatcher holds the ordered, disjoint list of remaining ranges. All
// methods are safe for concurrent use by multiple endpoint goroutines.
type Dispatcher struct {
	mu        sync.Mutex
	remaining []Range
}

// New builds an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// AddRange inserts [lo, hi] into the remaining set, keeping it sorted and
// merged with any adjacent range already present.
func (d *Dispatcher) AddRange(lo, hi uint64) {
	if hi < lo {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.remaining = append(d.remaining, Range{Lo: lo, Hi: hi})
	sort.Slice(d.remaining, func(i, j int) bool { return d.remaining[i].Lo < d.remaining[j].Lo })

	merged := d.remaining[:1]
	for _, r := range d.remaining[1:] {
		last := &merged[len(merged)-1]
		if r.Lo <= last.Hi+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		merged = append(merged, r)
	}
	d.remaining = merged
}

// TakeJob slices up to maxSize blocks off the head of the remaining set.
// ok is false when there is nothing left to hand out.
func (d *Dispatcher) TakeJob(maxSize uint64) (lo, hi uint64, ok bool) {
	if maxSize == 0 {
		maxSize = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.remaining) == 0 {
		return 0, 0, false
	}

	head := &d.remaining[0]
	lo = head.Lo
	span := head.Hi - head.Lo + 1
	if span > maxSize {
		span = maxSize
	}
	hi = lo + span - 1

	if hi >= head.Hi {
		d.remaining = d.remaining[1:]
	} else {
		head.Lo = hi + 1
	}
	return lo, hi, true
}

// ReturnJob re-inserts [lo, hi] at the front of the remaining set, for use
// when an endpoint exhausts its failure budget and gives back its
// outstanding work.
func (d *Dispatcher) ReturnJob(lo, hi uint64) {
	// Re-inserting is the same as adding new work: the remaining set is
	// kept sorted by Lo, so a returned low-numbered range naturally surfaces
	// at the front for the next TakeJob.
	d.AddRange(lo, hi)
}

// Empty reports whether there is no remaining work.
func (d *Dispatcher) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.remaining) == 0
}

// Remaining returns a snapshot copy of the outstanding ranges, for
// diagnostics and tests.
func (d *Dispatcher) Remaining() []Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Range, len(d.remaining))
	copy(out, d.remaining)
	return out
}
