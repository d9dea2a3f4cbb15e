// Package endpoint implements one provider's adaptive chunker and worker
// loop: it pulls block-range jobs from a dispatcher, fetches and decodes
// logs against them, emits chunk results, and continuously retunes its own
// chunk size against success/error feedback. It is grounded on the
// original scanner's rpc.py (throttle / handleError / splitJob), translated
// from its multiprocess-job-queue design into a single in-process
// goroutine per endpoint.
package endpoint

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/example/evmscan/internal/decoder"
	"github.com/example/evmscan/internal/dispatcher"
	"github.com/example/evmscan/internal/provider"
	"github.com/example/evmscan/internal/schema"
	"github.com/example/evmscan/internal/store"
)

// Config is the set of knobs loaded from YAML for one endpoint.
type Config struct {
	Name            string
	URL             string
	MaxChunkSize    uint64
	StartChunkSize  uint64
	EventsTarget    float64
	PollInterval    time.Duration
	ActiveStates    map[ActiveState]bool
	FailBudgetSoft  int // log a warning (the failing job is already requeued)
	FailBudgetHard  int // additionally stop
}

// DefaultConfig returns the source system's defaults; New uses them for any
// zero field of the Config it is given.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:   10_000,
		StartChunkSize: 2_000,
		EventsTarget:   2_000,
		PollInterval:   3 * time.Second,
		ActiveStates:   map[ActiveState]bool{ActiveFixed: true, ActiveLive: true},
		FailBudgetSoft: 10,
		FailBudgetHard: 20,
	}
}

// Endpoint pairs one Provider with its adaptive chunker and error
// classifier, and runs one job at a time taken from the shared Dispatcher
// (it keeps no local job queue). Each Endpoint runs in its own goroutine and never
// shares mutable state with another Endpoint — the only cross-endpoint
// contact point is the shared Dispatcher and the results channel.
type Endpoint struct {
	cfg    Config
	prov   provider.Provider
	disp   *dispatcher.Dispatcher
	tables schema.Tables
	base   provider.Filter // template filter with FromBlock/ToBlock left zero

	results chan<- store.ChunkResult

	mu               sync.Mutex
	currentChunkSize uint64
	maxChunkSize     uint64
	eventsTarget     float64
	failCount        int

	state atomic.Int32 // State
}

// New builds an Endpoint. results is the shared, multi-producer channel the
// scan controller drains chunk results from.
func New(cfg Config, prov provider.Provider, disp *dispatcher.Dispatcher, tables schema.Tables, base provider.Filter, results chan<- store.ChunkResult) *Endpoint {
	cfg = mergeDefaults(cfg)
	e := &Endpoint{
		cfg:              cfg,
		prov:             prov,
		disp:             disp,
		tables:           tables,
		base:             base,
		results:          results,
		currentChunkSize: cfg.StartChunkSize,
		maxChunkSize:     cfg.MaxChunkSize,
		eventsTarget:     cfg.EventsTarget,
	}
	e.state.Store(int32(Idle))
	return e
}

func mergeDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = d.MaxChunkSize
	}
	if cfg.StartChunkSize == 0 {
		cfg.StartChunkSize = d.StartChunkSize
	}
	if cfg.EventsTarget == 0 {
		cfg.EventsTarget = d.EventsTarget
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.ActiveStates == nil {
		cfg.ActiveStates = d.ActiveStates
	}
	if cfg.FailBudgetSoft == 0 {
		cfg.FailBudgetSoft = d.FailBudgetSoft
	}
	if cfg.FailBudgetHard == 0 {
		cfg.FailBudgetHard = d.FailBudgetHard
	}
	return cfg
}

// State returns the endpoint's current lifecycle state.
func (e *Endpoint) State() State {
	return State(e.state.Load())
}

// SetState transitions the endpoint's lifecycle state. The controller calls
// this to signal phase changes; the endpoint's own loop re-reads it between
// jobs.
func (e *Endpoint) SetState(s State) {
	e.state.Store(int32(s))
}

func (e *Endpoint) chunkSize() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentChunkSize
}

// RunFixed drives the bounded-scan job loop until ctx is cancelled or the
// endpoint is told to stop. It pulls jobs from disp, never blocking hard
// when the dispatcher is empty (it sleeps briefly and retries, since more
// work may arrive as other endpoints split their jobs).
func (e *Endpoint) RunFixed(ctx context.Context) {
	if !e.cfg.ActiveStates[ActiveFixed] {
		return
	}
	e.SetState(RunningFixed)
	for {
		if e.State() == Stopped {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		lo, hi, ok := e.disp.TakeJob(e.chunkSize())
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		e.runJob(ctx, lo, hi)
	}
}

// RunLive polls for new blocks every PollInterval once the bounded scan has
// caught up to within the live threshold. start is the first block not yet
// durable (Store.Latest()+1) at the moment live mode begins.
func (e *Endpoint) RunLive(ctx context.Context, start uint64) {
	if !e.cfg.ActiveStates[ActiveLive] {
		return
	}
	e.SetState(RunningLive)
	last := start

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if e.State() == Stopped {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := e.prov.BlockNumber(ctx)
		if err != nil {
			logrus.WithError(err).Warn("endpoint: live poll failed to resolve chain head")
			continue
		}
		if head < last {
			continue
		}

		filter := e.base
		filter.FromBlock = last
		filter.ToBlock = head

		logs, err := e.prov.GetLogs(ctx, filter)
		if err != nil {
			logrus.WithError(err).Warn("endpoint: live poll getLogs failed")
			continue
		}
		events, err := decoder.DecodeAll(e.tables, logs)
		if err != nil {
			logrus.WithError(err).Warn("endpoint: live poll decode failed")
			continue
		}

		e.results <- store.ChunkResult{FromBlock: last, ToBlock: head, Events: events}
		last = head + 1
	}
}

// runJob executes one job end to end: fetch, decode, emit, throttle, or on
// error classify and react. Splits re-enter through the dispatcher rather
// than being retried inline, so a split sub-range may be picked up by a
// different endpoint.
func (e *Endpoint) runJob(ctx context.Context, lo, hi uint64) {
	filter := e.base
	filter.FromBlock = lo
	filter.ToBlock = hi

	logs, err := e.prov.GetLogs(ctx, filter)
	if err != nil {
		e.handleError(ctx, err, lo, hi)
		return
	}

	events, err := decoder.DecodeAll(e.tables, logs)
	if err != nil {
		logrus.WithError(err).Warn("endpoint: decode failure, treating chunk as failed")
		e.handleError(ctx, err, lo, hi)
		return
	}

	e.results <- store.ChunkResult{FromBlock: lo, ToBlock: hi, Events: events}
	e.throttle(len(events), hi-lo+1)
}

func (e *Endpoint) throttle(n int, blockRange uint64) {
	if n == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	target := math.Ceil(e.eventsTarget/float64(n)) * float64(blockRange)
	size := uint64(target)
	if size < 1 {
		size = 1
	}
	if size > e.maxChunkSize {
		size = e.maxChunkSize
	}
	e.currentChunkSize = size
}

// handleError classifies err and reacts per the endpoint's error table.
func (e *Endpoint) handleError(ctx context.Context, err error, lo, hi uint64) {
	c := classify(err)

	switch c.kind {
	case kindRangeTooWide:
		e.mu.Lock()
		maxBlock := c.maxBlockHint
		if !c.hasBlockHint || maxBlock == 0 {
			maxBlock = uint64(float64(e.currentChunkSize) * 0.95)
			if maxBlock < 1 {
				maxBlock = 1
			}
		}
		e.maxChunkSize = maxBlock
		if e.currentChunkSize > maxBlock {
			e.currentChunkSize = maxBlock
		}
		e.mu.Unlock()
		span := hi - lo + 1
		parts := ceilDiv(span, maxBlock)
		e.splitAndRequeue(lo, hi, parts, true)

	case kindInvalidParamsWithHint:
		suggested := c.rangeHi - c.rangeLo
		if suggested == 0 {
			suggested = 1
		}
		parts := ceilDiv(e.chunkSize(), suggested)
		e.splitAndRequeue(lo, hi, parts, true)

	case kindInvalidParamsNoHint:
		e.splitAndRequeue(lo, hi, 2, true)

	case kindResponseTooLarge:
		e.mu.Lock()
		e.eventsTarget *= 0.95
		e.mu.Unlock()
		e.splitAndRequeue(lo, hi, 2, true)

	case kindRateLimited:
		// ReturnJob re-enqueues via AddRange, which may coalesce [lo,hi]
		// with an adjacent remaining range rather than handing back the
		// exact same slice on the next TakeJob. Coverage is unaffected
		// (the union of ranges is unchanged), only the next job's exact
		// boundaries may differ from [lo,hi].
		e.sleepRateLimit(ctx)
		e.disp.ReturnJob(lo, hi)

	case kindTimeout:
		e.splitAndRequeue(lo, hi, 2, true)

	default:
		logrus.WithError(err).WithField("endpoint", e.cfg.Name).Warn("endpoint: unclassified error, splitting")
		e.bumpFailCount()
		e.splitAndRequeue(lo, hi, 2, true)
	}
}

func (e *Endpoint) sleepRateLimit(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	wait := bo.NextBackOff()
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// bumpFailCount increments the failure counter; past the soft budget it logs
// a warning, past the hard budget it stops the endpoint. Since this
// implementation issues one job per goroutine iteration (no outstanding-jobs
// queue beyond the in-flight job), "outstanding jobs" at soft-budget time is
// just the job currently failing; the caller's splitAndRequeue already routes
// it back through the dispatcher, so the soft budget takes no further action.
func (e *Endpoint) bumpFailCount() {
	e.mu.Lock()
	e.failCount++
	fc := e.failCount
	e.mu.Unlock()

	if fc >= e.cfg.FailBudgetHard {
		logrus.Warnf("endpoint %s: hard failure budget exceeded (%d), stopping", e.cfg.Name, fc)
		e.SetState(Stopped)
	} else if fc >= e.cfg.FailBudgetSoft {
		logrus.Warnf("endpoint %s: soft failure budget exceeded (%d)", e.cfg.Name, fc)
	}
}

// splitAndRequeue splits [lo,hi] into parts disjoint sub-ranges covering
// the whole interval and returns each to the dispatcher. If reduceChunkSize
// is set, currentChunkSize is pinned to the resulting per-part length.
func (e *Endpoint) splitAndRequeue(lo, hi uint64, parts uint64, reduceChunkSize bool) {
	if parts < 1 {
		parts = 1
	}
	span := hi - lo + 1
	perPart := ceilDiv(span, parts)
	if perPart < 1 {
		perPart = 1
	}

	if reduceChunkSize {
		e.mu.Lock()
		if perPart > e.maxChunkSize {
			perPart = e.maxChunkSize
		}
		e.currentChunkSize = perPart
		e.mu.Unlock()
	}

	cur := lo
	for cur <= hi {
		end := cur + perPart - 1
		if end > hi {
			end = hi
		}
		e.disp.ReturnJob(cur, end)
		cur = end + 1
	}
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}
