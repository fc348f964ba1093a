// Package detector implements the FastTrack-with-sampling engine (spec.md
// §3-§6, components C6/C8): the rules that decide, for each incoming
// event, whether it races with something already observed, and the
// happens-before bookkeeping every synchronization event performs.
package detector

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/kolkov/fasttrack/event"
	"github.com/kolkov/fasttrack/internal/epoch"
	"github.com/kolkov/fasttrack/internal/sampling"
	"github.com/kolkov/fasttrack/internal/shadowvar"
	"github.com/kolkov/fasttrack/internal/syncstate"
	"github.com/kolkov/fasttrack/internal/thread"
	"github.com/kolkov/fasttrack/report"
)

// Options configures a new Engine.
type Options struct {
	// Scheme selects the sampling controller: sampling.Count for a single
	// global inclusion rate, sampling.Adaptive for a per-location decaying
	// rate. The zero value (sampling.Count) samples every access unless
	// RatePct says otherwise.
	Scheme sampling.Scheme

	// RatePct is the fixed inclusion percentage (0-100) used by Count.
	// Defaults to 100 (sample everything) if left at zero — callers that
	// want a near-zero rate should set it explicitly to a small positive
	// value instead. Adaptive does not use it: every location's own rate
	// starts at 100 and decays toward AdaptiveThreshold.
	RatePct float64

	// AdaptiveThreshold is the floor Adaptive's per-location rate decays
	// toward. Ignored under Count.
	AdaptiveThreshold float64

	// BarrierParties is the participant count new barrier objects are
	// created with. Defaults to 2 if unset.
	BarrierParties int

	// Reporter receives every confirmed race. Defaults to a
	// DedupingReporter wrapping report.Stderr.
	Reporter report.Reporter
}

// TidCounters tallies every named rule outcome (spec.md §6) for a single
// thread id: the read/write rule branches taken, each race kind delivered,
// and the synchronization events that thread performed.
type TidCounters struct {
	ReadSameEpoch atomic.Uint64
	ReadExclusive atomic.Uint64
	ReadShare     atomic.Uint64
	ReadShared    atomic.Uint64

	WriteSameEpoch atomic.Uint64
	WriteExclusive atomic.Uint64
	WriteShared    atomic.Uint64

	RaceWriteWrite      atomic.Uint64
	RaceReadWrite       atomic.Uint64
	RaceWriteRead       atomic.Uint64
	RaceReadSharedWrite atomic.Uint64

	Acquire  atomic.Uint64
	Release  atomic.Uint64
	Fork     atomic.Uint64
	Join     atomic.Uint64
	Barrier  atomic.Uint64
	Wait     atomic.Uint64
	Volatile atomic.Uint64
	Other    atomic.Uint64

	// Excluded counts accesses this thread made that the sampler chose to
	// skip entirely, before any rule could run.
	Excluded atomic.Uint64
}

func (tc *TidCounters) snapshot() CounterSnapshot {
	return CounterSnapshot{
		ReadSameEpoch:       tc.ReadSameEpoch.Load(),
		ReadExclusive:       tc.ReadExclusive.Load(),
		ReadShare:           tc.ReadShare.Load(),
		ReadShared:          tc.ReadShared.Load(),
		WriteSameEpoch:      tc.WriteSameEpoch.Load(),
		WriteExclusive:      tc.WriteExclusive.Load(),
		WriteShared:         tc.WriteShared.Load(),
		RaceWriteWrite:      tc.RaceWriteWrite.Load(),
		RaceReadWrite:       tc.RaceReadWrite.Load(),
		RaceWriteRead:       tc.RaceWriteRead.Load(),
		RaceReadSharedWrite: tc.RaceReadSharedWrite.Load(),
		Acquire:             tc.Acquire.Load(),
		Release:             tc.Release.Load(),
		Fork:                tc.Fork.Load(),
		Join:                tc.Join.Load(),
		Barrier:             tc.Barrier.Load(),
		Wait:                tc.Wait.Load(),
		Volatile:            tc.Volatile.Load(),
		Other:               tc.Other.Load(),
		Excluded:            tc.Excluded.Load(),
	}
}

// add folds another snapshot's counts into s, for aggregating per-tid
// snapshots into a process-wide total.
func (s *CounterSnapshot) add(o CounterSnapshot) {
	s.ReadSameEpoch += o.ReadSameEpoch
	s.ReadExclusive += o.ReadExclusive
	s.ReadShare += o.ReadShare
	s.ReadShared += o.ReadShared
	s.WriteSameEpoch += o.WriteSameEpoch
	s.WriteExclusive += o.WriteExclusive
	s.WriteShared += o.WriteShared
	s.RaceWriteWrite += o.RaceWriteWrite
	s.RaceReadWrite += o.RaceReadWrite
	s.RaceWriteRead += o.RaceWriteRead
	s.RaceReadSharedWrite += o.RaceReadSharedWrite
	s.Acquire += o.Acquire
	s.Release += o.Release
	s.Fork += o.Fork
	s.Join += o.Join
	s.Barrier += o.Barrier
	s.Wait += o.Wait
	s.Volatile += o.Volatile
	s.Other += o.Other
	s.Excluded += o.Excluded
}

// RacesDetected returns the total number of races this snapshot tallies
// across all four kinds, the quantity the teacher's flat RacesDetected
// counter used to report directly.
func (s CounterSnapshot) RacesDetected() uint64 {
	return s.RaceWriteWrite + s.RaceReadWrite + s.RaceWriteRead + s.RaceReadSharedWrite
}

// CounterSnapshot is a point-in-time, non-atomic copy of a TidCounters (or
// of the whole Engine's aggregate) safe to pass around by value.
type CounterSnapshot struct {
	ReadSameEpoch, ReadExclusive, ReadShare, ReadShared              uint64
	WriteSameEpoch, WriteExclusive, WriteShared                      uint64
	RaceWriteWrite, RaceReadWrite, RaceWriteRead, RaceReadSharedWrite uint64
	Acquire, Release, Fork, Join, Barrier, Wait, Volatile, Other      uint64
	Excluded                                                          uint64
}

// Counters tallies outcomes across every access the Engine has processed,
// broken down per thread id (spec.md §6), for diagnostics and for tests
// asserting on detector behavior without depending on reporter side
// effects.
type Counters struct {
	perTid sync.Map // uint32 -> *TidCounters
}

func (c *Counters) forTid(tid uint32) *TidCounters {
	if v, ok := c.perTid.Load(tid); ok {
		return v.(*TidCounters)
	}
	actual, _ := c.perTid.LoadOrStore(tid, &TidCounters{})
	return actual.(*TidCounters)
}

// Tid returns a snapshot of tid's own counters. A tid never observed
// returns a zero-valued snapshot.
func (c *Counters) Tid(tid uint32) CounterSnapshot {
	if v, ok := c.perTid.Load(tid); ok {
		return v.(*TidCounters).snapshot()
	}
	return CounterSnapshot{}
}

// PerTid returns every observed thread id's snapshot, keyed by tid.
func (c *Counters) PerTid() map[uint32]CounterSnapshot {
	out := make(map[uint32]CounterSnapshot)
	c.perTid.Range(func(k, v any) bool {
		out[k.(uint32)] = v.(*TidCounters).snapshot()
		return true
	})
	return out
}

// Snapshot aggregates every thread's counters into a single process-wide
// total, the shutdown-time summary spec.md §6 describes.
func (c *Counters) Snapshot() CounterSnapshot {
	var total CounterSnapshot
	c.perTid.Range(func(_, v any) bool {
		total.add(v.(*TidCounters).snapshot())
		return true
	})
	return total
}

// Engine is the detector's entry point: Process dispatches every event to
// the rule or synchronization handler that applies.
type Engine struct {
	vars      *shadowvar.Table
	locks     *syncstate.ClockTable
	volatiles *syncstate.ClockTable
	classInit *syncstate.ClockTable
	waits     *syncstate.ClockTable
	barriers  *syncstate.BarrierTable

	threads sync.Map // uint32 -> *thread.ShadowThread

	sampler           *sampling.Controller
	adaptiveThreshold float64

	reporter report.Reporter

	Counters Counters
}

// New builds an Engine from opts, filling in the documented defaults for
// any zero-valued field.
func New(opts Options) *Engine {
	rate := opts.RatePct
	if rate == 0 {
		rate = 100
	}
	parties := opts.BarrierParties
	if parties == 0 {
		parties = 2
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = report.NewDedupingReporter(report.Stderr)
	}

	adaptiveThreshold := -1.0 // sentinel: ShadowVars get no Sampling state under Count.
	if opts.Scheme == sampling.Adaptive {
		adaptiveThreshold = opts.AdaptiveThreshold
	}

	return &Engine{
		vars:              shadowvar.NewTable(),
		locks:             syncstate.NewClockTable(),
		volatiles:         syncstate.NewClockTable(),
		classInit:         syncstate.NewClockTable(),
		waits:             syncstate.NewClockTable(),
		barriers:          syncstate.NewBarrierTable(parties),
		sampler:           sampling.NewController(opts.Scheme, rate),
		adaptiveThreshold: adaptiveThreshold,
		reporter:          reporter,
	}
}

// getThread returns the ShadowThread for tid, creating a fresh one on
// first reference.
func (e *Engine) getThread(tid uint32) *thread.ShadowThread {
	if v, ok := e.threads.Load(tid); ok {
		return v.(*thread.ShadowThread)
	}
	th := thread.New(tid)
	actual, _ := e.threads.LoadOrStore(tid, th)
	return actual.(*thread.ShadowThread)
}

// Process dispatches ev to the rule or handler that applies to its Kind.
func (e *Engine) Process(ev event.Event) {
	switch ev.Kind {
	case event.Read:
		e.onAccess(ev, report.AccessRead)
	case event.Write:
		e.onAccess(ev, report.AccessWrite)
	case event.Acquire:
		e.onAcquire(ev)
	case event.Release:
		e.onRelease(ev)
	case event.Fork:
		e.onFork(ev)
	case event.Join:
		e.onJoin(ev)
	case event.WaitPre:
		e.onWaitPre(ev)
	case event.WaitPost:
		e.onWaitPost(ev)
	case event.VolatileRead:
		e.onVolatileRead(ev)
	case event.VolatileWrite:
		e.onVolatileWrite(ev)
	case event.BarrierEnter:
		e.onBarrierEnter(ev)
	case event.BarrierExit:
		e.onBarrierExit(ev)
	case event.ClassInitialized:
		e.onClassInitialized(ev)
	case event.ClassAccessed:
		e.onClassAccessed(ev)
	}
}

func (e *Engine) onAccess(ev event.Event, kind report.AccessKind) {
	th := e.getThread(ev.TID)
	isWrite := kind == report.AccessWrite
	_, existed := e.vars.Get(ev.Addr)
	sv := e.vars.GetOrCreate(ev.Addr, th.E, isWrite, e.adaptiveThreshold)

	if !e.sampler.Include(sv.Sampling) {
		e.Counters.forTid(ev.TID).Excluded.Add(1)
		return
	}
	// A location created by this very access already holds th.E in W (or R)
	// from the factory: count it as an exclusive write (or read), not as a
	// same-epoch repeat.
	if !existed {
		if isWrite && sv.W() == th.E {
			e.Counters.forTid(ev.TID).WriteExclusive.Add(1)
			return
		}
		if !isWrite && sv.R() == th.E {
			e.Counters.forTid(ev.TID).ReadExclusive.Add(1)
			return
		}
	}
	if isWrite {
		e.onWrite(ev, th, sv)
	} else {
		e.onRead(ev, th, sv)
	}
}

func (e *Engine) onRead(ev event.Event, th *thread.ShadowThread, sv *shadowvar.ShadowVar) {
	tc := e.Counters.forTid(ev.TID)

	if sv.R() == th.E {
		tc.ReadSameEpoch.Add(1)
		return
	}
	// Second fast-path short-circuit (spec.md §4.2): a repeat read from a
	// thread already recorded in the read-shared CV at its current epoch.
	// The CV peek below races benignly with a concurrent promotion/Set under
	// sv.Lock, the same way the same-epoch check above races with SetR —
	// the slow path below remains the authority when this misses.
	if sv.R() == epoch.ReadShared {
		if cv := sv.CV(); cv != nil && cv.Get(ev.TID) == th.E.Clock() {
			tc.ReadShared.Add(1)
			return
		}
	}

	sv.Lock()
	defer sv.Unlock()

	w := sv.W()
	if !w.Leq(th.V) {
		e.deliver(ev.Addr, sv, ev.TID,
			report.NewAccess(report.AccessRead, ev.TID, th.E, 3),
			report.NewAccess(report.AccessWrite, w.TID(), w, 3))
	}

	switch r := sv.R(); {
	case r == epoch.ReadShared:
		sv.CV().Set(ev.TID, th.E.Clock())
		tc.ReadShared.Add(1)
	case r == epoch.Zero || r.TID() == ev.TID:
		sv.SetR(th.E)
		tc.ReadExclusive.Add(1)
	default:
		sv.PromoteToShared(r, th.E)
		tc.ReadShare.Add(1)
	}
}

func (e *Engine) onWrite(ev event.Event, th *thread.ShadowThread, sv *shadowvar.ShadowVar) {
	tc := e.Counters.forTid(ev.TID)

	if sv.W() == th.E {
		tc.WriteSameEpoch.Add(1)
		return
	}

	sv.Lock()
	defer sv.Unlock()

	w := sv.W()
	if !w.Leq(th.V) {
		e.deliver(ev.Addr, sv, ev.TID,
			report.NewAccess(report.AccessWrite, ev.TID, th.E, 3),
			report.NewAccess(report.AccessWrite, w.TID(), w, 3))
	}

	switch r := sv.R(); r {
	case epoch.ReadShared:
		tc.WriteShared.Add(1)
		cv := sv.CV()
		if cv.AnyGt(th.V) {
			tid, ok := cv.NextGt(th.V, 0)
			for ok {
				e.deliver(ev.Addr, sv, ev.TID,
					report.NewAccess(report.AccessWrite, ev.TID, th.E, 3),
					report.NewSharedReadAccess(tid, epoch.New(tid, cv.Get(tid)), 3))
				tid, ok = cv.NextGt(th.V, tid+1)
			}
		}
	default:
		tc.WriteExclusive.Add(1)
		if !r.Leq(th.V) {
			e.deliver(ev.Addr, sv, ev.TID,
				report.NewAccess(report.AccessWrite, ev.TID, th.E, 3),
				report.NewAccess(report.AccessRead, r.TID(), r, 3))
		}
	}

	// The write rule never resets R back to single-epoch form after a
	// read-shared promotion; see DESIGN.md for why this diverges from the
	// teacher's extra demotion step.
	sv.SetW(th.E)
}

// deliver reports a race to the configured Reporter, honoring a location's
// own silenced flag first: once a ShadowVar has reported in its current
// W/R state, repeats of the same racing pair are dropped locally without
// even constructing a report.Report, until SetW/SetR next changes that
// state (spec.md §7.2's "advance" semantics). tid attributes the race to
// the thread whose access triggered detection, for the per-tid race-kind
// counters spec.md §6 requires.
func (e *Engine) deliver(addr unsafe.Pointer, sv *shadowvar.ShadowVar, tid uint32, cur, prev report.Access) {
	if sv.Silenced() {
		return
	}
	rep := report.NewReport(addr, cur, prev)
	e.reporter.Report(rep)
	sv.Silence()

	tc := e.Counters.forTid(tid)
	switch rep.Kind {
	case report.WriteWrite:
		tc.RaceWriteWrite.Add(1)
	case report.ReadWrite:
		tc.RaceReadWrite.Add(1)
	case report.WriteRead:
		tc.RaceWriteRead.Add(1)
	case report.ReadSharedWrite:
		tc.RaceReadSharedWrite.Add(1)
	}
}

func (e *Engine) onAcquire(ev event.Event) {
	th := e.getThread(ev.TID)
	th.Join(e.locks.Snapshot(ev.Addr))
	e.Counters.forTid(ev.TID).Acquire.Add(1)
}

func (e *Engine) onRelease(ev event.Event) {
	th := e.getThread(ev.TID)
	e.locks.Release(ev.Addr, th.Snapshot())
	th.Tick()
	e.Counters.forTid(ev.TID).Release.Add(1)
}

func (e *Engine) onFork(ev event.Event) {
	parent := e.getThread(ev.TID)
	parent.Tick()
	child := e.getThread(ev.TID2)
	child.Join(parent.Snapshot())
	e.Counters.forTid(ev.TID).Fork.Add(1)
}

func (e *Engine) onJoin(ev event.Event) {
	joiner := e.getThread(ev.TID)
	finished := e.getThread(ev.TID2)
	joiner.Join(finished.Snapshot())
	finished.Stop()
	e.Counters.forTid(ev.TID).Join.Add(1)
}

func (e *Engine) onWaitPre(ev event.Event) {
	th := e.getThread(ev.TID)
	e.waits.Release(ev.Addr, th.Snapshot())
	th.Tick()
	e.Counters.forTid(ev.TID).Wait.Add(1)
}

func (e *Engine) onWaitPost(ev event.Event) {
	th := e.getThread(ev.TID)
	th.Join(e.waits.Snapshot(ev.Addr))
	e.Counters.forTid(ev.TID).Wait.Add(1)
}

func (e *Engine) onVolatileWrite(ev event.Event) {
	th := e.getThread(ev.TID)
	e.volatiles.Release(ev.Addr, th.Snapshot())
	th.Tick()
	e.Counters.forTid(ev.TID).Volatile.Add(1)
}

func (e *Engine) onVolatileRead(ev event.Event) {
	th := e.getThread(ev.TID)
	th.Join(e.volatiles.Snapshot(ev.Addr))
	e.Counters.forTid(ev.TID).Volatile.Add(1)
}

func (e *Engine) onBarrierEnter(ev event.Event) {
	th := e.getThread(ev.TID)
	barrier := e.barriers.GetOrCreate(ev.Addr)
	barrier.Enter(th.Snapshot())
	e.Counters.forTid(ev.TID).Barrier.Add(1)
}

func (e *Engine) onBarrierExit(ev event.Event) {
	th := e.getThread(ev.TID)
	barrier := e.barriers.GetOrCreate(ev.Addr)
	if released := barrier.Exit(); released != nil {
		th.Join(released)
	}
	th.Tick()
	e.Counters.forTid(ev.TID).Barrier.Add(1)
}

func (e *Engine) onClassInitialized(ev event.Event) {
	th := e.getThread(ev.TID)
	e.classInit.Set(ev.Addr, th.Snapshot())
	th.Tick()
	e.Counters.forTid(ev.TID).Other.Add(1)
}

func (e *Engine) onClassAccessed(ev event.Event) {
	th := e.getThread(ev.TID)
	th.Join(e.classInit.Snapshot(ev.Addr))
	e.Counters.forTid(ev.TID).Other.Add(1)
}
