// Package fasttrack provides the public API for a pure-Go, in-process
// FastTrack-with-sampling race detection engine.
//
// Unlike Go's built-in race detector, this package does not require
// compiler instrumentation or a special build mode. A host feeds it
// events directly — each memory access and each synchronization
// operation an instrumented program, test harness, or interpreter
// observes — and the Engine reports races through whatever Reporter it
// was configured with.
//
//	e := fasttrack.New(fasttrack.Options{})
//	e.Write(tid, addr)
//	e.Acquire(tid, lockAddr)
//	e.Read(tid, addr)
//	e.Release(tid, lockAddr)
package fasttrack

import (
	"io"
	"unsafe"

	"github.com/kolkov/fasttrack/detector"
	"github.com/kolkov/fasttrack/event"
	"github.com/kolkov/fasttrack/internal/sampling"
	"github.com/kolkov/fasttrack/report"
)

// Scheme re-exports the sampling scheme a caller selects in Options, so
// callers need not import the internal sampling package directly.
type Scheme = sampling.Scheme

const (
	// SampleCount gates inclusion with a single global rate.
	SampleCount = sampling.Count
	// SampleAdaptive gates inclusion per tracked location, decaying each
	// location's own rate as it is repeatedly observed.
	SampleAdaptive = sampling.Adaptive
)

// Options configures a new Engine. It mirrors detector.Options directly;
// see that package for field documentation.
type Options = detector.Options

// Reporter re-exports the reporting sink interface.
type Reporter = report.Reporter

// Report re-exports the race payload delivered to a Reporter.
type Report = report.Report

// RaceKind re-exports the classification of a detected race.
type RaceKind = report.RaceKind

const (
	// WriteWrite is a race between two writes.
	WriteWrite = report.WriteWrite
	// ReadWrite is a race between a single exclusive read and a later write.
	ReadWrite = report.ReadWrite
	// WriteRead is a race between a write and a later read.
	WriteRead = report.WriteRead
	// ReadSharedWrite is a race between a write and a reader that was part
	// of a promoted, multi-reader (ReadShared) set.
	ReadSharedWrite = report.ReadSharedWrite
)

// CollectingReporter re-exports report.CollectingReporter, useful in tests
// of code built on this package.
type CollectingReporter = report.CollectingReporter

// NewCollectingReporter re-exports report.NewCollectingReporter.
func NewCollectingReporter() *CollectingReporter {
	return report.NewCollectingReporter()
}

// DedupingReporter re-exports report.DedupingReporter.
type DedupingReporter = report.DedupingReporter

// NewDedupingReporter re-exports report.NewDedupingReporter.
func NewDedupingReporter(next Reporter) *DedupingReporter {
	return report.NewDedupingReporter(next)
}

// NewWriterReporter re-exports report.NewWriterReporter.
func NewWriterReporter(w io.Writer) *report.WriterReporter {
	return report.NewWriterReporter(w)
}

// Engine is a running race detector. It is safe for concurrent use by
// every goroutine whose accesses it is observing.
type Engine struct {
	d *detector.Engine
}

// New builds an Engine. A zero-valued Options samples every access and
// reports races, deduplicated, to standard error.
func New(opts Options) *Engine {
	return &Engine{d: detector.New(opts)}
}

// Read records a memory read at addr by thread tid.
//
//nolint:revive // Read/Write naming matches the convention of Go's own race detector API.
func (e *Engine) Read(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.Read, TID: tid, Addr: addr})
}

// Write records a memory write at addr by thread tid.
func (e *Engine) Write(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.Write, TID: tid, Addr: addr})
}

// Acquire records thread tid acquiring the synchronization object at addr
// (a mutex Lock/RLock, a channel receive, a WaitGroup Wait returning).
func (e *Engine) Acquire(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.Acquire, TID: tid, Addr: addr})
}

// Release records thread tid releasing the synchronization object at addr
// (a mutex Unlock/RUnlock, a channel send, a WaitGroup Done).
func (e *Engine) Release(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.Release, TID: tid, Addr: addr})
}

// Fork records parent creating child as a new thread (a goroutine
// statement). The child's initial vector clock observes everything the
// parent had observed up to this point.
func (e *Engine) Fork(parent, child uint32) {
	e.d.Process(event.Event{Kind: event.Fork, TID: parent, TID2: child})
}

// Join records waiter observing finished's completion (a sync.WaitGroup
// tracking an individual goroutine, or an explicit done-channel receive
// keyed to a specific goroutine rather than a generic synchronization
// object).
func (e *Engine) Join(waiter, finished uint32) {
	e.d.Process(event.Event{Kind: event.Join, TID: waiter, TID2: finished})
}

// WaitPre records thread tid about to block on the wait object at addr
// (a condition variable, a WaitGroup's internal counter).
func (e *Engine) WaitPre(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.WaitPre, TID: tid, Addr: addr})
}

// WaitPost records thread tid having just resumed from blocking on addr.
func (e *Engine) WaitPost(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.WaitPost, TID: tid, Addr: addr})
}

// VolatileRead records thread tid performing an acquire-semantics read of
// addr outside of a lock (e.g. an atomic load used as a publish flag).
func (e *Engine) VolatileRead(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.VolatileRead, TID: tid, Addr: addr})
}

// VolatileWrite records thread tid performing a release-semantics write of
// addr outside of a lock.
func (e *Engine) VolatileWrite(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.VolatileWrite, TID: tid, Addr: addr})
}

// BarrierEnter records thread tid arriving at the cyclic barrier addr.
func (e *Engine) BarrierEnter(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.BarrierEnter, TID: tid, Addr: addr})
}

// BarrierExit records thread tid having been released from the cyclic
// barrier addr.
func (e *Engine) BarrierExit(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.BarrierExit, TID: tid, Addr: addr})
}

// ClassInitialized records thread tid completing the static initializer
// for the class/package identified by addr, publishing a happens-before
// edge to every later ClassAccessed on the same addr.
func (e *Engine) ClassInitialized(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.ClassInitialized, TID: tid, Addr: addr})
}

// ClassAccessed records thread tid's first access to the class/package
// identified by addr, the acquire side of ClassInitialized.
func (e *Engine) ClassAccessed(tid uint32, addr unsafe.Pointer) {
	e.d.Process(event.Event{Kind: event.ClassAccessed, TID: tid, Addr: addr})
}

// Counters returns a process-wide aggregate of the engine's outcome
// counters, summed across every thread observed so far — the shutdown-time
// summary a host calls once event processing has stopped.
func (e *Engine) Counters() detector.CounterSnapshot {
	return e.d.Counters.Snapshot()
}

// CountersForTid returns the outcome counters for a single thread id. A
// tid never observed returns a zero-valued snapshot.
func (e *Engine) CountersForTid(tid uint32) detector.CounterSnapshot {
	return e.d.Counters.Tid(tid)
}
