// Package thread implements ShadowThread (spec.md §3, component C4): the
// per-thread vector clock and current epoch that every access and
// synchronization handler reads and advances.
package thread

import (
	"sync"

	"github.com/kolkov/fasttrack/internal/epoch"
	"github.com/kolkov/fasttrack/internal/vclock"
)

// ShadowThread is the detector's view of one running thread: its full
// vector clock V, and E, the packed epoch equivalent to V's own entry for
// TID — the value every fast-path check compares against.
type ShadowThread struct {
	TID uint32
	V   *vclock.VectorClock
	E   epoch.Epoch

	mu      sync.Mutex
	stopped bool
}

// maxEpochTable is a process-wide record of the highest clock value ever
// issued to each tid, consulted when a tid is reused after its previous
// occupant stopped. Without it a freshly allocated ShadowThread for a
// recycled tid would start its clock back at 0 and could appear to
// happen-before accesses its predecessor already made.
type maxEpochTable struct {
	mu   sync.Mutex
	high map[uint32]uint64
}

var epochs = &maxEpochTable{high: make(map[uint32]uint64)}

func (t *maxEpochTable) recordAndNext(tid uint32) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.high[tid] + 1
	t.high[tid] = next
	return next
}

func (t *maxEpochTable) record(tid uint32, clock uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if clock > t.high[tid] {
		t.high[tid] = clock
	}
}

// New allocates a ShadowThread for tid. Its clock starts at the next
// unused value for that tid (see maxEpochTable) rather than unconditionally
// at 1, so a reused tid never revisits a clock value its predecessor
// already issued.
func New(tid uint32) *ShadowThread {
	start := epochs.recordAndNext(tid)
	v := vclock.New()
	v.Set(tid, start)
	return &ShadowThread{
		TID: tid,
		V:   v,
		E:   epoch.New(tid, start),
	}
}

// Tick advances the thread's own clock entry by one and refreshes E to
// match. Only synchronization handlers call this — plain reads and writes
// leave a thread's own clock untouched (spec.md §4.2-§4.4).
func (t *ShadowThread) Tick() {
	t.V.Tick(t.TID)
	clock := t.V.Get(t.TID)
	epochs.record(t.TID, clock)
	t.E = epoch.New(t.TID, clock)
}

// Join merges other into t.V and re-derives E, the operation every Acquire,
// Join, and barrier-exit handler performs on the acquiring/joining thread.
func (t *ShadowThread) Join(other *vclock.VectorClock) {
	t.V.Max(other)
	t.E = epoch.New(t.TID, t.V.Get(t.TID))
}

// Snapshot returns an independent copy of t.V, suitable for publishing into
// a lock's or volatile's release clock.
func (t *ShadowThread) Snapshot() *vclock.VectorClock {
	return t.V.Clone()
}

// Stop marks the thread as no longer live. The tid's high-water clock stays
// recorded in maxEpochTable so a later New for the same tid continues
// rather than restarts.
func (t *ShadowThread) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether Stop has been called.
func (t *ShadowThread) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
