// Package syncstate holds the happens-before state attached to
// synchronization objects rather than to tracked memory locations: lock
// release clocks, volatile-field release clocks, class-initialization
// clocks, and barrier accumulators (spec.md §4.4/§9, component C5).
package syncstate

import (
	"sync"
	"unsafe"

	"github.com/kolkov/fasttrack/internal/vclock"
)

// ClockTable maps an object identity (a lock, a volatile field, a class) to
// the VectorClock published by its most recent release-side operation.
// Grounded on the teacher's SyncShadow: a sync.Map of lazily created
// entries, one mutex per entry guarding the read-modify-write a
// release/acquire pair performs.
type ClockTable struct {
	m sync.Map // unsafe.Pointer -> *clockEntry
}

type clockEntry struct {
	mu sync.Mutex
	vc *vclock.VectorClock
}

// NewClockTable returns an empty clock table.
func NewClockTable() *ClockTable {
	return &ClockTable{}
}

func (t *ClockTable) entry(addr unsafe.Pointer) *clockEntry {
	if v, ok := t.m.Load(addr); ok {
		return v.(*clockEntry)
	}
	e := &clockEntry{vc: vclock.New()}
	actual, _ := t.m.LoadOrStore(addr, e)
	return actual.(*clockEntry)
}

// Release merges release into addr's published clock (the release side of
// Acquire/Release, WaitPre, and Volatile write all perform this same
// join-and-store; class static-initializer publication uses Set instead).
func (t *ClockTable) Release(addr unsafe.Pointer, release *vclock.VectorClock) {
	e := t.entry(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vc.Max(release)
}

// Set overwrites addr's published clock outright rather than joining —
// ClassInitialized publishes a fresh snapshot rather than merging into
// whatever (if anything) was there before.
func (t *ClockTable) Set(addr unsafe.Pointer, vc *vclock.VectorClock) {
	e := t.entry(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vc.Copy(vc)
}

// Snapshot returns an independent copy of addr's published clock, for an
// acquiring thread to merge into its own vector clock.
func (t *ClockTable) Snapshot(addr unsafe.Pointer) *vclock.VectorClock {
	e := t.entry(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vc.Clone()
}

// Reset discards every tracked object's published clock.
func (t *ClockTable) Reset() {
	t.m.Range(func(key, _ any) bool {
		t.m.Delete(key)
		return true
	})
}

// Barrier is a cyclic rendezvous point. Every participant's clock is joined
// into an accumulator on entry; once the last participant arrives, every
// participant's own clock is advanced to the full joined accumulator and
// the accumulator is reset in place for the barrier's next cycle.
//
// Reusing one Barrier across cycles (rather than allocating a new Barrier
// per cycle) is the resolution to the barrier clock-reuse question left
// open in spec.md §9: a per-barrier participant counter tracks arrivals,
// and the counter hitting the configured party count is what triggers both
// publication to the exiting participants and the reset, which replaces
// the accumulator with a fresh empty clock.
type Barrier struct {
	mu          sync.Mutex
	parties     int
	arrived     int
	accumulator *vclock.VectorClock
	lastReleased *vclock.VectorClock
}

// NewBarrier returns a barrier for the given number of participants.
func NewBarrier(parties int) *Barrier {
	return &Barrier{parties: parties, accumulator: vclock.New()}
}

// Enter joins arriving into the barrier's accumulator. It returns the full
// joined clock and true once the last participant has arrived (at which
// point the accumulator is reset for the next cycle, and the joined clock
// is recorded for Exit to hand out); otherwise it returns nil, false and
// the caller must wait for the remaining participants.
//
// Enter and Exit are split because this package has no notion of blocking:
// the real barrier primitive (a WaitGroup, a channel-based rendezvous)
// does the actual waiting outside this type. Every participant calls Enter
// before blocking and Exit once released; Exit reads whatever the last
// completed generation published, which by construction is already
// current by the time any participant's real wait returns.
func (b *Barrier) Enter(arriving *vclock.VectorClock) (*vclock.VectorClock, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.accumulator.Max(arriving)
	b.arrived++
	if b.arrived < b.parties {
		return nil, false
	}

	released := b.accumulator.Clone()
	b.accumulator = vclock.New()
	b.arrived = 0
	b.lastReleased = released
	return released, true
}

// Exit returns a clone of the most recently released generation's joined
// clock, or nil if no generation has completed yet.
func (b *Barrier) Exit() *vclock.VectorClock {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastReleased == nil {
		return nil
	}
	return b.lastReleased.Clone()
}

// BarrierTable maps a barrier object's identity to its Barrier state.
type BarrierTable struct {
	m       sync.Map // unsafe.Pointer -> *Barrier
	parties int
}

// NewBarrierTable returns a table whose barriers are created with the given
// party count on first use.
func NewBarrierTable(parties int) *BarrierTable {
	return &BarrierTable{parties: parties}
}

// GetOrCreate returns addr's Barrier, creating one if this is the first
// reference to it.
func (t *BarrierTable) GetOrCreate(addr unsafe.Pointer) *Barrier {
	if v, ok := t.m.Load(addr); ok {
		return v.(*Barrier)
	}
	b := NewBarrier(t.parties)
	actual, _ := t.m.LoadOrStore(addr, b)
	return actual.(*Barrier)
}
