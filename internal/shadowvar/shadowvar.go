// Package shadowvar implements ShadowVar (spec.md §3/§6, component C3): the
// per-location race-detection state every tracked read and write consults.
//
// Each field is reachable lock-free on the fast path (atomic loads of W and
// R, an atomic.Pointer to the read-shared CV), with mu reserved for the
// slow-path transitions that change R's representation — promoting a
// single reader epoch to a shared VectorClock, or demoting back down is
// never needed, since once a variable is read-shared spec.md never returns
// it to the single-epoch form.
package shadowvar

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/fasttrack/internal/epoch"
	"github.com/kolkov/fasttrack/internal/sampling"
	"github.com/kolkov/fasttrack/internal/vclock"
)

// ShadowVar is the FastTrack state attached to one memory location.
type ShadowVar struct {
	w atomic.Uint64 // epoch.Epoch of the last write
	r atomic.Uint64 // epoch.Epoch of the last read, or epoch.ReadShared

	cv atomic.Pointer[vclock.VectorClock] // populated iff r == epoch.ReadShared

	// Sampling is this location's ADAPTIVE controller state. Nil when the
	// detector runs in COUNT mode, where inclusion is decided globally
	// instead (see internal/sampling).
	Sampling *sampling.State

	mu sync.Mutex

	// silenced marks a location that has already produced a report for its
	// current write/read state, so the reporter's "advance" semantics (spec
	// §7.2) suppress repeat reports for the same racing pair until the
	// state changes again.
	silenced atomic.Bool
}

// New allocates a ShadowVar seeded by the creating access, per spec.md §6's
// factory semantics: a write-created location starts with W = creator and R
// = zero; a read-created location starts with R = creator and W = zero.
func New(creator epoch.Epoch, isWrite bool, adaptiveThreshold float64) *ShadowVar {
	sv := &ShadowVar{}
	if isWrite {
		sv.w.Store(uint64(creator))
	} else {
		sv.r.Store(uint64(creator))
	}
	if adaptiveThreshold >= 0 {
		sv.Sampling = sampling.NewState(100, adaptiveThreshold)
	}
	return sv
}

// W returns the current write epoch.
func (sv *ShadowVar) W() epoch.Epoch {
	return epoch.Epoch(sv.w.Load())
}

// SetW stores a new write epoch. Only called while holding mu or via the
// lock-free fast-path's own-thread-only argument (a thread only ever writes
// its own current epoch into W, never another thread's).
func (sv *ShadowVar) SetW(e epoch.Epoch) {
	sv.w.Store(uint64(e))
	sv.silenced.Store(false)
}

// R returns the current read epoch, or epoch.ReadShared if reads are
// tracked via CV instead.
func (sv *ShadowVar) R() epoch.Epoch {
	return epoch.Epoch(sv.r.Load())
}

// SetR stores a new single-reader epoch. It leaves CV untouched: the read
// rule calls it only while R is not epoch.ReadShared, and the write rule
// never demotes R back to single-reader form (see DESIGN.md for why).
func (sv *ShadowVar) SetR(e epoch.Epoch) {
	sv.r.Store(uint64(e))
	sv.silenced.Store(false)
}

// CV returns the read-shared vector clock, or nil if R has not been
// promoted yet.
func (sv *ShadowVar) CV() *vclock.VectorClock {
	return sv.cv.Load()
}

// PromoteToShared converts a single-reader epoch into a read-shared
// VectorClock seeded with that epoch's (tid, clock) pair plus the new
// reader's, then marks R as epoch.ReadShared. Callers must hold mu.
func (sv *ShadowVar) PromoteToShared(existing, incoming epoch.Epoch) *vclock.VectorClock {
	cv := vclock.New()
	cv.Set(existing.TID(), existing.Clock())
	cv.Set(incoming.TID(), incoming.Clock())
	sv.cv.Store(cv)
	sv.r.Store(uint64(epoch.ReadShared))
	sv.silenced.Store(false)
	return cv
}

// Lock acquires the slow-path mutex guarding R/CV promotion.
func (sv *ShadowVar) Lock() { sv.mu.Lock() }

// Unlock releases the slow-path mutex.
func (sv *ShadowVar) Unlock() { sv.mu.Unlock() }

// Silenced reports whether this location's current racing state has
// already been reported.
func (sv *ShadowVar) Silenced() bool {
	return sv.silenced.Load()
}

// Silence marks the current state as reported, suppressing further reports
// until W or R next changes.
func (sv *ShadowVar) Silence() {
	sv.silenced.Store(true)
}
