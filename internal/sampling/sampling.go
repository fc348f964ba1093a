// Package sampling implements the adaptive inclusion controller (spec.md
// §4.5, component C7) that gates every access-rule entry: the COUNT scheme
// decides globally, ADAPTIVE decides per ShadowVar, and both run the same
// S/N counter test so the core only needs one formula.
//
// Counters are read and written with relaxed atomics. spec.md's Open
// Questions note explicitly that lost increments on these counters are
// tolerable — they only perturb the sampled fraction, never correctness of
// the FastTrack rules themselves (which only run when Controller.Include
// says to).
package sampling

import (
	"math"
	"sync/atomic"
)

// Scheme selects between the two inclusion controllers spec.md §4.5
// describes.
type Scheme int

const (
	// Count gates inclusion with a single global S/N counter pair.
	Count Scheme = iota
	// Adaptive gates inclusion per-location, decaying each location's own
	// sampling rate toward a floor as it is repeatedly observed.
	Adaptive
)

// expFactor is exp(-1/100), the per-observation decay applied to a
// location's ADAPTIVE rate (spec.md §4.5).
var expFactor = math.Exp(-1.0 / 100.0)

// State holds the S/N/rate/threshold counters the inclusion test needs.
// A Detector's global COUNT state is one State value; every ShadowVar
// carries its own State for the ADAPTIVE scheme.
type State struct {
	s         atomic.Uint64
	n         atomic.Uint64
	rateBits  atomic.Uint64 // float64 rate, stored via math.Float64bits
	threshold float64       // immutable once configured; not mutated per-access
}

// NewState returns a State seeded the way spec.md §4.5 specifies: S=N=1,
// and (for ADAPTIVE) the configured starting rate/floor.
func NewState(rate, threshold float64) *State {
	st := &State{threshold: threshold}
	st.s.Store(1)
	st.n.Store(1)
	st.rateBits.Store(math.Float64bits(rate))
	return st
}

func (st *State) rate() float64 {
	return math.Float64frombits(st.rateBits.Load())
}

// include runs the shared S*(100-rate) < N*rate inclusion test against the
// supplied rate (percentage, 0-100), then updates S or N accordingly.
func (st *State) include(ratePct float64) bool {
	s := float64(st.s.Load())
	n := float64(st.n.Load())
	included := s*(100-ratePct) < n*ratePct
	if included {
		st.s.Add(1)
	} else {
		st.n.Add(1)
	}
	return included
}

// decay applies the ADAPTIVE scheme's exponential floor-seeking update:
// rate := max(rate*expFactor, threshold).
func (st *State) decay() {
	next := st.rate() * expFactor
	if next < st.threshold {
		next = st.threshold
	}
	st.rateBits.Store(math.Float64bits(next))
}

// Controller is the gate detector.Engine calls before running the
// FastTrack rules on an access.
type Controller struct {
	scheme Scheme
	rate   float64 // percentage, 0-100; used only when scheme == Count
	global *State  // used only when scheme == Count
}

// NewController builds a sampling controller. ratePct is the COUNT
// inclusion percentage (0-100); 100 means "always include". ADAPTIVE
// ignores it and uses each location's own State rate instead.
func NewController(scheme Scheme, ratePct float64) *Controller {
	c := &Controller{scheme: scheme, rate: clampPct(ratePct)}
	if scheme == Count {
		c.global = NewState(c.rate, c.rate)
	}
	return c
}

func clampPct(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Include decides whether the access at loc should run the FastTrack
// rules. For ADAPTIVE, loc must not be nil — the per-location State is
// where the decaying rate lives.
func (c *Controller) Include(loc *State) bool {
	switch c.scheme {
	case Count:
		return c.global.include(c.rate)
	case Adaptive:
		included := loc.include(loc.rate())
		loc.decay()
		return included
	default:
		return true
	}
}

// Scheme reports the controller's configured scheme.
func (c *Controller) Scheme() Scheme {
	return c.scheme
}
