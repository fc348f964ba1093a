package shadowvar

import (
	"sync"
	"unsafe"

	"github.com/kolkov/fasttrack/internal/epoch"
)

// Table maps memory addresses to their ShadowVar, lazily creating entries
// on first access. Grounded on the teacher's ShadowMemory/SyncShadow
// wrap-a-sync.Map-with-GetOrCreate pattern, the same pattern
// syncstate.ClockTable uses for the lock, volatile, and class-init clock
// tables.
type Table struct {
	m sync.Map // unsafe.Pointer -> *ShadowVar
}

// NewTable returns an empty shadow-variable table.
func NewTable() *Table {
	return &Table{}
}

// GetOrCreate returns the ShadowVar for addr, creating one via the
// creator/isWrite factory semantics of New if this is the first access to
// that location. adaptiveThreshold < 0 disables ADAPTIVE sampling state for
// the new entry (the detector runs COUNT mode instead).
func (t *Table) GetOrCreate(addr unsafe.Pointer, creator epoch.Epoch, isWrite bool, adaptiveThreshold float64) *ShadowVar {
	if v, ok := t.m.Load(addr); ok {
		return v.(*ShadowVar)
	}
	sv := New(creator, isWrite, adaptiveThreshold)
	actual, _ := t.m.LoadOrStore(addr, sv)
	return actual.(*ShadowVar)
}

// Get returns the ShadowVar for addr if one already exists, and whether it
// was found.
func (t *Table) Get(addr unsafe.Pointer) (*ShadowVar, bool) {
	v, ok := t.m.Load(addr)
	if !ok {
		return nil, false
	}
	return v.(*ShadowVar), true
}

// Delete removes addr's entry, used when a location's lifetime ends (e.g.
// a stack slot going out of scope) and its shadow state should not leak.
func (t *Table) Delete(addr unsafe.Pointer) {
	t.m.Delete(addr)
}

// Reset discards every tracked location. Used by tests and by long-running
// hosts that periodically want to bound shadow-memory growth.
func (t *Table) Reset() {
	t.m.Range(func(key, _ any) bool {
		t.m.Delete(key)
		return true
	})
}
