package syncstate

import (
	"testing"
	"unsafe"

	"github.com/kolkov/fasttrack/internal/vclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTableReleaseThenSnapshotJoins(t *testing.T) {
	tbl := NewClockTable()
	var lock int
	addr := unsafe.Pointer(&lock)

	rel1 := vclock.New()
	rel1.Set(1, 5)
	tbl.Release(addr, rel1)

	rel2 := vclock.New()
	rel2.Set(2, 3)
	tbl.Release(addr, rel2)

	snap := tbl.Snapshot(addr)
	assert.Equal(t, uint64(5), snap.Get(1))
	assert.Equal(t, uint64(3), snap.Get(2))
}

func TestClockTableSnapshotIsIndependentCopy(t *testing.T) {
	tbl := NewClockTable()
	var lock int
	addr := unsafe.Pointer(&lock)
	rel := vclock.New()
	rel.Set(1, 1)
	tbl.Release(addr, rel)

	snap := tbl.Snapshot(addr)
	snap.Set(1, 999)
	assert.Equal(t, uint64(1), tbl.Snapshot(addr).Get(1))
}

func TestClockTableSetOverwritesRatherThanJoins(t *testing.T) {
	tbl := NewClockTable()
	var cls int
	addr := unsafe.Pointer(&cls)
	rel := vclock.New()
	rel.Set(1, 10)
	tbl.Release(addr, rel)

	fresh := vclock.New()
	fresh.Set(1, 2)
	tbl.Set(addr, fresh)
	assert.Equal(t, uint64(2), tbl.Snapshot(addr).Get(1))
}

func TestBarrierReleasesOnlyOnLastArrival(t *testing.T) {
	b := NewBarrier(3)

	c1 := vclock.New()
	c1.Set(1, 1)
	_, done := b.Enter(c1)
	require.False(t, done)

	c2 := vclock.New()
	c2.Set(2, 1)
	_, done = b.Enter(c2)
	require.False(t, done)

	c3 := vclock.New()
	c3.Set(3, 1)
	released, done := b.Enter(c3)
	require.True(t, done)
	assert.Equal(t, uint64(1), released.Get(1))
	assert.Equal(t, uint64(1), released.Get(2))
	assert.Equal(t, uint64(1), released.Get(3))
}

func TestBarrierAccumulatorResetsForNextCycle(t *testing.T) {
	b := NewBarrier(2)
	a := vclock.New()
	a.Set(1, 5)
	b.Enter(a)
	_, done := b.Enter(vclock.New())
	require.True(t, done)

	// Next cycle starts from a clean accumulator: a lone new arrival with
	// no entry for tid 1 should not see tid 1's stale clock leak in.
	fresh := vclock.New()
	fresh.Set(9, 1)
	released, done := b.Enter(fresh)
	require.False(t, done)
	assert.Nil(t, released)

	released, done = b.Enter(vclock.New())
	require.True(t, done)
	assert.Equal(t, uint64(0), released.Get(1))
	assert.Equal(t, uint64(1), released.Get(9))
}

func TestBarrierTableGetOrCreateIsIdempotent(t *testing.T) {
	tbl := NewBarrierTable(2)
	var obj int
	addr := unsafe.Pointer(&obj)
	assert.Same(t, tbl.GetOrCreate(addr), tbl.GetOrCreate(addr))
}
