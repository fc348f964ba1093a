package vclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultsToZero(t *testing.T) {
	vc := New()
	assert.Equal(t, uint64(0), vc.Get(999))
}

func TestSetAndGet(t *testing.T) {
	vc := New()
	vc.Set(3, 7)
	assert.Equal(t, uint64(7), vc.Get(3))
	assert.Equal(t, uint64(0), vc.Get(0))
}

func TestTick(t *testing.T) {
	vc := New()
	vc.Set(1, 5)
	vc.Tick(1)
	assert.Equal(t, uint64(6), vc.Get(1))
	vc.Tick(2)
	assert.Equal(t, uint64(1), vc.Get(2))
}

func TestMaxIsPointwise(t *testing.T) {
	a := New()
	a.Set(0, 3)
	a.Set(1, 9)
	b := New()
	b.Set(0, 5)
	b.Set(2, 2)

	a.Max(b)
	assert.Equal(t, uint64(5), a.Get(0))
	assert.Equal(t, uint64(9), a.Get(1))
	assert.Equal(t, uint64(2), a.Get(2))
}

func TestMaxIsIdempotent(t *testing.T) {
	a := New()
	a.Set(0, 3)
	a.Set(4, 11)
	before := a.Clone()
	a.Max(a.Clone())
	assert.True(t, a.Leq(before))
	assert.True(t, before.Leq(a))
}

func TestCopy(t *testing.T) {
	a := New()
	a.Set(0, 3)
	b := New()
	b.Set(0, 99)
	b.Set(5, 1)
	a.Copy(b)
	assert.Equal(t, uint64(99), a.Get(0))
	assert.Equal(t, uint64(1), a.Get(5))
}

func TestLeqHoldsIffObserved(t *testing.T) {
	a := New()
	a.Set(0, 3)
	b := New()
	b.Set(0, 3)
	require.True(t, a.Leq(b))

	b.Set(0, 2)
	require.False(t, a.Leq(b))
}

func TestAnyGt(t *testing.T) {
	a := New()
	a.Set(0, 1)
	b := New()
	assert.True(t, a.AnyGt(b))
	assert.False(t, b.AnyGt(a))
}

func TestNextGtAscendingAndExhaustive(t *testing.T) {
	readers := New()
	readers.Set(0, 1)
	readers.Set(3, 1)
	readers.Set(7, 1)
	baseline := New() // everything zero: all three readers race.

	var found []uint32
	tid, ok := readers.NextGt(baseline, 0)
	for ok {
		found = append(found, tid)
		tid, ok = readers.NextGt(baseline, tid+1)
	}
	assert.Equal(t, []uint32{0, 3, 7}, found)
}

func TestNextGtSkipsObservedReaders(t *testing.T) {
	readers := New()
	readers.Set(0, 5)
	readers.Set(1, 5)
	writerView := New()
	writerView.Set(0, 5) // writer has observed reader 0, not reader 1.

	tid, ok := readers.NextGt(writerView, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), tid)
}
