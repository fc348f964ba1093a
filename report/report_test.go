package report

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/kolkov/fasttrack/internal/epoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicationKeyIsOrderIndependent(t *testing.T) {
	var x int
	addr := unsafe.Pointer(&x)
	a := NewAccess(AccessWrite, 1, epoch.New(1, 1), 0)
	b := NewAccess(AccessWrite, 2, epoch.New(2, 1), 0)

	r1 := NewReport(addr, a, b)
	r2 := NewReport(addr, b, a)
	assert.Equal(t, r1.DeduplicationKey(), r2.DeduplicationKey())
}

func TestRaceKindClassification(t *testing.T) {
	var x int
	addr := unsafe.Pointer(&x)
	w := NewAccess(AccessWrite, 1, epoch.New(1, 1), 0)
	r := NewAccess(AccessRead, 2, epoch.New(2, 1), 0)
	sharedR := NewSharedReadAccess(2, epoch.New(2, 1), 0)

	assert.Equal(t, WriteWrite, NewReport(addr, w, w).Kind)
	assert.Equal(t, ReadWrite, NewReport(addr, w, r).Kind)
	assert.Equal(t, WriteRead, NewReport(addr, r, w).Kind)
	assert.Equal(t, ReadSharedWrite, NewReport(addr, w, sharedR).Kind)
}

func TestDedupingReporterForwardsOnlyOncePerKey(t *testing.T) {
	collector := NewCollectingReporter()
	dedup := NewDedupingReporter(collector)

	var x int
	addr := unsafe.Pointer(&x)
	a := NewAccess(AccessWrite, 1, epoch.New(1, 1), 0)
	b := NewAccess(AccessWrite, 2, epoch.New(2, 1), 0)
	r := NewReport(addr, a, b)

	dedup.Report(r)
	dedup.Report(r)
	dedup.Report(NewReport(addr, b, a)) // same pair, other order: still same key.

	require.Equal(t, 1, collector.Count())
}

func TestDedupingReporterResetAllowsReReporting(t *testing.T) {
	collector := NewCollectingReporter()
	dedup := NewDedupingReporter(collector)

	var x int
	addr := unsafe.Pointer(&x)
	r := NewReport(addr, NewAccess(AccessWrite, 1, epoch.New(1, 1), 0), NewAccess(AccessWrite, 2, epoch.New(2, 1), 0))

	dedup.Report(r)
	dedup.Reset()
	dedup.Report(r)
	assert.Equal(t, 2, collector.Count())
}

func TestWriterReporterWritesBothSides(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriterReporter(&buf)

	var x int
	addr := unsafe.Pointer(&x)
	r := NewReport(addr,
		NewAccess(AccessWrite, 1, epoch.New(1, 5), 0),
		NewAccess(AccessRead, 2, epoch.New(2, 3), 0))
	wr.Report(r)

	out := buf.String()
	assert.Contains(t, out, "DATA RACE")
	assert.Contains(t, out, "goroutine 1")
	assert.Contains(t, out, "goroutine 2")
}

func TestCollectingReporterReturnsIndependentCopies(t *testing.T) {
	c := NewCollectingReporter()
	var x int
	c.Report(NewReport(unsafe.Pointer(&x),
		NewAccess(AccessWrite, 1, epoch.New(1, 1), 0),
		NewAccess(AccessWrite, 2, epoch.New(2, 1), 0)))

	first := c.Reports()
	first[0].Kind = "tampered"
	assert.NotEqual(t, RaceKind("tampered"), c.Reports()[0].Kind)
}
