package report

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"unsafe"
)

// maxFrames bounds the depth of a captured stack, adapted from the stack
// depot ThreadSanitizer-style fixed-size design: enough to show the racing
// access's call site without paying for a full runtime.Stack dump on every
// report.
const maxFrames = 16

// stackTrace is a captured, deduplicated stack.
type stackTrace struct {
	pc [maxFrames]uintptr
}

var depot sync.Map // uint64 hash -> *stackTrace

// captureStack records the caller's stack and returns a hash identifying
// it, reusing an already-stored trace when the same stack was seen before.
func captureStack(skip int) uint64 {
	var pcs [maxFrames]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return 0
	}
	hash := hashStack(pcs[:n])
	if _, ok := depot.Load(hash); ok {
		return hash
	}
	depot.LoadOrStore(hash, &stackTrace{pc: pcs})
	return hash
}

func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()
	for _, pc := range pcs {
		b := (*[8]byte)(unsafe.Pointer(&pc))[:]
		h.Write(b)
	}
	return h.Sum64()
}

func getStack(hash uint64) *stackTrace {
	if hash == 0 {
		return nil
	}
	v, ok := depot.Load(hash)
	if !ok {
		return nil
	}
	return v.(*stackTrace)
}

// format renders a stack trace the way Go's own race output does,
// filtering out runtime-internal frames.
func (st *stackTrace) format() string {
	if st == nil {
		return "  <unknown>\n"
	}
	frames := runtime.CallersFrames(st.pc[:])
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&buf, "  %s()\n", frame.Function)
		fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)
		if !more {
			break
		}
	}
	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

// resetDepot clears all captured stacks. Test-only.
func resetDepot() {
	depot = sync.Map{}
}
