// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
)

// Stack is a LIFO allocator made of address-stable segments. Frames are
// reserved on top of the Stack and released in reverse order by the entry
// points (UninitSlice, Uninit, Buffer), which pass the frame's memory to a
// callback for the duration of the call.
//
// A Stack is not safe for concurrent use. Callbacks may reenter the same
// Stack to any depth.
type Stack struct {
	segments []*segment
	top      int // index of the segment holding the cursor, -1 when empty
	depth    int // number of live frames
	used     int // bytes held by live frames
	peak     int
	hint     int // lower bound for the next growth, set by consolidation

	minSegmentSize int
	growthFactor   int
	policy         ReusePolicy
	alloc          Allocator
	logger         *slog.Logger

	// mirrored for Stats, which may be read from other goroutines
	stats struct {
		segments       atomic.Int64
		capacity       atomic.Int64
		peak           atomic.Int64
		growths        atomic.Uint64
		consolidations atomic.Uint64
		frees          atomic.Uint64
	}
}

// New creates an empty Stack. No memory is allocated until the first
// non-empty reservation.
func New(opts ...Option) *Stack {
	s := &Stack{
		top:            -1,
		minSegmentSize: minSegmentSize,
		growthFactor:   defaultGrowthFactor,
		policy:         ConsolidateOnEmpty,
		alloc:          NewGoAllocator(),
		logger:         discardLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// frame is a single reservation. Its only capability is release, which the
// entry points defer right after a successful push.
type frame struct {
	stack   *Stack
	seg     int // -1 for empty frames
	off     int
	size    int
	prevTop int
	depth   int // live frames below this one
}

func (f *frame) bytes() []byte {
	if f.seg < 0 {
		return nil
	}
	return f.stack.segments[f.seg].buf[f.off : f.off+f.size : f.off+f.size]
}

func (f *frame) release() {
	if f.stack == nil {
		panic(fmt.Errorf("%w: frame released twice", ErrStackDiscipline))
	}
	f.stack.pop(f)
	f.stack = nil
}

// push reserves size bytes on top of the Stack.
func (s *Stack) push(size, alignment int) (frame, error) {
	if alignment != 1 {
		return frame{}, fmt.Errorf("%w: alignment %d, only 1 is supported", ErrUnsupportedLayout, alignment)
	}
	if size < 0 {
		return frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, size)
	}
	f := frame{stack: s, seg: -1, prevTop: s.top, depth: s.depth}
	if size > 0 {
		f.seg = s.fit(size)
		seg := s.segments[f.seg]
		f.off = seg.offset
		f.size = size
		seg.offset += size
		s.top = f.seg
		s.used += size
		s.notePeak()
	}
	s.depth++
	return f, nil
}

// pop releases f, which must be the top frame.
func (s *Stack) pop(f *frame) {
	if s.depth != f.depth+1 {
		panic(fmt.Errorf("%w: releasing frame at depth %d with %d frames live", ErrStackDiscipline, f.depth, s.depth))
	}
	if f.seg >= 0 {
		s.segments[f.seg].offset = f.off
		s.used -= f.size
	}
	s.top = f.prevTop
	s.depth--
	if s.depth == 0 && s.policy == ConsolidateOnEmpty {
		s.consolidate()
	}
}

// regrow resizes the top frame f to size bytes, keeping its first f.size
// bytes. The frame grows in place when its segment has room; otherwise the
// contents move to another segment and the old range is given back. Only
// valid while no reference to the frame's memory has escaped.
func (s *Stack) regrow(f *frame, size int) {
	if f.stack != s || s.depth != f.depth+1 {
		panic(fmt.Errorf("%w: resizing a frame that is not on top", ErrStackDiscipline))
	}
	if size <= f.size {
		return
	}
	if f.seg >= 0 {
		seg := s.segments[f.seg]
		if len(seg.buf)-f.off >= size {
			seg.offset = f.off + size
			s.used += size - f.size
			f.size = size
			s.notePeak()
			return
		}
	}

	if f.seg < 0 {
		j := s.fit(size)
		seg := s.segments[j]
		f.seg = j
		f.off = seg.offset
		f.size = size
		seg.offset += size
		s.used += size
		s.top = j
		s.notePeak()
		return
	}

	// The target is always a different, empty segment, so the source stays
	// intact until the copy is done.
	from := f.bytes()
	j := s.fitAbove(size, f.seg)
	dst := s.segments[j]
	copy(dst.buf, from)
	s.segments[f.seg].offset = f.off
	dst.offset = size
	s.used += size - f.size
	s.top = j
	f.seg = j
	f.off = 0
	f.size = size
	s.notePeak()
}

func (s *Stack) notePeak() {
	if s.used > s.peak {
		s.peak = s.used
		s.stats.peak.Store(int64(s.peak))
	}
}

// fit returns the index of a segment that can take size bytes at its cursor,
// growing the Stack if none can.
func (s *Stack) fit(size int) int {
	if s.top >= 0 && s.segments[s.top].availableBytes() >= size {
		return s.top
	}
	return s.fitAbove(size, s.top)
}

// fitAbove returns an empty segment past index after that holds size bytes.
// Everything above the top segment is empty.
func (s *Stack) fitAbove(size, after int) int {
	start := max(after, s.top) + 1
	for i := start; i < len(s.segments); i++ {
		if s.segments[i].size() >= size {
			return i
		}
	}
	return s.grow(size)
}

// grow appends a segment of at least size bytes. Existing segments are never
// moved. Running out of memory is fatal, like overflowing a native stack.
func (s *Stack) grow(size int) int {
	want := size
	if total := s.capacity(); s.growthFactor > 0 && total <= math.MaxInt/s.growthFactor {
		want = max(want, s.growthFactor*total)
	}
	want = max(want, s.minSegmentSize, s.hint)

	seg, err := newSegment(s.alloc, want)
	if err != nil && want > size {
		// The preferred size is only a heuristic; settle for the request.
		seg, err = newSegment(s.alloc, size)
	}
	if err != nil {
		panic(fmt.Errorf("%w: growing by %d bytes: %w", ErrAllocatorExhausted, size, err))
	}

	s.hint = 0
	s.segments = append(s.segments, seg)
	s.stats.segments.Store(int64(len(s.segments)))
	s.stats.capacity.Add(int64(seg.size()))
	s.stats.growths.Add(1)
	s.logger.Debug("secondstack: segment allocated",
		slog.Int("bytes", seg.size()),
		slog.Int("segments", len(s.segments)),
		slog.Int("capacity", s.capacity()),
	)
	return len(s.segments) - 1
}

// consolidate runs when the Stack is empty. It keeps the largest segment if
// it can hold the historical peak and frees the others, so steady-state
// memory tracks the high-water mark rather than every past growth.
func (s *Stack) consolidate() {
	if len(s.segments) <= 1 {
		return
	}
	largest := s.segments[0]
	for _, seg := range s.segments[1:] {
		if seg.size() > largest.size() {
			largest = seg
		}
	}
	if largest.size() < s.peak {
		largest = nil
		s.hint = s.peak
	}

	freed := 0
	for _, seg := range s.segments {
		if seg != largest {
			s.freeSegment(seg)
			freed++
		}
	}
	clear(s.segments)
	s.segments = s.segments[:0]
	if largest != nil {
		s.segments = append(s.segments, largest)
	}
	s.top = -1
	s.stats.segments.Store(int64(len(s.segments)))
	s.stats.consolidations.Add(1)
	s.logger.Debug("secondstack: segments consolidated",
		slog.Int("freed", freed),
		slog.Int("segments", len(s.segments)),
		slog.Int("capacity", s.capacity()),
		slog.Int("peak", s.peak),
	)
}

func (s *Stack) freeSegment(seg *segment) {
	n := seg.size()
	seg.free(s.alloc)
	s.stats.capacity.Add(-int64(n))
	s.stats.frees.Add(1)
	s.logger.Debug("secondstack: segment freed", slog.Int("bytes", n))
}

// Release frees every segment. The Stack stays usable and grows again on
// demand. Releasing a Stack with live frames panics.
func (s *Stack) Release() {
	if s.depth != 0 {
		panic(fmt.Errorf("%w: release with %d frames live", ErrStackDiscipline, s.depth))
	}
	for _, seg := range s.segments {
		s.freeSegment(seg)
	}
	s.segments = nil
	s.top = -1
	s.hint = 0
	s.stats.segments.Store(0)
}

func (s *Stack) capacity() int {
	var total int
	for _, seg := range s.segments {
		total += seg.size()
	}
	return total
}

// Len returns the number of bytes held by live frames.
func (s *Stack) Len() int {
	return s.used
}

// Cap returns the total capacity of all segments.
func (s *Stack) Cap() int {
	return s.capacity()
}

// Peak returns the high-water mark of Len. It survives consolidation and
// Release.
func (s *Stack) Peak() int {
	return s.peak
}

// Depth returns the number of live frames.
func (s *Stack) Depth() int {
	return s.depth
}

// Segments returns the number of segments currently owned by the Stack.
func (s *Stack) Segments() int {
	return len(s.segments)
}
