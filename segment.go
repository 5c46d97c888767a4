// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"runtime"
)

// segment is one fixed-capacity block owned by a Stack. Its address never
// changes while the segment exists.
type segment struct {
	buf     []byte
	offset  int // first byte not held by a live frame
	cleanup runtime.Cleanup
}

func newSegment(a Allocator, size int) (*segment, error) {
	b, err := a.Allocate(size, 1)
	if err != nil {
		return nil, err
	}
	s := &segment{buf: b[:size]}
	// A Stack dropped without Release still hands its blocks back.
	s.cleanup = runtime.AddCleanup(s, func(b []byte) { a.Free(b) }, b)
	return s, nil
}

func (s *segment) size() int {
	return len(s.buf)
}

func (s *segment) availableBytes() int {
	return len(s.buf) - s.offset
}

func (s *segment) free(a Allocator) {
	s.cleanup.Stop()
	a.Free(s.buf)
	s.buf = nil
	s.offset = 0
}
