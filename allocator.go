// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Allocator is the raw-memory provider behind a Stack's segments.
type Allocator interface {
	// Allocate returns a block of at least size bytes whose first byte is a
	// multiple of alignment. The contents are unspecified.
	Allocate(size, alignment int) ([]byte, error)

	// Free returns a block previously obtained from Allocate.
	Free(b []byte)
}

// GoAllocator allocates segments on the Go heap. Freed blocks are left to the
// garbage collector.
type GoAllocator struct{}

// NewGoAllocator returns the default Allocator.
func NewGoAllocator() *GoAllocator { return &GoAllocator{} }

// Allocate satisfies the Allocator interface.
func (a *GoAllocator) Allocate(size, alignment int) ([]byte, error) {
	if size < 0 || alignment <= 0 {
		return nil, fmt.Errorf("%w: size %d alignment %d", ErrInvalidLength, size, alignment)
	}
	if alignment == 1 {
		return make([]byte, size), nil
	}
	buf := make([]byte, size+alignment) // padding for alignment
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	shift := 0
	if rem := int(addr % uintptr(alignment)); rem != 0 {
		shift = alignment - rem
	}
	return buf[shift : size+shift : size+shift], nil
}

// Free satisfies the Allocator interface.
func (a *GoAllocator) Free([]byte) {}

// LimitedAllocator caps the number of bytes outstanding from a parent
// Allocator. Requests beyond the limit fail with ErrAllocatorExhausted.
type LimitedAllocator struct {
	parent Allocator
	limit  int64
	inUse  atomic.Int64
}

// NewLimitedAllocator wraps parent with a byte budget. A nil parent uses a
// GoAllocator.
func NewLimitedAllocator(parent Allocator, limit int) *LimitedAllocator {
	if parent == nil {
		parent = NewGoAllocator()
	}
	return &LimitedAllocator{parent: parent, limit: int64(limit)}
}

// Allocate satisfies the Allocator interface.
func (a *LimitedAllocator) Allocate(size, alignment int) ([]byte, error) {
	if a.inUse.Add(int64(size)) > a.limit {
		a.inUse.Add(-int64(size))
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrAllocatorExhausted, size, a.inUse.Load(), a.limit)
	}
	b, err := a.parent.Allocate(size, alignment)
	if err != nil {
		a.inUse.Add(-int64(size))
		return nil, err
	}
	return b, nil
}

// Free satisfies the Allocator interface.
func (a *LimitedAllocator) Free(b []byte) {
	a.inUse.Add(-int64(len(b)))
	a.parent.Free(b)
}

// InUse returns the number of bytes currently handed out.
func (a *LimitedAllocator) InUse() int {
	return int(a.inUse.Load())
}
