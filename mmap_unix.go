// SPDX-License-Identifier: Apache-2.0

//go:build unix

package secondstack

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator maps segments as anonymous private memory outside the Go
// heap. Blocks are page aligned and returned to the kernel on Free.
type MmapAllocator struct {
	pageSize int
}

// NewMmapAllocator returns an Allocator backed by mmap(2).
func NewMmapAllocator() Allocator {
	return &MmapAllocator{pageSize: unix.Getpagesize()}
}

// Allocate satisfies the Allocator interface.
func (a *MmapAllocator) Allocate(size, alignment int) ([]byte, error) {
	if size < 0 || alignment <= 0 {
		return nil, fmt.Errorf("%w: size %d alignment %d", ErrInvalidLength, size, alignment)
	}
	if alignment > a.pageSize {
		return nil, fmt.Errorf("%w: alignment %d exceeds page size %d", ErrUnsupportedLayout, alignment, a.pageSize)
	}
	if size == 0 {
		return []byte{}, nil
	}
	length := (size + a.pageSize - 1) &^ (a.pageSize - 1)
	b, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrAllocatorExhausted, length, err)
	}
	return b[:size:length], nil
}

// Free satisfies the Allocator interface.
func (a *MmapAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	_ = unix.Munmap(b[:cap(b)])
}
