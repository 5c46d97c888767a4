// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package secondstack

// NewMmapAllocator falls back to the Go heap where mmap(2) is unavailable.
func NewMmapAllocator() Allocator {
	return NewGoAllocator()
}
