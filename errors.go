// SPDX-License-Identifier: Apache-2.0

package secondstack

import "errors"

var (
	// ErrUnsupportedLayout is returned when the element type's alignment is
	// anything other than 1. Only byte-compatible layouts can live on a Stack.
	ErrUnsupportedLayout = errors.New("secondstack: unsupported layout")

	// ErrInvalidLength is returned for negative element counts and for
	// reservations whose byte size overflows int.
	ErrInvalidLength = errors.New("secondstack: invalid length")

	// ErrAllocatorExhausted indicates the Allocator could not provide a new
	// segment. Allocators return it; a Stack that cannot grow panics with an
	// error wrapping it.
	ErrAllocatorExhausted = errors.New("secondstack: allocator exhausted")

	// ErrStackDiscipline indicates a frame was released out of order, or a
	// Stack with live frames was released or pooled. Always a panic.
	ErrStackDiscipline = errors.New("secondstack: stack discipline violated")
)
