// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"fmt"
	"math"
	"math/bits"
	"unsafe"
)

// UninitSlice reserves room for n values of type T and passes it to fn as a
// slice of length n. The contents are not initialized and may hold bytes
// left behind by earlier frames; nothing is constructed or dropped. The
// memory is only valid until fn returns, after which the frame is released,
// including when fn panics.
//
// A nil Stack uses the calling thread's shared Stack. T must have an
// alignment of 1, otherwise ErrUnsupportedLayout is returned and fn is not
// called.
func UninitSlice[T, R any](s *Stack, n int, fn func([]T) R) (R, error) {
	if s == nil {
		l := enterLocal()
		defer l.exit()
		s = l.stack
	}
	var r R
	size, err := sizeOf[T](n)
	if err != nil {
		return r, err
	}
	f, err := s.push(size, alignOf[T]())
	if err != nil {
		return r, err
	}
	defer f.release()
	return fn(sliceOf[T](&f, n)), nil
}

// Uninit reserves room for a single T and passes fn a pointer to it. It is
// meant for values too large to build on the goroutine stack. The value is
// not initialized.
func Uninit[T, R any](s *Stack, fn func(*T) R) (R, error) {
	if s == nil {
		l := enterLocal()
		defer l.exit()
		s = l.stack
	}
	var r R
	size, err := sizeOf[T](1)
	if err != nil {
		return r, err
	}
	f, err := s.push(size, alignOf[T]())
	if err != nil {
		return r, err
	}
	defer f.release()
	return fn(&sliceOf[T](&f, 1)[0]), nil
}

func alignOf[T any]() int {
	var x T
	return int(unsafe.Alignof(x))
}

// sizeOf returns the byte size of n values of type T.
func sizeOf[T any](n int) (int, error) {
	var x T
	if n < 0 {
		return 0, fmt.Errorf("%w: %d elements of %T", ErrInvalidLength, n, x)
	}
	hi, lo := bits.Mul64(uint64(unsafe.Sizeof(x)), uint64(n))
	if hi != 0 || lo > math.MaxInt {
		return 0, fmt.Errorf("%w: %d elements of %T overflow", ErrInvalidLength, n, x)
	}
	return int(lo), nil
}

// sliceOf views the frame's memory as n values of type T. Zero-sized types
// and empty frames get a slice that points at no stack memory.
func sliceOf[T any](f *frame, n int) []T {
	if n == 0 {
		return []T{}
	}
	b := f.bytes()
	if len(b) == 0 {
		return unsafe.Slice(new(T), n)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
