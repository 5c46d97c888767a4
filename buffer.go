// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"fmt"
)

const (
	// initial capacity when a producer gives no usable size hint
	defaultBufferGuess = 8
	// cap on the initial capacity taken from an inexact upper bound
	maxBoundedGuess = 64
)

// Dropper is implemented by element types that must be finalized when a
// Buffer releases them. Drop is called on a pointer to the element.
type Dropper interface {
	Drop()
}

// Buffer drains p into a frame on the Stack and passes the items to fn as a
// fully initialized slice. If *T implements Dropper, every item that was
// produced is dropped exactly once, in index order, after fn returns. This
// also happens when p or fn panics; the panic then continues to the caller.
//
// If p implements Stopper, Stop is called before the items are dropped.
//
// The frame is sized from p's SizeHint and doubles whenever p produces more
// items than it holds, so a wrong hint costs time but never items. p may use
// the same Stack while producing.
//
// A nil Stack uses the calling thread's shared Stack. T must have an
// alignment of 1, otherwise ErrUnsupportedLayout is returned, p is not
// consumed and fn is not called.
func Buffer[T, R any](s *Stack, p Producer[T], fn func([]T) R) (R, error) {
	if s == nil {
		l := enterLocal()
		defer l.exit()
		s = l.stack
	}
	var r R
	n := initialCapacity(p.SizeHint())
	size, err := sizeOf[T](n)
	if err != nil {
		return r, err
	}
	var b tracked[T]
	b.f, err = s.push(size, alignOf[T]())
	if err != nil {
		return r, err
	}
	defer b.f.release()
	defer b.drop()
	if st, ok := p.(Stopper); ok {
		defer st.Stop()
	}
	b.elems = sliceOf[T](&b.f, n)

	for {
		item, ok := p.Next()
		if !ok {
			break
		}
		if b.n == len(b.elems) {
			b.grow(s)
		}
		b.elems[b.n] = item
		b.n++
	}
	return fn(b.elems[:b.n:b.n]), nil
}

// tracked is a frame plus the count of initialized elements at its start.
type tracked[T any] struct {
	f     frame
	elems []T // full capacity of the frame
	n     int // elems[:n] are initialized
}

// grow at least doubles the frame. It only runs before the frame is handed
// to the caller, so relocating the initialized prefix is safe.
func (b *tracked[T]) grow(s *Stack) {
	n := max(2*len(b.elems), defaultBufferGuess)
	size, err := sizeOf[T](n)
	if err != nil {
		panic(fmt.Errorf("secondstack: growing buffer to %d elements: %w", n, err))
	}
	s.regrow(&b.f, size)
	b.elems = sliceOf[T](&b.f, n)
}

func (b *tracked[T]) drop() {
	elems := b.elems[:b.n]
	b.n = 0
	dropAll(elems)
}

// dropAll drops elems in index order. If a Drop panics, the rest are still
// dropped before the panic continues.
func dropAll[T any](elems []T) {
	if len(elems) == 0 {
		return
	}
	if _, ok := any(&elems[0]).(Dropper); !ok {
		return
	}
	i := 0
	defer func() {
		if i < len(elems) {
			dropAll(elems[i+1:])
		}
	}()
	for ; i < len(elems); i++ {
		any(&elems[i]).(Dropper).Drop()
	}
}

func initialCapacity(h SizeHint) int {
	if n, ok := h.Exact(); ok {
		return n
	}
	if h.Lower > 0 {
		return h.Lower
	}
	if h.Bounded && h.Upper >= 0 {
		return min(h.Upper, maxBoundedGuess)
	}
	return defaultBufferGuess
}
