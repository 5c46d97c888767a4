// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"io"
	"iter"
)

// SizeHint estimates how many items a Producer has left. Lower is a lower
// bound; Upper is an upper bound when Bounded is set. Buffer treats hints as
// advice and stays correct when they are wrong.
type SizeHint struct {
	Lower   int
	Upper   int
	Bounded bool
}

// ExactSize is the hint of a producer that knows it has n items left.
func ExactSize(n int) SizeHint {
	return SizeHint{Lower: n, Upper: n, Bounded: true}
}

// Exact reports the item count if the hint pins it down.
func (h SizeHint) Exact() (int, bool) {
	if h.Bounded && h.Lower == h.Upper && h.Lower >= 0 {
		return h.Lower, true
	}
	return 0, false
}

// Producer is a finite, lazily evaluated sequence of items.
type Producer[T any] interface {
	// SizeHint estimates the number of remaining items.
	SizeHint() SizeHint

	// Next returns the next item, or false once the producer is exhausted.
	Next() (T, bool)
}

// Stopper is implemented by producers that hold resources until they are
// exhausted. Buffer calls Stop when it stops pulling, also when it unwinds
// from a panic before the producer is drained.
type Stopper interface {
	Stop()
}

type sliceProducer[T any] struct {
	items []T
}

// FromSlice produces the elements of items in order.
func FromSlice[T any](items []T) Producer[T] {
	return &sliceProducer[T]{items: items}
}

func (p *sliceProducer[T]) SizeHint() SizeHint {
	return ExactSize(len(p.items))
}

func (p *sliceProducer[T]) Next() (T, bool) {
	if len(p.items) == 0 {
		var zero T
		return zero, false
	}
	v := p.items[0]
	p.items = p.items[1:]
	return v, true
}

type seqProducer[T any] struct {
	seq  iter.Seq[T]
	next func() (T, bool)
	stop func()
	done bool
}

// FromSeq produces the values of seq. It gives no size hint.
func FromSeq[T any](seq iter.Seq[T]) Producer[T] {
	return &seqProducer[T]{seq: seq}
}

func (p *seqProducer[T]) SizeHint() SizeHint {
	return SizeHint{}
}

func (p *seqProducer[T]) Next() (T, bool) {
	var zero T
	if p.done {
		return zero, false
	}
	if p.next == nil {
		p.next, p.stop = iter.Pull(p.seq)
	}
	v, ok := p.next()
	if !ok {
		p.Stop()
		return zero, false
	}
	return v, true
}

// Stop ends the iteration and lets the sequence run its deferred calls.
func (p *seqProducer[T]) Stop() {
	p.done = true
	if p.stop != nil {
		p.stop()
	}
}

type funcProducer[T any] struct {
	next func() (T, bool)
	hint SizeHint
}

// FromFunc produces items from next until it returns false. hint is reported
// unchanged.
func FromFunc[T any](next func() (T, bool), hint SizeHint) Producer[T] {
	return &funcProducer[T]{next: next, hint: hint}
}

func (p *funcProducer[T]) SizeHint() SizeHint { return p.hint }

func (p *funcProducer[T]) Next() (T, bool) { return p.next() }

type hintedProducer[T any] struct {
	Producer[T]
	hint SizeHint
}

// WithHint overrides the size hint of p.
func WithHint[T any](p Producer[T], hint SizeHint) Producer[T] {
	return &hintedProducer[T]{Producer: p, hint: hint}
}

func (p *hintedProducer[T]) SizeHint() SizeHint { return p.hint }

const readBufferSize = 4 * 1024 // 4KB read buffer

// ReaderProducer produces the bytes of an io.Reader. Read errors other than
// io.EOF end the sequence and are reported by Err.
type ReaderProducer struct {
	r       io.Reader
	readBuf []byte // intermediate buffer, allocated on first use
	off, n  int
	empty   int // consecutive reads that returned nothing
	err     error
	eof     bool
}

const maxEmptyReads = 100

// FromReader returns a Producer of the bytes read from r.
func FromReader(r io.Reader) *ReaderProducer {
	return &ReaderProducer{r: r}
}

// SizeHint satisfies the Producer interface. Readers that report their
// unread length, such as *bytes.Reader and *strings.Reader, give an exact
// hint.
func (p *ReaderProducer) SizeHint() SizeHint {
	buffered := p.n - p.off
	if p.eof {
		return ExactSize(buffered)
	}
	if l, ok := p.r.(interface{ Len() int }); ok {
		return ExactSize(buffered + l.Len())
	}
	return SizeHint{Lower: buffered}
}

// Next satisfies the Producer interface.
func (p *ReaderProducer) Next() (byte, bool) {
	for p.off == p.n {
		if p.eof {
			return 0, false
		}
		p.fill()
	}
	c := p.readBuf[p.off]
	p.off++
	return c, true
}

func (p *ReaderProducer) fill() {
	if p.readBuf == nil {
		p.readBuf = make([]byte, readBufferSize)
	}
	nr, er := p.r.Read(p.readBuf)
	p.off, p.n = 0, nr
	if nr == 0 && er == nil {
		if p.empty++; p.empty >= maxEmptyReads {
			er = io.ErrNoProgress
		}
	} else {
		p.empty = 0
	}
	if er != nil {
		p.eof = true
		if er != io.EOF {
			p.err = er
		}
	}
}

// Err returns the first read error other than io.EOF.
func (p *ReaderProducer) Err() error {
	return p.err
}
