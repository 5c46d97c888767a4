// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"

	secondstack "github.com/wundergraph/go-secondstack"
)

// record is a fixed-size, pointer-free element for Buffer workloads.
type record [12]byte

func makeRecord(i int, v uint64) record {
	var r record
	binary.LittleEndian.PutUint32(r[:4], uint32(i))
	binary.LittleEndian.PutUint64(r[4:], v)
	return r
}

func (r record) index() int { return int(binary.LittleEndian.Uint32(r[:4])) }

type page [64 << 10]byte

// workload runs a randomized tree of nested reservations and verifies that
// no frame's contents are disturbed by the frames nested inside it.
type workload struct {
	rng      *rand.Rand
	pool     *secondstack.Pool
	shared   bool
	ops      int
	failures int
}

func newWorkload(seed uint64, stream int, pool *secondstack.Pool, shared bool) *workload {
	return &workload{
		rng:    rand.New(rand.NewPCG(seed, uint64(stream))),
		pool:   pool,
		shared: shared,
	}
}

func (w *workload) fail(format string, args ...any) {
	w.failures++
	logger.Warn("soak check failed", "reason", fmt.Sprintf(format, args...))
}

// stack picks the explicit Stack or, in shared mode, sometimes the
// thread-local one.
func (w *workload) stack(s *secondstack.Stack) *secondstack.Stack {
	if w.shared && w.rng.IntN(2) == 0 {
		return nil
	}
	return s
}

func (w *workload) recurse(limit int, s *secondstack.Stack) error {
	if limit == 0 {
		return nil
	}
	limit--

	if w.pool != nil && w.rng.IntN(8) == 0 {
		item := w.pool.Acquire(uint64(limit))
		defer w.pool.Release(item)
		s = item.Stack
	}
	for range 2 {
		if w.rng.IntN(2) == 0 {
			continue
		}
		var err error
		switch w.rng.IntN(4) {
		case 0:
			err = w.slice(limit, s)
		case 1:
			err = w.value(limit, s)
		default:
			err = w.buffer(limit, s)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *workload) slice(limit int, s *secondstack.Stack) error {
	w.ops++
	n := w.rng.IntN(4097)
	seed := w.rng.Uint64()

	var inner error
	_, err := secondstack.UninitSlice(w.stack(s), n, func(buf []byte) struct{} {
		r := rand.New(rand.NewPCG(seed, 0))
		for i := range buf {
			buf[i] = byte(r.Uint32())
		}
		inner = w.recurse(limit, s)
		r = rand.New(rand.NewPCG(seed, 0))
		for i := range buf {
			if buf[i] != byte(r.Uint32()) {
				w.fail("slice of %d bytes overwritten at %d", n, i)
				break
			}
		}
		return struct{}{}
	})
	if err != nil {
		return err
	}
	return inner
}

func (w *workload) value(limit int, s *secondstack.Stack) error {
	w.ops++
	mark := byte(w.rng.Uint32())

	var inner error
	_, err := secondstack.Uninit(w.stack(s), func(p *page) struct{} {
		p[0], p[len(p)-1] = mark, ^mark
		inner = w.recurse(limit, s)
		if p[0] != mark || p[len(p)-1] != ^mark {
			w.fail("page overwritten")
		}
		return struct{}{}
	})
	if err != nil {
		return err
	}
	return inner
}

func (w *workload) buffer(limit int, s *secondstack.Stack) error {
	w.ops++
	total := w.rng.IntN(2049)
	probability := total*2 + 1

	var inner error
	count := 0
	next := func() (record, bool) {
		if count == total {
			return record{}, false
		}
		if inner == nil && w.rng.IntN(probability) == 0 {
			inner = w.recurse(limit, s)
		}
		count++
		return makeRecord(count-1, w.rng.Uint64()), true
	}

	var p secondstack.Producer[record]
	switch w.rng.IntN(3) {
	case 0:
		p = secondstack.FromFunc(next, secondstack.SizeHint{})
	case 1:
		p = secondstack.FromFunc(next, secondstack.ExactSize(w.rng.IntN(total+1)))
	default:
		p = secondstack.FromSeq(func(yield func(record) bool) {
			for {
				r, ok := next()
				if !ok || !yield(r) {
					return
				}
			}
		})
	}

	_, err := secondstack.Buffer(w.stack(s), p, func(items []record) struct{} {
		if len(items) != total {
			w.fail("buffer holds %d of %d records", len(items), total)
		}
		for i, r := range items {
			if r.index() != i {
				w.fail("record %d out of order at %d", r.index(), i)
				break
			}
		}
		if inner == nil {
			inner = w.recurse(limit, s)
		}
		return struct{}{}
	})
	if err != nil {
		return err
	}
	return inner
}

// readerChecksum buffers data through a ReaderProducer and sums it.
func readerChecksum(s *secondstack.Stack, data []byte) (uint64, error) {
	p := secondstack.FromReader(bytes.NewReader(data))
	sum, err := secondstack.Buffer(s, p, func(b []byte) uint64 {
		var sum uint64
		for chunk := range slices.Chunk(b, 8) {
			var word [8]byte
			copy(word[:], chunk)
			sum += binary.LittleEndian.Uint64(word[:])
		}
		return sum
	})
	if err != nil {
		return 0, err
	}
	return sum, p.Err()
}
