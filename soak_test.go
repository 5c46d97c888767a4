// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type soakConfig struct {
	goroutines int
	outerLoops int
	innerLoops int
	recursion  int
}

// TestSoak mixes every entry point at random, including reentrancy from
// producers, callbacks and drops, on explicit and thread-local Stacks.
func TestSoak(t *testing.T) {
	cfg := soakConfig{goroutines: 32, outerLoops: 60, innerLoops: 3, recursion: 8}
	if testing.Short() {
		cfg = soakConfig{goroutines: 4, outerLoops: 8, innerLoops: 2, recursion: 5}
	}
	seed := rand.Uint64()
	t.Logf("seed %d", seed)
	t.Cleanup(func() { TrimLocal() })

	var wg sync.WaitGroup
	for g := range cfg.goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range cfg.outerLoops {
				// A fresh goroutine and Stack per loop, like a short-lived worker.
				done := make(chan struct{})
				go func() {
					defer close(done)
					k := &soaker{
						t:   t,
						rng: rand.New(rand.NewPCG(seed, uint64(g)<<32|uint64(i))),
					}
					s := New(WithMinSegmentSize(k.rng.IntN(4096)))
					for range cfg.innerLoops {
						k.recurse(cfg.recursion, s)
					}
					assert.Equal(t, 0, s.Depth())
					assert.Equal(t, 0, s.Len())
				}()
				<-done
			}
		}()
	}
	wg.Wait()
}

type soaker struct {
	t   *testing.T
	rng *rand.Rand
}

func (k *soaker) recurse(limit int, s *Stack) {
	if limit == 0 {
		return
	}
	limit--

	if k.rng.IntN(8) == 0 {
		s = New(WithMinSegmentSize(k.rng.IntN(1024)), WithGrowthFactor(k.rng.IntN(3)))
	}
	for range 2 {
		if k.rng.IntN(2) == 0 {
			k.checkRandom(limit, s)
		}
	}
}

func (k *soaker) stack(s *Stack) *Stack {
	if k.rng.IntN(2) == 0 {
		return nil
	}
	return s
}

func (k *soaker) checkRandom(limit int, s *Stack) {
	switch k.rng.IntN(10) {
	case 0:
		checkSlice(k, limit, s, func(r *rand.Rand) byte { return byte(r.Uint32()) })
	case 1:
		checkSlice(k, limit, s, func(r *rand.Rand) u32 { return mk(int(r.Uint32())) })
	case 2:
		checkSlice(k, limit, s, func(r *rand.Rand) [3]byte {
			v := r.Uint32()
			return [3]byte{byte(v), byte(v >> 8), byte(v >> 16)}
		})
	case 3:
		checkSlice(k, limit, s, func(*rand.Rand) struct{} { return struct{}{} })
	case 4:
		k.checkValue(limit, s)
	case 5, 6:
		k.checkBuffer(limit, s, 1)
	default:
		k.checkBuffer(limit, s, 0)
	}
}

// checkSlice fills a randomly sized slice, recurses, and verifies the slice
// was not touched by the nested frames.
func checkSlice[T comparable](k *soaker, limit int, s *Stack, gen func(*rand.Rand) T) {
	n := k.rng.IntN(1025)
	seed := k.rng.Uint64()
	called := false

	_, err := UninitSlice(k.stack(s), n, func(buf []T) bool {
		called = true
		assert.Len(k.t, buf, n)
		r := rand.New(rand.NewPCG(seed, 0))
		for i := range buf {
			buf[i] = gen(r)
		}
		k.recurse(limit, s)
		r = rand.New(rand.NewPCG(seed, 0))
		for i := range buf {
			if want := gen(r); buf[i] != want {
				assert.Failf(k.t, "slice overwritten", "index %d of %d: got %v, want %v", i, n, buf[i], want)
				return false
			}
		}
		return true
	})
	assert.NoError(k.t, err)
	assert.True(k.t, called)
}

type soakValue [1 << 16]byte

// checkValue reserves a value far too large for comfortable recursion on the
// goroutine stack.
func (k *soaker) checkValue(limit int, s *Stack) {
	mark := byte(k.rng.Uint32())
	ok, err := Uninit(k.stack(s), func(v *soakValue) bool {
		v[0], v[len(v)/2], v[len(v)-1] = mark, mark+1, mark+2
		k.recurse(limit, s)
		return v[0] == mark && v[len(v)/2] == mark+1 && v[len(v)-1] == mark+2
	})
	assert.NoError(k.t, err)
	assert.True(k.t, ok, "value overwritten")
}

// checkBuffer drains a producer of tracked items. The producer and the drops
// recurse now and then.
func (k *soaker) checkBuffer(limit int, s *Stack, hintMode int) {
	total := k.rng.IntN(1025)
	tr := newDropTracker(k.t)
	defer trackers.Delete(tr.id)

	probability := total*2 + 1
	tr.onDrop = func(int) {
		if k.rng.IntN(probability) == 0 {
			k.recurse(limit, s)
		}
	}

	count := 0
	hint := SizeHint{}
	if hintMode == 1 {
		hint = SizeHint{Lower: k.rng.IntN(total + 1), Upper: total + k.rng.IntN(10), Bounded: true}
		if k.rng.IntN(4) == 0 {
			hint = ExactSize(total)
		}
	}
	p := FromFunc(func() (dropItem, bool) {
		if count == total {
			return dropItem{}, false
		}
		if k.rng.IntN(probability) == 0 {
			k.recurse(limit, s)
		}
		count++
		return tr.item(count - 1), true
	}, hint)

	called := false
	_, err := Buffer(k.stack(s), p, func(items []dropItem) bool {
		called = true
		assert.Len(k.t, items, total)
		for i := range items {
			if items[i].id.int() != i {
				assert.Failf(k.t, "buffer out of order", "index %d holds item %d", i, items[i].id.int())
				break
			}
		}
		k.recurse(limit, s)
		return true
	})
	assert.NoError(k.t, err)
	assert.True(k.t, called)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Len(k.t, tr.drops, tr.made)
	for id, n := range tr.drops {
		if n != 1 {
			assert.Failf(k.t, "bad drop count", "item %d dropped %d times", id, n)
		}
	}
}
