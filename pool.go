// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"fmt"
	"sync"
	"weak"
)

// Pool provides a thread-safe pool of Stacks for callers that hand work
// between goroutines and cannot rely on the thread-local Stack.
//
// Idle Stacks are held as weak pointers, so the GC can collect them at any
// time. Acquire tries to get a strong pointer while removing an item from
// the pool, and Release turns the item back into a weak pointer. Segments of
// a collected Stack are returned to their Allocator by the segment cleanup.
type Pool struct {
	idle  []weak.Pointer[PoolItem]
	peaks map[uint64]*peakWindow
	opts  []Option
	mu    sync.Mutex
}

// peakWindowSize is the number of released peaks averaged per key.
const peakWindowSize = 50

// peakWindow is a running average of the peaks of Stacks released under one
// key. It decides the first segment size of new Stacks for that key.
type peakWindow struct {
	n   int
	sum int
}

func (w *peakWindow) add(peak int) {
	if w.n == peakWindowSize {
		// keep the old average as a single sample
		w.sum /= w.n
		w.n = 1
	}
	w.n++
	w.sum += peak
}

func (w *peakWindow) segmentSize() int {
	if w == nil || w.n == 0 {
		return 0
	}
	return w.sum / w.n
}

// PoolItem wraps a Stack for use in the pool
type PoolItem struct {
	Stack *Stack
	Key   uint64
}

// NewPool creates a new Pool. opts apply to every Stack the pool creates.
func NewPool(opts ...Option) *Pool {
	return &Pool{
		peaks: make(map[uint64]*peakWindow),
		opts:  opts,
	}
}

// Acquire returns the most recently released idle Stack, or a new one when
// the GC has collected them all. The key names a use case: a new Stack's
// first segment is sized to the average peak of Stacks released under it, so
// a typical use needs a single segment.
func (p *Pool) Acquire(key uint64) *PoolItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	for n := len(p.idle); n > 0; n = len(p.idle) {
		item := p.idle[n-1].Value()
		p.idle = p.idle[:n-1]
		if item != nil {
			item.Key = key
			return item
		}
	}

	opts := append([]Option(nil), p.opts...)
	if size := p.peaks[key].segmentSize(); size > 0 {
		opts = append(opts, WithMinSegmentSize(size))
	}
	return &PoolItem{Stack: New(opts...), Key: key}
}

// Release returns a Stack to the pool for reuse. The Stack must have no live
// frames. Its peak usage is recorded to size future Stacks for the same key.
func (p *Pool) Release(item *PoolItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release(item)
}

// ReleaseMany returns several Stacks to the pool under a single lock.
func (p *Pool) ReleaseMany(items []*PoolItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, item := range items {
		p.release(item)
	}
}

func (p *Pool) release(item *PoolItem) {
	if d := item.Stack.Depth(); d != 0 {
		panic(fmt.Errorf("%w: pooling a stack with %d frames live", ErrStackDiscipline, d))
	}
	w, ok := p.peaks[item.Key]
	if !ok {
		w = &peakWindow{}
		p.peaks[item.Key] = w
	}
	w.add(item.Stack.Peak())

	item.Key = 0
	p.idle = append(p.idle, weak.Make(item))
}

// Len returns the number of pooled entries, including ones the GC may
// already have collected.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool) setOptions(opts []Option) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
}
