// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// u32 is a big-endian uint32 with an alignment of 1.
type u32 [4]byte

func mk(i int) u32 {
	var v u32
	binary.BigEndian.PutUint32(v[:], uint32(i))
	return v
}

func (v u32) int() int {
	return int(binary.BigEndian.Uint32(v[:]))
}

func rangeOf(n int) []u32 {
	out := make([]u32, n)
	for i := range out {
		out[i] = mk(i)
	}
	return out
}

func ints(vs []u32) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = v.int()
	}
	return out
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// dropItem reports its Drop to the dropTracker named by tracker.
type dropItem struct {
	tracker [4]byte
	id      u32
}

func (d *dropItem) Drop() {
	v, ok := trackers.Load(binary.BigEndian.Uint32(d.tracker[:]))
	if !ok {
		panic("dropItem: unknown tracker")
	}
	tr := v.(*dropTracker)
	tr.mu.Lock()
	tr.drops[d.id.int()]++
	tr.mu.Unlock()
	if hook := tr.onDrop; hook != nil {
		hook(d.id.int())
	}
}

var (
	trackers   sync.Map // uint32 -> *dropTracker
	trackerSeq atomic.Uint32
)

type dropTracker struct {
	id     uint32
	mu     sync.Mutex
	made   int
	drops  map[int]int
	onDrop func(id int)
}

func newDropTracker(t testing.TB) *dropTracker {
	tr := &dropTracker{
		id:    trackerSeq.Add(1),
		drops: make(map[int]int),
	}
	trackers.Store(tr.id, tr)
	t.Cleanup(func() { trackers.Delete(tr.id) })
	return tr
}

func (tr *dropTracker) item(i int) dropItem {
	tr.mu.Lock()
	tr.made++
	tr.mu.Unlock()
	var d dropItem
	binary.BigEndian.PutUint32(d.tracker[:], tr.id)
	d.id = mk(i)
	return d
}

// producer returns n items with the given hint.
func (tr *dropTracker) producer(n int, hint SizeHint) Producer[dropItem] {
	i := 0
	return FromFunc(func() (dropItem, bool) {
		if i == n {
			return dropItem{}, false
		}
		i++
		return tr.item(i - 1), true
	}, hint)
}

// requireDroppedOnce checks that every item made was dropped exactly once.
func (tr *dropTracker) requireDroppedOnce(t testing.TB) {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.drops, tr.made)
	for id, n := range tr.drops {
		require.Equalf(t, 1, n, "item %d dropped %d times", id, n)
	}
}

// requirePanicsWithErr runs fn and checks that it panics with an error
// matching target.
func requirePanicsWithErr(t testing.TB, target error, fn func()) {
	t.Helper()
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	require.NotNil(t, recovered, "expected a panic")
	err, ok := recovered.(error)
	require.Truef(t, ok, "panic value %v is not an error", recovered)
	require.Truef(t, errors.Is(err, target), "panic %v is not %v", err, target)
}

// countingAllocator counts Allocate calls.
type countingAllocator struct {
	GoAllocator
	allocs atomic.Int64
	frees  atomic.Int64 // segment cleanups may call Free from another goroutine
}

func (a *countingAllocator) Allocate(size, alignment int) ([]byte, error) {
	a.allocs.Add(1)
	return a.GoAllocator.Allocate(size, alignment)
}

func (a *countingAllocator) Free([]byte) {
	a.frees.Add(1)
}

func asBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var x T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(x)))
}

func addrOf[T any](s []T) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(s)))
}
