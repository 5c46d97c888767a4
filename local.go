// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// localStack is the shared Stack of one OS thread.
type localStack struct {
	stack *Stack
	// state is the number of nested calls using the Stack, or -1 once
	// TrimLocal has claimed it. A claimed entry never becomes usable again.
	state atomic.Int32
	item  *PoolItem // set for Stacks checked out of localPool
}

var (
	localStacks sync.Map // thread id -> *localStack
	localMu     sync.Mutex
	localOpts   []Option
	localPool   = NewPool()

	// counters of Stacks forgotten by TrimLocal
	retiredMu    sync.Mutex
	retiredStats Stats
)

// enterLocal pins the goroutine to its thread and returns the thread's Stack.
// No other goroutine can run on the thread until the matching exit, so the
// Stack is used exclusively, and nested calls resolve the same Stack.
func enterLocal() *localStack {
	runtime.LockOSThread()
	tid, ok := threadID()
	if !ok {
		runtime.UnlockOSThread()
		return enterPooled()
	}

	for {
		l := loadLocal(tid)
		for {
			n := l.state.Load()
			if n < 0 {
				// claimed by TrimLocal; resolve the thread's Stack again
				break
			}
			if l.state.CompareAndSwap(n, n+1) {
				return l
			}
		}
		runtime.Gosched()
	}
}

func loadLocal(tid int) *localStack {
	if v, ok := localStacks.Load(tid); ok {
		return v.(*localStack)
	}
	localMu.Lock()
	opts := localOpts
	localMu.Unlock()
	v, _ := localStacks.LoadOrStore(tid, &localStack{stack: New(opts...)})
	return v.(*localStack)
}

// enterPooled checks a Stack out of localPool. Without a thread id a nested
// call cannot find its caller's checkout, so every call gets its own Stack.
func enterPooled() *localStack {
	l := &localStack{item: localPool.Acquire(0)}
	l.stack = l.item.Stack
	l.state.Store(1)
	return l
}

func (l *localStack) exit() {
	if l.item != nil {
		localPool.Release(l.item)
		return
	}
	l.state.Add(-1)
	runtime.UnlockOSThread()
}

// ConfigureLocal sets the options of thread-local Stacks created from now
// on. Existing thread Stacks keep their configuration until TrimLocal
// forgets them.
func ConfigureLocal(opts ...Option) {
	localMu.Lock()
	localOpts = append([]Option(nil), opts...)
	localMu.Unlock()
	localPool.setOptions(localOpts)
}

// TrimLocal releases the segments of every thread-local Stack that is not
// in use and forgets it. Go reuses OS threads rather than ending them, so
// this takes the place of freeing a Stack at thread exit. It returns the
// number of Stacks released.
func TrimLocal() int {
	released := 0
	localStacks.Range(func(k, v any) bool {
		l := v.(*localStack)
		if !l.state.CompareAndSwap(0, -1) {
			return true
		}
		l.forget(k)
		released++
		return true
	})
	return released
}

// forget unregisters a claimed Stack and frees its segments. Callers still
// holding l see state -1 and look the thread's Stack up again.
func (l *localStack) forget(tid any) {
	localStacks.CompareAndDelete(tid, l)
	l.stack.Release()
	retire(l.stack.Stats())
}

func retire(st Stats) {
	retiredMu.Lock()
	retiredStats.Growths += st.Growths
	retiredStats.Consolidations += st.Consolidations
	retiredStats.SegmentFrees += st.SegmentFrees
	retiredMu.Unlock()
}

// LocalStats sums the statistics of all thread-local Stacks and returns the
// number of Stacks included. The counters also cover Stacks already released
// by TrimLocal, so they never decrease. It is safe to call from any
// goroutine.
func LocalStats() (Stats, int) {
	retiredMu.Lock()
	total := retiredStats
	retiredMu.Unlock()
	n := 0
	localStacks.Range(func(_, v any) bool {
		total = total.Add(v.(*localStack).stack.Stats())
		n++
		return true
	})
	return total, n
}
