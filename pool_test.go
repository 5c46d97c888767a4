// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func use(t *testing.T, s *Stack, n int) {
	t.Helper()
	_, err := UninitSlice(s, n, func([]byte) bool { return true })
	require.NoError(t, err)
}

func TestPoolReuse(t *testing.T) {
	p := NewPool()

	item := p.Acquire(1)
	require.Equal(t, uint64(1), item.Key)
	use(t, item.Stack, 100)
	p.Release(item)
	require.Equal(t, uint64(0), item.Key)
	require.Equal(t, 1, p.Len())

	again := p.Acquire(2)
	require.Same(t, item, again)
	require.Equal(t, uint64(2), again.Key)
	require.Equal(t, 0, p.Len())
	runtime.KeepAlive(item)
}

func TestPoolSizesNewStacksFromPeak(t *testing.T) {
	p := NewPool(WithGrowthFactor(0))

	a := p.Acquire(7)
	b := p.Acquire(7)
	require.NotSame(t, a, b)
	use(t, a.Stack, 100)
	use(t, b.Stack, 300)
	p.ReleaseMany([]*PoolItem{a, b})
	require.Equal(t, 200, p.peaks[7].segmentSize())
	require.Equal(t, 0, p.peaks[8].segmentSize())

	// drain the pooled items so the next Acquire builds a new Stack
	got := []*PoolItem{p.Acquire(7), p.Acquire(7)}
	require.ElementsMatch(t, []*PoolItem{a, b}, got)

	c := p.Acquire(7)
	use(t, c.Stack, 1)
	require.Equal(t, 200, c.Stack.Cap())

	d := p.Acquire(8)
	use(t, d.Stack, 1)
	require.Equal(t, minSegmentSize, d.Stack.Cap())
	runtime.KeepAlive(got)
}

func TestPoolAverageResets(t *testing.T) {
	p := NewPool()
	for range peakWindowSize {
		item := p.Acquire(3)
		item.Stack.peak = 10
		p.Release(item)
	}
	require.Equal(t, 10, p.peaks[3].segmentSize())

	item := p.Acquire(3)
	item.Stack.peak = 1000
	p.Release(item)
	require.Equal(t, (10+1000)/2, p.peaks[3].segmentSize())
}

func TestPoolReleaseLiveStackPanics(t *testing.T) {
	p := NewPool()
	item := p.Acquire(0)

	requirePanicsWithErr(t, ErrStackDiscipline, func() {
		_, _ = UninitSlice(item.Stack, 8, func([]byte) bool {
			p.Release(item)
			return true
		})
	})
	require.Equal(t, 0, item.Stack.Depth())
	require.Equal(t, 0, p.Len())
}

func TestPoolConcurrent(t *testing.T) {
	p := NewPool(WithMinSegmentSize(256))

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
	)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				item := p.Acquire(uint64(g % 2))
				bad, err := UninitSlice(item.Stack, 16+i%300, func(buf []byte) int {
					for j := range buf {
						buf[j] = byte(g)
					}
					for j := range buf {
						if buf[j] != byte(g) {
							return j
						}
					}
					return -1
				})
				if err != nil || bad >= 0 {
					failures.Add(1)
				}
				p.Release(item)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failures.Load())
	require.LessOrEqual(t, p.Len(), 8)
}
