// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	secondstack "github.com/wundergraph/go-secondstack"
	"github.com/wundergraph/go-secondstack/metrics"
)

type benchOptions struct {
	size       int
	iterations int
	allocator  string
}

var benchOpts benchOptions

func init() {
	cmd := newBenchCmd()
	cmd.Flags().IntVar(&benchOpts.size, "size", 1000, "Elements per operation")
	cmd.Flags().IntVar(&benchOpts.iterations, "iterations", 10000, "Operations per case")
	cmd.Flags().StringVar(&benchOpts.allocator, "allocator", "go", "Segment allocator (go, mmap)")
	rootCmd.AddCommand(cmd)
}

func newBenchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Compare stack buffers with heap slices",
		Long: `The bench command times collecting records into a stack Buffer
against appending them to a heap slice, and reserving scratch space with
UninitSlice against make.

Example:
  stackbench bench --size 4096 --iterations 100000
  stackbench bench --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := runBench(benchOpts)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(results)
			}
			fmt.Printf("%-10s %14s %14s\n", "case", "ns/op", "allocs/op")
			for _, r := range results {
				fmt.Printf("%-10s %14.1f %14.2f\n", r.Name, r.NsPerOp, r.AllocsPerOp)
			}
			return nil
		},
	}
}

type benchResult struct {
	Name        string  `json:"name"`
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"ns_per_op"`
	AllocsPerOp float64 `json:"allocs_per_op"`
}

func measure(name string, iterations int, fn func() error) (benchResult, error) {
	// warm up so segment growth is not measured
	if err := fn(); err != nil {
		return benchResult{}, fmt.Errorf("%s: %w", name, err)
	}
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()
	for range iterations {
		if err := fn(); err != nil {
			return benchResult{}, fmt.Errorf("%s: %w", name, err)
		}
	}
	elapsed := time.Since(start)
	runtime.ReadMemStats(&after)
	return benchResult{
		Name:        name,
		Iterations:  iterations,
		NsPerOp:     float64(elapsed.Nanoseconds()) / float64(iterations),
		AllocsPerOp: float64(after.Mallocs-before.Mallocs) / float64(iterations),
	}, nil
}

var sink uint64

func runBench(o benchOptions) ([]benchResult, error) {
	if o.size <= 0 || o.iterations <= 0 {
		return nil, errors.New("size and iterations must be positive")
	}
	alloc, err := newAllocator(o.allocator)
	if err != nil {
		return nil, err
	}
	s := secondstack.New(secondstack.WithAllocator(alloc), secondstack.WithLogger(logger))
	defer s.Release()

	stopMetrics := serveMetrics(metrics.NewCollector("", metrics.Stacks(s)))
	defer stopMetrics()

	data := make([]byte, o.size*len(record{}))
	for i := range data {
		data[i] = byte(rand.Uint32())
	}
	produce := func() func() (record, bool) {
		i := 0
		return func() (record, bool) {
			if i == o.size {
				return record{}, false
			}
			i++
			return makeRecord(i, uint64(i)), true
		}
	}
	sum := func(items []record) uint64 {
		var total uint64
		for _, r := range items {
			total += uint64(r.index())
		}
		return total
	}

	cases := []struct {
		name string
		fn   func() error
	}{
		{"buffer", func() error {
			v, err := secondstack.Buffer(s, secondstack.FromFunc(produce(), secondstack.SizeHint{}), sum)
			sink += v
			return err
		}},
		{"append", func() error {
			var items []record
			next := produce()
			for r, ok := next(); ok; r, ok = next() {
				items = append(items, r)
			}
			sink += sum(items)
			return nil
		}},
		{"uninit", func() error {
			v, err := secondstack.UninitSlice(s, len(data), func(b []byte) uint64 {
				copy(b, data)
				return uint64(b[len(b)/2])
			})
			sink += v
			return err
		}},
		{"make", func() error {
			b := make([]byte, len(data))
			copy(b, data)
			sink += uint64(b[len(b)/2])
			return nil
		}},
		{"reader", func() error {
			v, err := readerChecksum(s, data)
			sink += v
			return err
		}},
	}

	results := make([]benchResult, 0, len(cases))
	for _, c := range cases {
		r, err := measure(c.name, o.iterations, c.fn)
		if err != nil {
			return nil, err
		}
		logger.Debug("bench case finished", "case", r.Name, "ns_per_op", r.NsPerOp)
		results = append(results, r)
	}
	st := s.Stats()
	logger.Info("bench finished", "segments", st.Segments, "capacity", st.Capacity, "peak", st.Peak)
	return results, nil
}
