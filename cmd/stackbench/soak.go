// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	secondstack "github.com/wundergraph/go-secondstack"
	"github.com/wundergraph/go-secondstack/metrics"
)

type soakOptions struct {
	workers    int
	loops      int
	recursion  int
	allocator  string
	minSegment int
	seed       uint64
	shared     bool
	rate       float64 // loops per second, 0 for unlimited
}

var soakOpts soakOptions

func init() {
	cmd := newSoakCmd()
	cmd.Flags().IntVar(&soakOpts.workers, "workers", runtime.GOMAXPROCS(0), "Concurrent workers")
	cmd.Flags().IntVar(&soakOpts.loops, "loops", 200, "Workload trees to run")
	cmd.Flags().IntVar(&soakOpts.recursion, "recursion", 8, "Maximum nesting depth of a workload tree")
	cmd.Flags().StringVar(&soakOpts.allocator, "allocator", "go", "Segment allocator (go, mmap)")
	cmd.Flags().IntVar(&soakOpts.minSegment, "min-segment", 0, "Minimum segment size in bytes (0 for the default)")
	cmd.Flags().Uint64Var(&soakOpts.seed, "seed", 0, "Random seed (0 picks one)")
	cmd.Flags().BoolVar(&soakOpts.shared, "shared", true, "Also use the thread-local stacks")
	cmd.Flags().Float64Var(&soakOpts.rate, "rate", 0, "Maximum loops started per second (0 for unlimited)")
	rootCmd.AddCommand(cmd)
}

func newSoakCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "soak",
		Short: "Run randomized nested workloads and verify them",
		Long: `The soak command runs randomized trees of nested reservations, typed
values and buffered producers on a pool of workers, checking that no frame is
disturbed by the frames nested inside it.

Example:
  stackbench soak --workers 16 --loops 1000
  stackbench soak --allocator mmap --metrics-addr :9090 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			report, err := runSoak(ctx, soakOpts)
			if err != nil {
				return err
			}
			if jsonOut {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				report.print()
			}
			if report.Failures > 0 || report.Panics > 0 {
				return fmt.Errorf("soak failed: %d failed checks, %d panics", report.Failures, report.Panics)
			}
			return nil
		},
	}
}

type soakReport struct {
	RunID       string            `json:"run_id"`
	Seed        uint64            `json:"seed"`
	Loops       int               `json:"loops"`
	Ops         int64             `json:"ops"`
	Failures    int64             `json:"failures"`
	Panics      int64             `json:"panics"`
	Duration    time.Duration     `json:"duration_ns"`
	Stacks      secondstack.Stats `json:"stacks"`
	Local       secondstack.Stats `json:"local"`
	LocalStacks int               `json:"local_stacks"`
}

func (r *soakReport) print() {
	fmt.Printf("Soak %s finished in %s (seed %d)\n", r.RunID, r.Duration.Round(time.Millisecond), r.Seed)
	fmt.Printf("  loops:       %d\n", r.Loops)
	fmt.Printf("  operations:  %d\n", r.Ops)
	fmt.Printf("  failures:    %d\n", r.Failures)
	fmt.Printf("  panics:      %d\n", r.Panics)
	printStats("worker stacks", r.Stacks)
	printStats(fmt.Sprintf("thread stacks (%d)", r.LocalStacks), r.Local)
}

func printStats(title string, st secondstack.Stats) {
	fmt.Printf("%s:\n", title)
	fmt.Printf("  segments:       %d\n", st.Segments)
	fmt.Printf("  capacity:       %d bytes\n", st.Capacity)
	fmt.Printf("  peak:           %d bytes (%.1f%% of capacity)\n", st.Peak, st.Utilization()*100)
	fmt.Printf("  growths:        %d\n", st.Growths)
	fmt.Printf("  consolidations: %d\n", st.Consolidations)
	fmt.Printf("  segment frees:  %d\n", st.SegmentFrees)
}

func newAllocator(name string) (secondstack.Allocator, error) {
	switch name {
	case "go":
		return secondstack.NewGoAllocator(), nil
	case "mmap":
		return secondstack.NewMmapAllocator(), nil
	default:
		return nil, fmt.Errorf("unknown allocator %q", name)
	}
}

func runSoak(ctx context.Context, o soakOptions) (*soakReport, error) {
	if o.workers <= 0 || o.loops < 0 || o.recursion < 0 {
		return nil, errors.New("workers must be positive, loops and recursion not negative")
	}
	alloc, err := newAllocator(o.allocator)
	if err != nil {
		return nil, err
	}
	if o.seed == 0 {
		o.seed = rand.Uint64()
	}
	runID := uuid.NewString()
	log := logger.With("run", runID)
	opts := []secondstack.Option{
		secondstack.WithAllocator(alloc),
		secondstack.WithLogger(log),
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if o.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rate), 1)
	}
	if o.minSegment > 0 {
		opts = append(opts, secondstack.WithMinSegmentSize(o.minSegment))
	}

	secondstack.ConfigureLocal(opts...)
	defer func() {
		n := secondstack.TrimLocal()
		log.Debug("released thread stacks", "count", n)
		secondstack.ConfigureLocal()
	}()

	stacks := make([]*secondstack.Stack, o.workers)
	free := make(chan *secondstack.Stack, o.workers)
	for i := range stacks {
		stacks[i] = secondstack.New(opts...)
		free <- stacks[i]
	}
	stackPool := secondstack.NewPool(opts...)

	stopMetrics := serveMetrics(
		metrics.NewCollector("", metrics.Stacks(stacks...)),
		metrics.NewCollector("secondstack_thread", nil),
	)
	defer stopMetrics()

	var ops, failures, panics atomic.Int64
	workers, err := ants.NewPool(o.workers, ants.WithPanicHandler(func(v any) {
		panics.Add(1)
		log.Error("soak task panicked", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	defer workers.Release()

	log.Info("soak started",
		"workers", o.workers,
		"loops", o.loops,
		"recursion", o.recursion,
		"allocator", o.allocator,
		"seed", o.seed,
	)
	start := time.Now()
	var wg sync.WaitGroup
	loops := 0
	for i := range o.loops {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn("soak interrupted", "started", loops, "error", err)
			break
		}
		wg.Add(1)
		err := workers.Submit(func() {
			defer wg.Done()
			s := <-free
			defer func() { free <- s }()

			w := newWorkload(o.seed, i, stackPool, o.shared)
			if err := w.recurse(o.recursion, s); err != nil {
				failures.Add(1)
				log.Error("soak workload failed", "loop", i, "error", err)
			}
			ops.Add(int64(w.ops))
			failures.Add(int64(w.failures))
		})
		if err != nil {
			wg.Done()
			return nil, fmt.Errorf("submitting loop %d: %w", i, err)
		}
		loops++
	}
	wg.Wait()

	report := &soakReport{
		RunID:    runID,
		Seed:     o.seed,
		Loops:    loops,
		Ops:      ops.Load(),
		Failures: failures.Load(),
		Panics:   panics.Load(),
		Duration: time.Since(start),
	}
	report.Stacks, _ = metrics.Stacks(stacks...)()
	report.Local, report.LocalStacks = secondstack.LocalStats()
	log.Info("soak finished", "ops", report.Ops, "failures", report.Failures, "duration", report.Duration)
	return report, nil
}
