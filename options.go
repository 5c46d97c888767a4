// SPDX-License-Identifier: Apache-2.0

package secondstack

import (
	"io"
	"log/slog"
)

const (
	minSegmentSize = 1024 * 32 // 32KB

	defaultGrowthFactor = 1
)

// ReusePolicy decides what happens to vacated segments.
type ReusePolicy int

const (
	// ConsolidateOnEmpty retains every segment while frames are live. Once the
	// Stack is empty again it keeps only the largest segment, provided it can
	// hold the historical peak, and frees the rest.
	ConsolidateOnEmpty ReusePolicy = iota

	// RetainAll keeps every segment until Release is called.
	RetainAll
)

func (p ReusePolicy) String() string {
	switch p {
	case ConsolidateOnEmpty:
		return "consolidate-on-empty"
	case RetainAll:
		return "retain-all"
	default:
		return "unknown"
	}
}

// Option represents a configuration option for a Stack.
type Option func(*Stack)

// WithMinSegmentSize sets the minimum capacity of newly grown segments.
func WithMinSegmentSize(size int) Option {
	return func(s *Stack) {
		if size >= 0 {
			s.minSegmentSize = size
		}
	}
}

// WithGrowthFactor sets how large a new segment is relative to the Stack's
// current total capacity. The default of 1 doubles the total on each growth.
// A factor of 0 sizes segments to the request (or the minimum segment size).
// That gives up the logarithmic bound on segment count: a producer that
// reenters the Stack with ever larger reservations while a Buffer is live
// adds a segment per item until the Stack is empty again.
func WithGrowthFactor(factor int) Option {
	return func(s *Stack) {
		if factor >= 0 {
			s.growthFactor = factor
		}
	}
}

// WithAllocator sets the raw-memory provider for segments.
func WithAllocator(a Allocator) Option {
	return func(s *Stack) {
		if a != nil {
			s.alloc = a
		}
	}
}

// WithReusePolicy sets the policy applied when the Stack becomes empty.
func WithReusePolicy(p ReusePolicy) Option {
	return func(s *Stack) {
		s.policy = p
	}
}

// WithLogger enables debug logging of segment growth and reclamation.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stack) {
		if l != nil {
			s.logger = l
		}
	}
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
