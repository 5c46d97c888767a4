// SPDX-License-Identifier: Apache-2.0

package secondstack

// Stats is a snapshot of a Stack's segment bookkeeping.
type Stats struct {
	Segments       int    // Segments currently owned
	Capacity       int    // Total segment capacity in bytes
	Peak           int    // High-water mark of bytes held by live frames
	Growths        uint64 // Segments allocated
	Consolidations uint64 // Times the reuse policy shrank the segment list
	SegmentFrees   uint64 // Segments returned to the Allocator
}

// Stats returns a snapshot of s. Unlike the other accessors it may be called
// from any goroutine while s is in use.
func (s *Stack) Stats() Stats {
	return Stats{
		Segments:       int(s.stats.segments.Load()),
		Capacity:       int(s.stats.capacity.Load()),
		Peak:           int(s.stats.peak.Load()),
		Growths:        s.stats.growths.Load(),
		Consolidations: s.stats.consolidations.Load(),
		SegmentFrees:   s.stats.frees.Load(),
	}
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Segments:       s.Segments + o.Segments,
		Capacity:       s.Capacity + o.Capacity,
		Peak:           s.Peak + o.Peak,
		Growths:        s.Growths + o.Growths,
		Consolidations: s.Consolidations + o.Consolidations,
		SegmentFrees:   s.SegmentFrees + o.SegmentFrees,
	}
}

// Utilization returns the ratio of peak usage to capacity (0.0 to 1.0).
// Returns 0.0 if there is no capacity.
func (s Stats) Utilization() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Peak) / float64(s.Capacity)
}
