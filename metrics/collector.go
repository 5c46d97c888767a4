// SPDX-License-Identifier: Apache-2.0

// Package metrics exports Stack statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	secondstack "github.com/wundergraph/go-secondstack"
)

const defaultNamespace = "secondstack"

// Source returns a statistics snapshot and the number of Stacks it covers.
type Source func() (secondstack.Stats, int)

// Stacks returns a Source summing the given Stacks. Stats snapshots are safe
// to take while the Stacks are in use.
func Stacks(stacks ...*secondstack.Stack) Source {
	return func() (secondstack.Stats, int) {
		var total secondstack.Stats
		for _, s := range stacks {
			total = total.Add(s.Stats())
		}
		return total, len(stacks)
	}
}

// Collector is a prometheus.Collector reading a Source on every scrape.
type Collector struct {
	source Source

	stacks         *prometheus.Desc
	segments       *prometheus.Desc
	capacity       *prometheus.Desc
	peak           *prometheus.Desc
	utilization    *prometheus.Desc
	growths        *prometheus.Desc
	consolidations *prometheus.Desc
	frees          *prometheus.Desc
}

// NewCollector creates a Collector for source. A nil source reports the
// thread-local Stacks; an empty namespace defaults to "secondstack".
func NewCollector(namespace string, source Source) *Collector {
	if source == nil {
		source = secondstack.LocalStats
	}
	if namespace == "" {
		namespace = defaultNamespace
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		source:         source,
		stacks:         desc("stacks", "Number of stacks included in the snapshot."),
		segments:       desc("segments", "Segments currently owned by the stacks."),
		capacity:       desc("capacity_bytes", "Total segment capacity in bytes."),
		peak:           desc("peak_bytes", "Sum of the stacks' high-water marks in bytes."),
		utilization:    desc("utilization_ratio", "Peak bytes divided by capacity bytes."),
		growths:        desc("segment_growths_total", "Segments allocated."),
		consolidations: desc("consolidations_total", "Times an empty stack shrank its segment list."),
		frees:          desc("segment_frees_total", "Segments returned to their allocator."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stacks
	ch <- c.segments
	ch <- c.capacity
	ch <- c.peak
	ch <- c.utilization
	ch <- c.growths
	ch <- c.consolidations
	ch <- c.frees
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st, n := c.source()

	ch <- prometheus.MustNewConstMetric(c.stacks, prometheus.GaugeValue, float64(n))
	ch <- prometheus.MustNewConstMetric(c.segments, prometheus.GaugeValue, float64(st.Segments))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
	ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(st.Peak))
	ch <- prometheus.MustNewConstMetric(c.utilization, prometheus.GaugeValue, st.Utilization())
	ch <- prometheus.MustNewConstMetric(c.growths, prometheus.CounterValue, float64(st.Growths))
	ch <- prometheus.MustNewConstMetric(c.consolidations, prometheus.CounterValue, float64(st.Consolidations))
	ch <- prometheus.MustNewConstMetric(c.frees, prometheus.CounterValue, float64(st.SegmentFrees))
}
