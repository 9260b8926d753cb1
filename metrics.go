// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bpipe

import "github.com/prometheus/client_golang/prometheus"

// BufferCollector exports a BatchBuffer's lock-free counters
// (spec §5 "Atomic counters vs locks": metrics are atomics read off the
// hot path) as Prometheus metrics. Collect() only ever reads the
// buffer's atomics; it never touches the mutex or sample data, so
// scraping never contends with the producer/consumer.
type BufferCollector struct {
	buf  *BatchBuffer
	name string

	dropped   *prometheus.Desc
	timeouts  *prometheus.Desc
	occupancy *prometheus.Desc
	ringCap   *prometheus.Desc
}

// NewBufferCollector builds a BufferCollector labeled by name (typically
// "<filter>.<input-index>" or similar caller-chosen identifier).
func NewBufferCollector(name string, buf *BatchBuffer) *BufferCollector {
	constLabels := prometheus.Labels{"buffer": name}
	return &BufferCollector{
		buf:  buf,
		name: name,
		dropped: prometheus.NewDesc(
			"bpipe_buffer_dropped_by_producer_total",
			"Batches discarded by the buffer's overflow policy.",
			nil, constLabels,
		),
		timeouts: prometheus.NewDesc(
			"bpipe_buffer_timeouts_total",
			"Blocking operations that returned TIMEOUT.",
			nil, constLabels,
		),
		occupancy: prometheus.NewDesc(
			"bpipe_buffer_occupancy",
			"Current head-tail occupancy of the ring.",
			nil, constLabels,
		),
		ringCap: prometheus.NewDesc(
			"bpipe_buffer_ring_capacity",
			"Configured ring capacity (slots, one reserved empty).",
			nil, constLabels,
		),
	}
}

func (c *BufferCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dropped
	ch <- c.timeouts
	ch <- c.occupancy
	ch <- c.ringCap
}

func (c *BufferCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.buf.DroppedByProducer()))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(c.buf.Timeouts()))
	ch <- prometheus.MustNewConstMetric(c.occupancy, prometheus.GaugeValue, float64(c.buf.Occupancy()))
	ch <- prometheus.MustNewConstMetric(c.ringCap, prometheus.GaugeValue, float64(c.buf.RingCapacity()))
}

// FuncGauge names one value a FuncCollector exports; Value is called at
// scrape time only, never on a filter's hot path.
type FuncGauge struct {
	Name  string
	Help  string
	Value func() float64
}

// FuncCollector adapts a list of named accessor functions — e.g. an
// aligner's MaxPhaseCorrectionNs/SamplesInterpolated/SamplesEmitted, or
// a ZOH input's UnderrunCount/DiscontinuityCount — into a
// prometheus.Collector, so filter-specific packages can stay free of a
// direct Prometheus dependency while still being scrapeable from a
// launcher that wires metrics up (spec §6's "library surface" keeps
// wire/export concerns out of the filters themselves).
type FuncCollector struct {
	gauges      []FuncGauge
	constLabels prometheus.Labels
}

// NewFuncCollector builds a FuncCollector with constLabels attached to
// every exported metric (typically identifying the owning filter).
func NewFuncCollector(constLabels prometheus.Labels, gauges ...FuncGauge) *FuncCollector {
	return &FuncCollector{gauges: gauges, constLabels: constLabels}
}

func (c *FuncCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- prometheus.NewDesc(g.Name, g.Help, nil, c.constLabels)
	}
}

func (c *FuncCollector) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.gauges {
		desc := prometheus.NewDesc(g.Name, g.Help, nil, c.constLabels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, g.Value())
	}
}

// MetricsRegistry is the optional registration point a buffer or filter
// registers its collector into at construction time. A nil
// *MetricsRegistry is valid everywhere one is accepted: Register becomes
// a no-op, so metrics wiring is strictly opt-in (spec §6's "library
// surface" — filters never require a registry to run).
type MetricsRegistry struct {
	reg *prometheus.Registry
}

// NewMetricsRegistry builds an empty registry backed by a fresh
// prometheus.Registry (not the global DefaultRegisterer, so multiple
// independent graphs in one process never collide on metric names).
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{reg: prometheus.NewRegistry()}
}

// Registry exposes the underlying prometheus.Registry, e.g. for wiring
// into promhttp.HandlerFor.
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Register adds c to the registry. Called on a nil *MetricsRegistry, it
// is a no-op returning nil, so callers never need a presence check.
func (m *MetricsRegistry) Register(c prometheus.Collector) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(c)
}
