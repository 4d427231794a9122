// Package metrics implements the runtime's counter/gauge/histogram
// collector and Prometheus text-format export (component C9). Series are
// modeled as custom prometheus.Collector implementations so the fixed
// 11-bucket histogram and its sliding-window, count-never-decrements
// eviction semantics (spec.md §4.9, §9) can be expressed exactly — the
// stock client_golang Histogram type is a plain cumulative counter and
// cannot represent that asymmetry. The pack's GoogleCloudPlatform
// prometheus-engine repo is the grounding source for this custom-collector
// style (registry + Collect-on-demand rather than pre-registered metric
// objects).
package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultBuckets is the fixed histogram bucket set (§4.9).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// DefaultWindowSize is the default bounded sliding-window capacity for a
// histogram's recorded samples.
const DefaultWindowSize = 10_000

// Collector holds every counter, gauge, and histogram series touched so
// far, and serves as a prometheus.Collector for export.
type Collector struct {
	mu sync.Mutex

	counters   map[string]*counterSeries
	gauges     map[string]*gaugeSeries
	histograms map[string]*histogramSeries

	windowSize int
}

// New constructs an empty Collector. windowSize <= 0 uses DefaultWindowSize.
func New(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Collector{
		counters:   make(map[string]*counterSeries),
		gauges:     make(map[string]*gaugeSeries),
		histograms: make(map[string]*histogramSeries),
		windowSize: windowSize,
	}
}

type counterSeries struct {
	mu     sync.Mutex
	help   string
	values map[string]float64 // labelKey -> value
	labels map[string]prometheus.Labels
}

type gaugeSeries struct {
	mu     sync.Mutex
	help   string
	values map[string]float64
	labels map[string]prometheus.Labels
}

type histogramSeries struct {
	mu      sync.Mutex
	buckets []float64
	window  []float64 // ring buffer of recorded values, oldest at index `start`
	start   int
	size    int
	cap     int
	sum     float64
	count   uint64 // lifetime count, never decremented
}

func labelKey(labels prometheus.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

// Increment adds by to the named counter under labels, auto-creating the
// series on first touch. by is added as given; there is no default delta.
func (c *Collector) Increment(name string, by float64, labels prometheus.Labels) {
	c.mu.Lock()
	s, ok := c.counters[name]
	if !ok {
		s = &counterSeries{values: make(map[string]float64), labels: make(map[string]prometheus.Labels)}
		c.counters[name] = s
	}
	c.mu.Unlock()

	key := labelKey(labels)
	s.mu.Lock()
	s.values[key] += by
	s.labels[key] = labels
	s.mu.Unlock()
}

// GetCounter returns the current value of a counter series (0 if absent).
func (c *Collector) GetCounter(name string, labels prometheus.Labels) float64 {
	c.mu.Lock()
	s, ok := c.counters[name]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[labelKey(labels)]
}

// SetGauge sets a gauge series; last write wins.
func (c *Collector) SetGauge(name string, value float64, labels prometheus.Labels) {
	c.mu.Lock()
	s, ok := c.gauges[name]
	if !ok {
		s = &gaugeSeries{values: make(map[string]float64), labels: make(map[string]prometheus.Labels)}
		c.gauges[name] = s
	}
	c.mu.Unlock()

	key := labelKey(labels)
	s.mu.Lock()
	s.values[key] = value
	s.labels[key] = labels
	s.mu.Unlock()
}

// GetGauge returns the current value of a gauge series (0 if absent).
func (c *Collector) GetGauge(name string, labels prometheus.Labels) float64 {
	c.mu.Lock()
	s, ok := c.gauges[name]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[labelKey(labels)]
}

// Observe records value into the named histogram, auto-creating it with
// DefaultBuckets on first touch. When the sliding window is full, the
// oldest sample is evicted and sum is decremented by it; count is never
// decremented (§4.9 — this asymmetry is intentional, not a bug; see §9
// open question: sum/count as an average is biased once eviction begins).
func (c *Collector) Observe(name string, value float64) {
	c.mu.Lock()
	h, ok := c.histograms[name]
	if !ok {
		h = &histogramSeries{
			buckets: DefaultBuckets,
			window:  make([]float64, c.windowSize),
			cap:     c.windowSize,
		}
		c.histograms[name] = h
	}
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < h.cap {
		h.window[(h.start+h.size)%h.cap] = value
		h.size++
	} else {
		evicted := h.window[h.start]
		h.sum -= evicted
		h.window[h.start] = value
		h.start = (h.start + 1) % h.cap
	}
	h.sum += value
	h.count++
}

// HistogramSnapshot is a point-in-time read of a histogram's bucket
// cumulative counts, sum, and lifetime count.
type HistogramSnapshot struct {
	BucketCounts map[float64]uint64 // cumulative, per DefaultBuckets
	Sum          float64
	Count        uint64 // lifetime count (never decremented)
}

// Snapshot returns the current state of a histogram series, or a zero
// snapshot if the series has never been touched.
func (c *Collector) Snapshot(name string) HistogramSnapshot {
	c.mu.Lock()
	h, ok := c.histograms[name]
	c.mu.Unlock()
	if !ok {
		return HistogramSnapshot{BucketCounts: map[float64]uint64{}}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[float64]uint64, len(h.buckets))
	for _, b := range h.buckets {
		counts[b] = 0
	}
	for i := 0; i < h.size; i++ {
		v := h.window[(h.start+i)%h.cap]
		for _, b := range h.buckets {
			if v <= b {
				counts[b]++
			}
		}
	}
	return HistogramSnapshot{BucketCounts: counts, Sum: h.sum, Count: h.count}
}

// Reset zeros all counters/gauges; for histograms it clears the window and
// sum/count (§4.9).
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters = make(map[string]*counterSeries)
	c.gauges = make(map[string]*gaugeSeries)
	c.histograms = make(map[string]*histogramSeries)
}

// ─── Prometheus export ───

// Describe implements prometheus.Collector. Series are dynamic, so no
// fixed descriptors are sent up front.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector, emitting one metric per series.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	counters := make(map[string]*counterSeries, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	gauges := make(map[string]*gaugeSeries, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}
	histograms := make(map[string]*histogramSeries, len(c.histograms))
	for k, v := range c.histograms {
		histograms[k] = v
	}
	c.mu.Unlock()

	for name, s := range counters {
		s.mu.Lock()
		for key, value := range s.values {
			desc := prometheus.NewDesc(name, name, nil, s.labels[key])
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, value)
		}
		s.mu.Unlock()
	}

	for name, s := range gauges {
		s.mu.Lock()
		for key, value := range s.values {
			desc := prometheus.NewDesc(name, name, nil, s.labels[key])
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value)
		}
		s.mu.Unlock()
	}

	for name := range histograms {
		snap := c.Snapshot(name)
		desc := prometheus.NewDesc(name, name, nil, nil)
		buckets := make(map[float64]uint64, len(DefaultBuckets))
		for _, b := range DefaultBuckets {
			buckets[b] = snap.BucketCounts[b]
		}
		ch <- prometheus.MustNewConstHistogram(desc, snap.Count, snap.Sum, buckets)
	}
}

// Export renders every series in Prometheus text exposition format.
func (c *Collector) Export() (string, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		return "", err
	}

	families, err := registry.Gather()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	encoder := expfmt.NewEncoder(&b, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
