// Copyright 2025 Joseph Cumines
//
// Metrics registry for the locator engine

package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names.
const (
	ResolveAttemptsTotal   = "uilocator_resolve_attempts_total"
	ResolveTotal           = "uilocator_resolve_total"
	ResolveDurationSeconds = "uilocator_resolve_duration_seconds"
	ActionsTotal           = "uilocator_actions_total"
	WaitsTotal             = "uilocator_waits_total"
	OverlaysActive         = "uilocator_overlays_active"
)

// Registry provides thread-safe metrics collection for the engine. It keeps
// simple in-memory counters, gauges and histograms that can be exported in
// Prometheus text format.
//
// All methods are safe to call on a nil *Registry, which records nothing.
type Registry struct {
	counters   map[string]*counter
	histograms map[string]*histogram
	gauges     map[string]*gauge
	mu         sync.RWMutex
}

type counter struct {
	values map[string]uint64 // label combo -> count
	mu     sync.RWMutex
}

type histogram struct {
	counts  map[string][]uint64 // label combo -> bucket counts, +Inf last
	sums    map[string]float64
	totals  map[string]uint64
	buckets []float64 // upper bounds
	mu      sync.RWMutex
}

type gauge struct {
	values map[string]float64
	mu     sync.RWMutex
}

// Resolution latencies, in seconds. Resolutions are bounded by caller
// timeouts that are typically a handful of seconds.
var resolveBuckets = []float64{
	0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// New creates a registry with the engine metrics registered.
func New() *Registry {
	m := &Registry{
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
		gauges:     make(map[string]*gauge),
	}
	m.registerCounter(ResolveAttemptsTotal)
	m.registerCounter(ResolveTotal)
	m.registerCounter(ActionsTotal)
	m.registerCounter(WaitsTotal)
	m.registerHistogram(ResolveDurationSeconds, resolveBuckets)
	m.registerGauge(OverlaysActive)
	return m
}

func (m *Registry) registerCounter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = &counter{values: make(map[string]uint64)}
}

func (m *Registry) registerHistogram(name string, buckets []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = &histogram{
		buckets: buckets,
		counts:  make(map[string][]uint64),
		sums:    make(map[string]float64),
		totals:  make(map[string]uint64),
	}
}

func (m *Registry) registerGauge(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = &gauge{values: make(map[string]float64)}
}

// Labels formats key/value pairs as key1="value1",key2="value2".
func Labels(kv ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kv[i])
		b.WriteString(`="`)
		b.WriteString(escapeLabel(kv[i+1]))
		b.WriteByte('"')
	}
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string { return labelEscaper.Replace(v) }

// IncrementCounter increments a registered counter for the label combination.
func (m *Registry) IncrementCounter(name, labels string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.values[labels]++
	c.mu.Unlock()
}

// ObserveHistogram records value in a registered histogram.
func (m *Registry) ObserveHistogram(name, labels string, value float64) {
	if m == nil {
		return
	}
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	counts, exists := h.counts[labels]
	if !exists {
		counts = make([]uint64, len(h.buckets)+1)
		h.counts[labels] = counts
	}
	h.sums[labels] += value
	h.totals[labels]++
	i := sort.SearchFloat64s(h.buckets, value)
	counts[i]++
}

// AddGauge adds delta to a registered gauge.
func (m *Registry) AddGauge(name, labels string, delta float64) {
	if m == nil {
		return
	}
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	g.mu.Lock()
	g.values[labels] += delta
	g.mu.Unlock()
}

// Gauge returns the current value of a gauge.
func (m *Registry) Gauge(name, labels string) float64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[labels]
}

// Counter returns the current value of a counter.
func (m *Registry) Counter(name, labels string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[labels]
}

// RecordResolveAttempt counts one traversal attempt of a chain, where chain
// is "primary" or "alternative".
func (m *Registry) RecordResolveAttempt(chain string) {
	m.IncrementCounter(ResolveAttemptsTotal, Labels("chain", chain))
}

// RecordResolve records the outcome and latency of one resolution.
func (m *Registry) RecordResolve(outcome string, d time.Duration) {
	m.IncrementCounter(ResolveTotal, Labels("outcome", outcome))
	m.ObserveHistogram(ResolveDurationSeconds, "", d.Seconds())
}

// RecordAction counts one action dispatch.
func (m *Registry) RecordAction(action, outcome string) {
	m.IncrementCounter(ActionsTotal, Labels("action", action, "outcome", outcome))
}

// RecordWait counts one completed wait.
func (m *Registry) RecordWait(condition, outcome string) {
	m.IncrementCounter(WaitsTotal, Labels("condition", condition, "outcome", outcome))
}

// AddOverlays adjusts the number of overlays on screen.
func (m *Registry) AddOverlays(delta int) {
	m.AddGauge(OverlaysActive, "", float64(delta))
}

// WritePrometheus writes all metrics in Prometheus text format, sorted by
// name and label combination.
func (m *Registry) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range sortedKeys(m.counters) {
		c := m.counters[name]
		c.mu.RLock()
		err := writeSeries(w, name, "counter", c.values, func(v uint64) string { return fmt.Sprint(v) })
		c.mu.RUnlock()
		if err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(m.gauges) {
		g := m.gauges[name]
		g.mu.RLock()
		err := writeSeries(w, name, "gauge", g.values, func(v float64) string { return fmt.Sprintf("%g", v) })
		g.mu.RUnlock()
		if err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(m.histograms) {
		h := m.histograms[name]
		h.mu.RLock()
		err := h.write(w, name)
		h.mu.RUnlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeSeries[V any](w io.Writer, name, kind string, values map[string]V, format func(V) string) error {
	if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", name, kind); err != nil {
		return err
	}
	for _, l := range sortedKeys(values) {
		if _, err := fmt.Fprintf(w, "%s%s %s\n", name, braced(l), format(values[l])); err != nil {
			return err
		}
	}
	return nil
}

func (h *histogram) write(w io.Writer, name string) error {
	if _, err := fmt.Fprintf(w, "# TYPE %s histogram\n", name); err != nil {
		return err
	}
	for _, l := range sortedKeys(h.counts) {
		prefix := ""
		if l != "" {
			prefix = l + ","
		}
		var cumulative uint64
		counts := h.counts[l]
		for i, bound := range h.buckets {
			cumulative += counts[i]
			if _, err := fmt.Fprintf(w, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, cumulative); err != nil {
				return err
			}
		}
		cumulative += counts[len(h.buckets)]
		if _, err := fmt.Fprintf(w, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, cumulative); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %g\n%s_count%s %d\n", name, braced(l), h.sums[l], name, braced(l), h.totals[l]); err != nil {
			return err
		}
	}
	return nil
}

func braced(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
