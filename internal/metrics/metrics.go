package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type metricType string

const (
	counterType   metricType = "counter"
	gaugeType     metricType = "gauge"
	histogramType metricType = "histogram"
)

var latencyBucketsMs = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

type descriptor struct {
	Name    string
	Help    string
	Type    metricType
	Buckets []float64
}

type scalarSeries struct {
	Labels map[string]string
	Value  float64
}

type histogramSeries struct {
	Labels       map[string]string
	Count        uint64
	Sum          float64
	BucketCounts []uint64
}

type Registry struct {
	mu         sync.RWMutex
	descs      map[string]descriptor
	scalars    map[string]map[string]*scalarSeries
	histograms map[string]map[string]*histogramSeries
}

func NewRegistry() *Registry {
	r := &Registry{
		descs:      make(map[string]descriptor),
		scalars:    make(map[string]map[string]*scalarSeries),
		histograms: make(map[string]map[string]*histogramSeries),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	r.RegisterCounter("idc_job_runs_total", "Background job runs by job and status.")
	r.RegisterHistogram("idc_job_duration_ms", "Background job duration in milliseconds by job.", latencyBucketsMs)
	r.RegisterCounter("idc_panel_requests_total", "Panel API requests by operation and status.")
	r.RegisterHistogram("idc_panel_request_latency_ms", "Panel API latency in milliseconds by operation and status.", latencyBucketsMs)
	r.RegisterCounter("idc_batch_operations_total", "Per-instance batch operation results by operation and status.")
	r.RegisterCounter("idc_orders_created_total", "Orders created by server template.")
	r.RegisterCounter("idc_order_transitions_total", "Order status transition attempts by from, to and status.")
	r.RegisterCounter("idc_payments_total", "Payment gateway calls by method, operation and status.")
	r.RegisterCounter("idc_users_deleted_total", "Accounts deleted by administrators.")
	r.RegisterCounter("idc_captcha_verifications_total", "Captcha verification attempts by result.")
	r.RegisterGauge("idc_panel_instances", "Instances seen in the last mirror sync.")
}

func (r *Registry) RegisterCounter(name, help string) {
	r.register(descriptor{Name: name, Help: help, Type: counterType})
}

func (r *Registry) RegisterGauge(name, help string) {
	r.register(descriptor{Name: name, Help: help, Type: gaugeType})
}

func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	cp := append([]float64(nil), buckets...)
	sort.Float64s(cp)
	r.register(descriptor{Name: name, Help: help, Type: histogramType, Buckets: cp})
}

func (r *Registry) register(d descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[d.Name] = d
}

// IncCounter is a no-op for unregistered names.
func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.updateScalar(name, counterType, labels, func(s *scalarSeries) { s.Value++ })
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.updateScalar(name, gaugeType, labels, func(s *scalarSeries) { s.Value = value })
}

func (r *Registry) updateScalar(name string, want metricType, labels map[string]string, apply func(*scalarSeries)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.descs[name]; !ok || d.Type != want {
		return
	}
	seriesMap := r.scalars[name]
	if seriesMap == nil {
		seriesMap = make(map[string]*scalarSeries)
		r.scalars[name] = seriesMap
	}
	key := labelsKey(labels)
	series := seriesMap[key]
	if series == nil {
		series = &scalarSeries{Labels: cloneLabels(labels)}
		seriesMap[key] = series
	}
	apply(series)
}

func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.descs[name]
	if !ok || desc.Type != histogramType {
		return
	}
	seriesMap := r.histograms[name]
	if seriesMap == nil {
		seriesMap = make(map[string]*histogramSeries)
		r.histograms[name] = seriesMap
	}
	key := labelsKey(labels)
	series := seriesMap[key]
	if series == nil {
		series = &histogramSeries{
			Labels:       cloneLabels(labels),
			BucketCounts: make([]uint64, len(desc.Buckets)+1),
		}
		seriesMap[key] = series
	}
	idx := sort.SearchFloat64s(desc.Buckets, value)
	series.BucketCounts[idx]++
	series.Count++
	series.Sum += value
}

// ObserveSince records the milliseconds elapsed since start.
func (r *Registry) ObserveSince(name string, start time.Time, labels map[string]string) {
	r.ObserveHistogram(name, float64(time.Since(start).Milliseconds()), labels)
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descs))
	for name := range r.descs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		d := r.descs[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, d.Help, name, d.Type)

		if d.Type == histogramType {
			series := r.histograms[name]
			for _, key := range sortedKeys(series) {
				s := series[key]
				var cumulative uint64
				for i, n := range s.BucketCounts {
					cumulative += n
					withLE := cloneLabels(s.Labels)
					withLE["le"] = "+Inf"
					if i < len(d.Buckets) {
						withLE["le"] = trimFloat(d.Buckets[i])
					}
					writeSample(&b, name+"_bucket", withLE, strconv.FormatUint(cumulative, 10))
				}
				writeSample(&b, name+"_sum", s.Labels, trimFloat(s.Sum))
				writeSample(&b, name+"_count", s.Labels, strconv.FormatUint(s.Count, 10))
			}
			continue
		}

		series := r.scalars[name]
		for _, key := range sortedKeys(series) {
			s := series[key]
			writeSample(&b, name, s.Labels, trimFloat(s.Value))
		}
	}
	return b.String()
}

func sortedKeys[T any](m map[string]*T) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func writeSample(b *strings.Builder, name string, labels map[string]string, value string) {
	b.WriteString(name)
	if len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for key := range labels {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, key+`="`+escapeLabel(labels[key])+`"`)
		}
		b.WriteString("{" + strings.Join(pairs, ",") + "}")
	}
	b.WriteString(" " + value + "\n")
}

func labelsKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key + "=" + labels[key] + ";")
	}
	return b.String()
}

func cloneLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = NewRegistry()
)

func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}

func ResetDefaultForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = NewRegistry()
}
