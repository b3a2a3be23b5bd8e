package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tidefeed/gateway/internal/observability"
)

// Recorder bridges the observability.Metrics interface onto an OpenTelemetry
// meter. Instruments are created lazily on first use and cached by name.
type Recorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

// NewRecorder constructs a Recorder emitting through the provided meter.
func NewRecorder(meter metric.Meter) *Recorder {
	return &Recorder{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

var _ observability.Metrics = (*Recorder)(nil)

// IncCounter adds value to the named counter.
func (r *Recorder) IncCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	counter, ok := r.counters[name]
	if !ok {
		var err error
		counter, err = r.meter.Float64Counter(name)
		if err != nil {
			r.mu.Unlock()
			observability.Log().Warn("create counter failed",
				observability.F("name", name),
				observability.F("error", err))
			return
		}
		r.counters[name] = counter
	}
	r.mu.Unlock()
	counter.Add(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

// ObserveHistogram records value into the named histogram.
func (r *Recorder) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	histogram, ok := r.histograms[name]
	if !ok {
		var err error
		histogram, err = r.meter.Float64Histogram(name)
		if err != nil {
			r.mu.Unlock()
			observability.Log().Warn("create histogram failed",
				observability.F("name", name),
				observability.F("error", err))
			return
		}
		r.histograms[name] = histogram
	}
	r.mu.Unlock()
	histogram.Record(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

// SetGauge records the latest value of the named gauge.
func (r *Recorder) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	gauge, ok := r.gauges[name]
	if !ok {
		var err error
		gauge, err = r.meter.Float64Gauge(name)
		if err != nil {
			r.mu.Unlock()
			observability.Log().Warn("create gauge failed",
				observability.F("name", name),
				observability.F("error", err))
			return
		}
		r.gauges[name] = gauge
	}
	r.mu.Unlock()
	gauge.Record(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

func labelAttrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels)+1)
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	attrs = append(attrs, AttrEnvironment.String(Environment()))
	return attrs
}
