// Package metrics keeps process-wide counters and timers. They are exposed in
// the Prometheus text format and as a JSON snapshot on the API.
package metrics

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const (
	namespace = "ethfolio"
	nameLabel = "name"
)

// Recorder receives counter increments and timing samples
type Recorder interface {
	Increment(name string, by int64)
	Timing(name string, d time.Duration)
}

// Timer aggregates timing samples for one name
type Timer struct {
	Count   int64 `json:"count"`
	TotalMs int64 `json:"totalMs"`
}

// Snapshot is a point-in-time copy of the registry
type Snapshot struct {
	Counters map[string]int64 `json:"counters"`
	Timers   map[string]Timer `json:"timers"`
}

// Registry is a Recorder backed by a private Prometheus registry. Counter
// and timer names become the value of the "name" label.
type Registry struct {
	reg      *prometheus.Registry
	runtime  *prometheus.Registry
	counters *prometheus.CounterVec
	timers   *prometheus.SummaryVec
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{
		reg:     prometheus.NewRegistry(),
		runtime: prometheus.NewRegistry(),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Pipeline events by name.",
		}, []string{nameLabel}),
		timers: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Duration of timed operations by name.",
		}, []string{nameLabel}),
	}
	r.reg.MustRegister(r.counters, r.timers)
	r.runtime.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Default is the process-wide registry
var Default = NewRegistry()

// Increment adds by to the named counter. Counters never decrease, so
// negative values are ignored.
func (r *Registry) Increment(name string, by int64) {
	if by < 0 {
		return
	}
	r.counters.WithLabelValues(name).Add(float64(by))
}

// Timing records one sample for the named timer
func (r *Registry) Timing(name string, d time.Duration) {
	r.timers.WithLabelValues(name).Observe(d.Seconds())
}

// Snapshot gathers the current counters and timers
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Counters: make(map[string]int64),
		Timers:   make(map[string]Timer),
	}

	families, err := r.reg.Gather()
	if err != nil {
		slog.Warn("Failed to gather metrics", "error", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := labelValue(m.GetLabel())
			switch {
			case m.GetCounter() != nil:
				s.Counters[name] = int64(m.GetCounter().GetValue())
			case m.GetSummary() != nil:
				sum := m.GetSummary()
				s.Timers[name] = Timer{
					Count:   int64(sum.GetSampleCount()),
					TotalMs: int64(math.Round(sum.GetSampleSum() * 1000)),
				}
			}
		}
	}
	return s
}

// Handler serves the registry and the Go runtime collectors in the
// Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{r.reg, r.runtime}, promhttp.HandlerOpts{})
}

func labelValue(labels []*dto.LabelPair) string {
	for _, l := range labels {
		if l.GetName() == nameLabel {
			return l.GetValue()
		}
	}
	return ""
}

// Discard drops every sample
type Discard struct{}

func (Discard) Increment(string, int64)      {}
func (Discard) Timing(string, time.Duration) {}
