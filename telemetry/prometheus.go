package telemetry

import (
	"context"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/keyworker-engine/keyworker"
)

var _ keyworker.EventSink = (*PrometheusSink)(nil)

// PrometheusSink records engine events as Prometheus metrics.
//
// Every event increments events_total{event}. A few events carry numbers
// worth keeping: the per-day movement query latency and prisoner count of
// the deallocation sweep, and the number of key workers returned to active.
type PrometheusSink struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	events         *prometheus.CounterVec
	failures       *prometheus.CounterVec
	queryLatency   prometheus.Histogram
	prisonersFound prometheus.Counter
	reactivated    prometheus.Counter
}

// NewPrometheus creates a sink registering its collectors on reg
// (prometheus.DefaultRegisterer if nil) under namespace ("keyworker" if empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "keyworker"
	}

	p := &PrometheusSink{reg: reg, namespace: namespace}
	p.ensureRegistered()
	return p
}

func (p *PrometheusSink) ensureRegistered() {
	p.once.Do(func() {
		p.events = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "events_total",
			Help:      "Total batch job events by event name.",
		}, []string{"event"})

		p.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "failures_total",
			Help:      "Total failed batch job runs by job.",
		}, []string{"job"})

		p.queryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "deallocation",
			Name:      "movement_query_seconds",
			Help:      "Latency of one day's movement fetch, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		})

		p.prisonersFound = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "deallocation",
			Name:      "prisoners_found_total",
			Help:      "Total movement records returned to the deallocation sweep.",
		})

		p.reactivated = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "status",
			Name:      "keyworkers_reactivated_total",
			Help:      "Total key workers returned to active from leave.",
		})

		p.reg.MustRegister(p.events)
		p.reg.MustRegister(p.failures)
		p.reg.MustRegister(p.queryLatency)
		p.reg.MustRegister(p.prisonersFound)
		p.reg.MustRegister(p.reactivated)
	})
}

func (p *PrometheusSink) Event(_ context.Context, name string, attrs map[string]string) {
	p.ensureRegistered()
	p.events.WithLabelValues(name).Inc()

	switch name {
	case keyworker.EventDeallocationCheckStep:
		if ms, ok := intAttr(attrs, "queryMs"); ok {
			p.queryLatency.Observe(float64(ms) / 1000)
		}
		if n, ok := intAttr(attrs, "prisonersFound"); ok {
			p.prisonersFound.Add(float64(n))
		}
	case keyworker.EventUpdateStatus:
		if ids, err := keyworker.ParseStaffIDs(attrs[keyworker.AttrKeyworkersUpdated]); err == nil {
			p.reactivated.Add(float64(len(ids)))
		}
	}
}

func (p *PrometheusSink) Failure(_ context.Context, _ error, attrs map[string]string) {
	p.ensureRegistered()
	job := attrs["job"]
	if job == "" {
		job = "unknown"
	}
	p.failures.WithLabelValues(job).Inc()
}

func intAttr(attrs map[string]string, key string) (int64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
