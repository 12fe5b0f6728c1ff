package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the dispatcher's Prometheus collectors.
type Metrics struct {
	Ticks        prometheus.Counter
	Dispatched   *prometheus.CounterVec // result=published|failed|invalid|interrupted
	SocialReady  prometheus.Counter
	Pending      prometheus.Gauge
	TickDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of dispatcher ticks run",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_posts_dispatched_total",
			Help: "Scheduled posts handled by the dispatcher, by result",
		}, []string{"result"}),
		SocialReady: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_social_ready_total",
			Help: "Social posts moved to ready",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_pending_posts",
			Help: "Pending scheduled posts seen by the last tick",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Wall time of one dispatcher tick",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.Dispatched, m.SocialReady, m.Pending, m.TickDuration)
	}
	return m
}
