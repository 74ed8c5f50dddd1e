package memo

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports cache operations as Prometheus metrics.
type PrometheusObserver struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusObserver registers memo metrics under namespace on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memo_ops_total",
			Help:      "Cache operations by op, driver and result (hit, miss, error).",
		}, []string{"op", "driver", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memo_op_duration_seconds",
			Help:      "Cache operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "driver"}),
	}
	if err := reg.Register(o.ops); err != nil {
		return nil, err
	}
	if err := reg.Register(o.duration); err != nil {
		return nil, err
	}
	return o, nil
}

// OnCacheOp implements Observer.
func (o *PrometheusObserver) OnCacheOp(_ context.Context, op string, _ string, hit bool, err error, dur time.Duration, driver Driver) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	o.ops.WithLabelValues(op, string(driver), result).Inc()
	o.duration.WithLabelValues(op, string(driver)).Observe(dur.Seconds())
}
