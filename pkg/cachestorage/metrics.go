package cachestorage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts finished operations of all caches sharing it.
type Metrics struct {
	ops *prometheus.CounterVec
}

// NewMetrics registers its collectors to reg. reg may be nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_total",
			Help: "The total number of finished cache operations",
		}, []string{"cache", "op", "result"}),
	}
	if reg != nil {
		if err := reg.Register(m.ops); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(cache, op string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(cache, op, ErrorCode(err).String()).Inc()
}
