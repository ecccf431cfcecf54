package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 汇总缓存读写与淘汰指标。nil *Metrics 的所有方法均为空操作。
type Metrics struct {
	reads     *prometheus.CounterVec
	writes    *prometheus.CounterVec
	evictions prometheus.Counter
	size      prometheus.GaugeFunc
}

// newMetrics 以 dir 作为常量标签注册指标，同一 Registerer 可以承载多个缓存目录。
func newMetrics(reg prometheus.Registerer, dir string, sizeFn func() float64) (*Metrics, error) {
	labels := prometheus.Labels{"dir": dir}
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "objcache",
			Name:        "reads_total",
			Help:        "Cache reads by result (hit or miss).",
			ConstLabels: labels,
		}, []string{"result"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "objcache",
			Name:        "writes_total",
			Help:        "Cache write transactions by outcome (committed or aborted).",
			ConstLabels: labels,
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "objcache",
			Name:        "evictions_total",
			Help:        "Records evicted to stay within the size bound.",
			ConstLabels: labels,
		}),
		size: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "objcache",
			Name:        "size_bytes",
			Help:        "Bytes currently committed in the cache directory.",
			ConstLabels: labels,
		}, sizeFn),
	}

	for _, c := range []prometheus.Collector{m.reads, m.writes, m.evictions, m.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRead(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.reads.WithLabelValues("hit").Inc()
		return
	}
	m.reads.WithLabelValues("miss").Inc()
}

func (m *Metrics) observeWrite(committed bool) {
	if m == nil {
		return
	}
	if committed {
		m.writes.WithLabelValues("committed").Inc()
		return
	}
	m.writes.WithLabelValues("aborted").Inc()
}

func (m *Metrics) observeEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) unregister(reg prometheus.Registerer) {
	if m == nil {
		return
	}
	for _, c := range []prometheus.Collector{m.reads, m.writes, m.evictions, m.size} {
		reg.Unregister(c)
	}
}
