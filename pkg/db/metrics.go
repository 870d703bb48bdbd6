package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports pgxpool statistics. Values are read from the pool
// on every scrape.
type PoolCollector struct {
	pool *pgxpool.Pool

	conns           *prometheus.Desc
	maxConns        *prometheus.Desc
	acquires        *prometheus.Desc
	acquireSeconds  *prometheus.Desc
	emptyAcquires   *prometheus.Desc
	canceledAcquire *prometheus.Desc
}

// NewPoolCollector creates a collector for pool. serviceName becomes a
// constant "service" label.
func NewPoolCollector(pool *pgxpool.Pool, namespace, serviceName string) *PoolCollector {
	constLabels := prometheus.Labels{"service": serviceName}
	name := func(metric string) string {
		return prometheus.BuildFQName(namespace, "db_pool", metric)
	}

	return &PoolCollector{
		pool: pool,
		conns: prometheus.NewDesc(name("conns"),
			"Connections in the pool by state",
			[]string{"state"}, constLabels),
		maxConns: prometheus.NewDesc(name("max_conns"),
			"Maximum number of connections allowed in the pool",
			nil, constLabels),
		acquires: prometheus.NewDesc(name("acquires_total"),
			"Successful connection acquisitions",
			nil, constLabels),
		acquireSeconds: prometheus.NewDesc(name("acquire_seconds_total"),
			"Time spent acquiring connections",
			nil, constLabels),
		emptyAcquires: prometheus.NewDesc(name("empty_acquires_total"),
			"Acquisitions that had to wait because no idle connection was available",
			nil, constLabels),
		canceledAcquire: prometheus.NewDesc(name("canceled_acquires_total"),
			"Acquisitions abandoned because their context was canceled",
			nil, constLabels),
	}
}

// Describe sends all metric descriptors to the channel.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.acquireSeconds
	ch <- c.emptyAcquires
	ch <- c.canceledAcquire
}

// Collect reads the pool statistics.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	stats := c.pool.Stat()

	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}
	counter := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v)
	}

	gauge(c.conns, float64(stats.IdleConns()), "idle")
	gauge(c.conns, float64(stats.AcquiredConns()), "acquired")
	gauge(c.conns, float64(stats.ConstructingConns()), "constructing")
	gauge(c.maxConns, float64(stats.MaxConns()))
	counter(c.acquires, float64(stats.AcquireCount()))
	counter(c.acquireSeconds, stats.AcquireDuration().Seconds())
	counter(c.emptyAcquires, float64(stats.EmptyAcquireCount()))
	counter(c.canceledAcquire, float64(stats.CanceledAcquireCount()))
}

// RegisterPoolCollector registers a collector for pool with reg. If one is
// already registered under the same names, the existing collector is
// returned.
func RegisterPoolCollector(reg prometheus.Registerer, pool *pgxpool.Pool, namespace, serviceName string) (*PoolCollector, error) {
	collector := NewPoolCollector(pool, namespace, serviceName)
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*PoolCollector); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return collector, nil
}
