package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"poolEngine/internal/engine"
	"poolEngine/internal/model"
)

const namespace = "pool"

// Metrics records pool operation outcomes. It implements engine.Observer.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	shares     *prometheus.CounterVec
	fees       *prometheus.CounterVec

	reserveA    *prometheus.GaugeVec
	reserveB    *prometheus.GaugeVec
	shareSupply *prometheus.GaugeVec
	price       *prometheus.GaugeVec
	height      *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "number of committed operations",
		}, []string{"pool", "op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "number of rejected operations by reason",
		}, []string{"pool", "op", "reason"}),
		shares: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_total",
			Help:      "shares minted (P) or burned (G)",
		}, []string{"pool", "tag"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_total",
			Help:      "fees retained by single asset operations, in asset units",
		}, []string{"pool", "op"}),
		reserveA: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reserve_a",
			Help:      "reserve of asset A after the last operation",
		}, []string{"pool"}),
		reserveB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reserve_b",
			Help:      "reserve of asset B after the last operation",
		}, []string{"pool"}),
		shareSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "share_supply",
			Help:      "outstanding share supply",
		}, []string{"pool"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price",
			Help:      "last recorded price of A in B, scaled by 1e8",
		}, []string{"pool"}),
		height: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_height",
			Help:      "height of the last committed operation",
		}, []string{"pool"}),
	}
	errs := []error{}
	for _, c := range []prometheus.Collector{
		m.operations, m.failures, m.shares, m.fees,
		m.reserveA, m.reserveB, m.shareSupply, m.price, m.height,
	} {
		if err := m.registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return m, errors.Join(errs...)
}

// Registry exposes the registry for HTTP handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Committed(rec model.OperationRecord) {
	m.operations.WithLabelValues(rec.PoolID, rec.Op).Inc()
	m.shares.WithLabelValues(rec.PoolID, string(rec.Tag)).Add(float64(rec.Shares))
	if rec.Fee > 0 {
		m.fees.WithLabelValues(rec.PoolID, rec.Op).Add(float64(rec.Fee))
	}
	m.Observe(rec.PoolID, rec.ReserveA, rec.ReserveB, rec.ShareSupply, rec.Price)
	m.height.WithLabelValues(rec.PoolID).Set(float64(rec.Height))
}

func (m *Metrics) Failed(poolID, op string, err error) {
	m.failures.WithLabelValues(poolID, op, engine.Reason(err)).Inc()
}

// Observe sets the pool gauges, used when pools are loaded at startup.
func (m *Metrics) Observe(poolID string, reserveA, reserveB, supply, price int64) {
	m.reserveA.WithLabelValues(poolID).Set(float64(reserveA))
	m.reserveB.WithLabelValues(poolID).Set(float64(reserveB))
	m.shareSupply.WithLabelValues(poolID).Set(float64(supply))
	m.price.WithLabelValues(poolID).Set(float64(price))
}
