package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simnode"

// Metrics holds the node's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	reg *prometheus.Registry

	BlocksMined prometheus.Counter
	TxsMined    *prometheus.CounterVec
	ForkFetches *prometheus.CounterVec
	Requests    *prometheus.CounterVec
	Snapshots   prometheus.Gauge
	PendingTxs  prometheus.Gauge
	ChainHeight prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		BlocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_mined_total",
			Help:      "Number of blocks produced",
		}),
		TxsMined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs_mined_total",
			Help:      "Number of transactions included in blocks, by status",
		}, []string{"status"}),
		ForkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fork_fetches_total",
			Help:      "Number of reads served by the fork source, by kind and result",
		}, []string{"kind", "result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Number of dispatched requests, by method and result",
		}, []string{"method", "result"}),
		Snapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshots",
			Help:      "Number of live snapshots",
		}),
		PendingTxs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_txs",
			Help:      "Number of queued transactions",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Number of the head block",
		}),
	}
	reg.MustRegister(m.BlocksMined, m.TxsMined, m.ForkFetches, m.Requests, m.Snapshots, m.PendingTxs, m.ChainHeight)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Gather returns the current values, mostly for tests.
func (m *Metrics) Gather() (map[string]float64, error) {
	families, err := m.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, f := range families {
		var sum float64
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				sum += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				sum += metric.GetGauge().GetValue()
			}
		}
		out[f.GetName()] = sum
	}
	return out, nil
}

func (m *Metrics) ObserveBlock(number uint64, succeeded, failed int) {
	if m == nil {
		return
	}
	m.BlocksMined.Inc()
	m.TxsMined.WithLabelValues("success").Add(float64(succeeded))
	m.TxsMined.WithLabelValues("failure").Add(float64(failed))
	m.ChainHeight.Set(float64(number))
}

func (m *Metrics) ObserveForkFetch(kind string, err error) {
	if m == nil {
		return
	}
	m.ForkFetches.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveRequest(method string, err error) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, result(err)).Inc()
}

func (m *Metrics) SetSnapshots(n int) {
	if m == nil {
		return
	}
	m.Snapshots.Set(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingTxs.Set(float64(n))
}

func (m *Metrics) SetHeight(number uint64) {
	if m == nil {
		return
	}
	m.ChainHeight.Set(float64(number))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
