// Package metrics exposes Prometheus metrics for the custody engine.
package metrics

import (
	"net/http"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openvault/custody/pkg/vault"
)

// Metrics collects counters for every engine event and serves them over
// a Prometheus registry.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	deposits            prometheus.Counter
	withdrawals         prometheus.Counter
	allocations         prometheus.Counter
	capitalReturns      prometheus.Counter
	settlements         prometheus.Counter
	feeWithdrawals      prometheus.Counter
	agentChanges        prometheus.Counter
	paramChanges        prometheus.Counter
	eventsDropped       prometheus.Counter
	lastEventUnixSecond prometheus.Gauge
}

// New creates a metrics collector with its own registry.
func New(namespace string) (*Metrics, error) {
	logger := log.Root().New("module", "metrics")
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Total number of completed deposits",
		}),
		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Total number of completed withdrawals",
		}),
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Total number of capital allocations to agents",
		}),
		capitalReturns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capital_returns_total",
			Help:      "Total number of capital returns from agents",
		}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Total number of settled bilateral trades",
		}),
		feeWithdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_withdrawals_total",
			Help:      "Total number of fee collections",
		}),
		agentChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_changes_total",
			Help:      "Total number of agent registry changes",
		}),
		paramChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "param_changes_total",
			Help:      "Total number of admin parameter changes",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_unrecognized_total",
			Help:      "Events with no matching counter",
		}),
		lastEventUnixSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Unix timestamp of the most recent event",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.deposits, m.withdrawals, m.allocations, m.capitalReturns,
		m.settlements, m.feeWithdrawals, m.agentChanges, m.paramChanges,
		m.eventsDropped, m.lastEventUnixSecond,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	logger.Info("metrics initialized", "namespace", namespace)
	return m, nil
}

// Observe updates counters for one engine event.
func (m *Metrics) Observe(ev vault.Event) {
	switch ev.Type {
	case vault.EventDeposit:
		m.deposits.Inc()
	case vault.EventWithdrawal:
		m.withdrawals.Inc()
	case vault.EventAllocation:
		m.allocations.Inc()
	case vault.EventCapitalReturn:
		m.capitalReturns.Inc()
	case vault.EventSettlement:
		m.settlements.Inc()
	case vault.EventFeeWithdrawal:
		m.feeWithdrawals.Inc()
	case vault.EventAgentAdded, vault.EventAgentRemoved:
		m.agentChanges.Inc()
	case vault.EventParamChanged, vault.EventPaused, vault.EventUnpaused:
		m.paramChanges.Inc()
	case vault.EventFeeAccrual:
		// Accruals piggyback on other operations; nothing to count.
	default:
		m.eventsDropped.Inc()
	}
	m.lastEventUnixSecond.Set(float64(ev.Timestamp.Unix()))
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
