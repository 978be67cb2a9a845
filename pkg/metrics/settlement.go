package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts reservation and settlement outcomes.
type SettlementMetrics struct {
	reservations *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	anomalies    *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement counters on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_total",
		Help:      "Reservation attempts by payment method and result.",
	}, []string{"method", "result"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Settlement calls by resulting outcome.",
	}, []string{"outcome"})
	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_anomalies_total",
		Help:      "Confirmations that could not be honored.",
	}, []string{"kind"})
	reg.MustRegister(reservations, settlements, anomalies)
	return &SettlementMetrics{
		reservations: reservations,
		settlements:  settlements,
		anomalies:    anomalies,
	}
}

// IncReservation records one reservation attempt.
func (m *SettlementMetrics) IncReservation(method, result string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(method), normalizeLabel(result)).Inc()
}

// IncSettlement records one settlement call; outcome is completed, failed or noop.
func (m *SettlementMetrics) IncSettlement(outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncAnomaly records one anomaly of the given kind.
func (m *SettlementMetrics) IncAnomaly(kind string) {
	if m == nil || m.anomalies == nil {
		return
	}
	m.anomalies.WithLabelValues(normalizeLabel(kind)).Inc()
}
