// Package metrics содержит счётчики Prometheus для записи на курсы и сверки оплат.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courseplatform"

// Источники сверки оплаты.
const (
	SourceWebhook  = "webhook"
	SourceRedirect = "redirect"
	SourceSweep    = "sweep"
)

// Результаты сверки оплаты.
const (
	OutcomeActivated  = "activated"
	OutcomeCancelled  = "cancelled"
	OutcomeNoop       = "noop"
	OutcomeIgnored    = "ignored"
	OutcomeDuplicate  = "duplicate"
	OutcomeSuperseded = "superseded"
	OutcomeSkipped    = "skipped"
	OutcomeError      = "error"
)

// Виды созданных записей на курс.
const (
	KindFree = "free"
	KindPaid = "paid"
)

// Metrics хранит счётчики платформы. Методы безопасно вызывать на nil.
type Metrics struct {
	enrollmentsCreated *prometheus.CounterVec
	reconcile          *prometheus.CounterVec
	sweep              *prometheus.CounterVec
	providerErrors     *prometheus.CounterVec
}

// New создаёт счётчики и регистрирует их в registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		enrollmentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_created_total",
			Help:      "Enrollments created, by kind.",
		}, []string{"kind"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Payment reconciliation attempts, by source and outcome.",
		}, []string{"source", "outcome"}),
		sweep: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_total",
			Help:      "Stale pending enrollments processed by the sweep, by outcome.",
		}, []string{"outcome"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_provider_errors_total",
			Help:      "Failed payment provider calls, by operation.",
		}, []string{"operation"}),
	}

	registerer.MustRegister(m.enrollmentsCreated, m.reconcile, m.sweep, m.providerErrors)

	return m
}

// EnrollmentCreated учитывает новую запись на курс.
func (m *Metrics) EnrollmentCreated(kind string) {
	if m == nil {
		return
	}
	m.enrollmentsCreated.WithLabelValues(kind).Inc()
}

// Reconciled учитывает результат сверки оплаты.
func (m *Metrics) Reconciled(source, outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(source, outcome).Inc()
}

// Swept учитывает результат обработки одной записи при сверке.
func (m *Metrics) Swept(outcome string) {
	if m == nil {
		return
	}
	m.sweep.WithLabelValues(outcome).Inc()
}

// ProviderError учитывает неудачный вызов платёжного провайдера.
func (m *Metrics) ProviderError(operation string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(operation).Inc()
}
