// Package metrics exposes Prometheus collectors for the intake pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons.
const (
	ReasonDomain = "domain"
	ReasonParse  = "parse"
)

// Metrics bundles the pipeline collectors. All methods are safe on a nil
// receiver so components can be wired without metrics in tests.
type Metrics struct {
	MailAcceptedTotal    prometheus.Counter
	MailRejectedTotal    *prometheus.CounterVec
	PersistAttemptsTotal prometheus.Counter
	PersistRetriesTotal  prometheus.Counter
	PersistInFlight      prometheus.Gauge
	Subscribers          prometheus.Gauge
	EventsDeliveredTotal prometheus.Counter
	EventsDroppedTotal   prometheus.Counter
}

// New registers the collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MailAcceptedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail2mongo_mail_accepted_total",
			Help: "Total number of mail transactions accepted past admission and parsing",
		}),
		MailRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail2mongo_mail_rejected_total",
			Help: "Total number of mail transactions rejected, by reason",
		}, []string{"reason"}),
		PersistAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail2mongo_persist_attempts_total",
			Help: "Total number of store insert attempts",
		}),
		PersistRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail2mongo_persist_retries_total",
			Help: "Total number of store insert retries after a transient failure",
		}),
		PersistInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mail2mongo_persist_inflight",
			Help: "Number of records currently awaiting durable persistence",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mail2mongo_subscribers",
			Help: "Current number of live realtime subscriptions",
		}),
		EventsDeliveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail2mongo_events_delivered_total",
			Help: "Total number of events delivered to realtime subscribers",
		}),
		EventsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail2mongo_events_dropped_total",
			Help: "Total number of events dropped because a subscriber channel was full or gone",
		}),
	}
}

func (m *Metrics) MailAccepted() {
	if m != nil {
		m.MailAcceptedTotal.Inc()
	}
}

func (m *Metrics) MailRejected(reason string) {
	if m != nil {
		m.MailRejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) PersistAttempt() {
	if m != nil {
		m.PersistAttemptsTotal.Inc()
	}
}

func (m *Metrics) PersistRetry() {
	if m != nil {
		m.PersistRetriesTotal.Inc()
	}
}

func (m *Metrics) PersistStarted() {
	if m != nil {
		m.PersistInFlight.Inc()
	}
}

func (m *Metrics) PersistFinished() {
	if m != nil {
		m.PersistInFlight.Dec()
	}
}

func (m *Metrics) SetSubscribers(count int) {
	if m != nil {
		m.Subscribers.Set(float64(count))
	}
}

func (m *Metrics) EventDelivered() {
	if m != nil {
		m.EventsDeliveredTotal.Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.EventsDroppedTotal.Inc()
	}
}
