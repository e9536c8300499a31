package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the enrollment backend counters.
type Metrics struct {
	CodesSent            prometheus.Counter
	MailFailures         prometheus.Counter
	Verifications        *prometheus.CounterVec
	EnrollmentsCompleted prometheus.Counter
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CodesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "emailissuer_codes_sent_total",
			Help: "Verification code mails handed to the mailer",
		}),
		MailFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "emailissuer_mail_failures_total",
			Help: "Verification code mails the mailer failed to send",
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emailissuer_verifications_total",
			Help: "Code verifications by result",
		}, []string{"result"}),
		EnrollmentsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "emailissuer_enrollments_completed_total",
			Help: "Enrollments reported done after a successful verification",
		}),
	}
}

func (m *Metrics) IncrementCodesSent() { m.CodesSent.Inc() }

func (m *Metrics) IncrementMailFailures() { m.MailFailures.Inc() }

func (m *Metrics) IncrementVerifications(result string) {
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementEnrollmentsCompleted() { m.EnrollmentsCompleted.Inc() }
